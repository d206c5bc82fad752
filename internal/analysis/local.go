package analysis

import (
	"context"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

// Searcher is the engine surface LocalBackend drives. *uci.Pool
// satisfies it; tests substitute scripted fakes.
type Searcher interface {
	Submit(ctx context.Context, req uci.Request) (uci.SearchResult, error)
	Close() error
}

// LocalBackend runs analysis on a pool of engine processes and applies
// the rules library for position parsing, legality, and SAN rendering.
type LocalBackend struct {
	engine Searcher
	log    *zap.Logger
}

func NewLocalBackend(engine Searcher, log *zap.Logger) *LocalBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalBackend{engine: engine, log: log}
}

func newGameFromFEN(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return nchess.NewGame(option), nil
}

// AnalyzePosition evaluates one position with the requested number of
// engine lines. Results are rank-ordered with scores normalized to the
// side to move.
func (b *LocalBackend) AnalyzePosition(ctx context.Context, fen string, lim uci.Limits, lines int) (PositionAnalysis, error) {
	game, err := newGameFromFEN(fen)
	if err != nil {
		return PositionAnalysis{}, err
	}
	if lines <= 0 {
		lines = 1
	}
	pos := game.Position()
	side := pos.Turn()

	res, err := b.engine.Submit(ctx, uci.Request{FEN: fen, Limits: lim, MultiPV: lines})
	if err != nil {
		return PositionAnalysis{}, err
	}

	if len(res.Reports) == 0 {
		if res.BestMove == "" {
			if len(game.ValidMoves()) == 0 {
				return PositionAnalysis{}, ErrNoLegalContinuation
			}
			return PositionAnalysis{}, fmt.Errorf("engine returned no lines for position with legal moves: %s", fen)
		}
		// Minimal but valid engine output: a bestmove with no scored
		// lines. Surface the move without an evaluation.
		return PositionAnalysis{
			FEN:        fen,
			SideToMove: side,
			BestMoves:  []CandidateMove{b.candidate(pos, res.BestMove, nil)},
		}, nil
	}

	analysis := PositionAnalysis{FEN: fen, SideToMove: side}
	for _, report := range res.Reports {
		if len(report.PV) == 0 {
			continue
		}
		eval := Normalize(report.Score, side)
		analysis.BestMoves = append(analysis.BestMoves,
			b.candidate(pos, report.PV[0], &eval))
	}
	if len(analysis.BestMoves) == 0 {
		return PositionAnalysis{}, fmt.Errorf("engine lines carried no moves for %s", fen)
	}
	return analysis, nil
}

func (b *LocalBackend) candidate(pos *nchess.Position, moveUCI string, eval *NormalizedEval) CandidateMove {
	c := CandidateMove{MoveUCI: moveUCI, MoveSAN: moveUCI, Eval: eval}
	mv, err := nchess.UCINotation{}.Decode(pos, moveUCI)
	if err != nil {
		b.log.Warn("engine move did not decode", zap.String("move", moveUCI), zap.Error(err))
		return c
	}
	c.MoveSAN = nchess.AlgebraicNotation{}.Encode(pos, mv)
	return c
}

// EvaluateMove grades a played move: single-line analysis before and
// after with both evaluations in the mover's perspective. The
// after-position score is the opponent's to move, so its centipawn
// value is negated once back to the mover. Illegal moves return
// IsLegal false without consulting the engine.
func (b *LocalBackend) EvaluateMove(ctx context.Context, fen, moveUCI string, lim uci.Limits) (MoveEvaluation, error) {
	game, err := newGameFromFEN(fen)
	if err != nil {
		return MoveEvaluation{}, err
	}
	pos := game.Position()
	side := pos.Turn()

	illegal := MoveEvaluation{FEN: fen, MoveUCI: moveUCI, MoveSAN: moveUCI, IsLegal: false}
	mv, err := nchess.UCINotation{}.Decode(pos, moveUCI)
	if err != nil {
		return illegal, nil
	}
	if err := game.Move(mv, nil); err != nil {
		return illegal, nil
	}

	out := MoveEvaluation{
		FEN:     fen,
		MoveUCI: moveUCI,
		MoveSAN: nchess.AlgebraicNotation{}.Encode(pos, mv),
		IsLegal: true,
	}

	before, err := b.engine.Submit(ctx, uci.Request{FEN: fen, Limits: lim, MultiPV: 1})
	if err != nil {
		return MoveEvaluation{}, err
	}
	if len(before.Reports) > 0 {
		report := before.Reports[0]
		eval := Normalize(report.Score, side)
		out.EvalBefore = &eval
		if len(report.PV) > 0 {
			best := b.candidate(pos, report.PV[0], &eval)
			out.BestMoveUCI = best.MoveUCI
			out.BestMoveSAN = best.MoveSAN
		}
	}
	if out.BestMoveUCI == "" && before.BestMove != "" {
		best := b.candidate(pos, before.BestMove, nil)
		out.BestMoveUCI = best.MoveUCI
		out.BestMoveSAN = best.MoveSAN
	}

	after, err := b.engine.Submit(ctx, uci.Request{FEN: game.FEN(), Limits: lim, MultiPV: 1})
	if err != nil {
		return MoveEvaluation{}, err
	}
	if len(after.Reports) > 0 {
		eval := Normalize(after.Reports[0].Score, side)
		out.EvalAfter = &eval
	}

	if out.EvalBefore != nil && out.EvalAfter != nil {
		out.DropCP = Drop(*out.EvalBefore, *out.EvalAfter)
	}
	return out, nil
}

func (b *LocalBackend) Close() error {
	return b.engine.Close()
}

package blunder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/blunder-trainer/internal/analysis"
	"github.com/park285/blunder-trainer/internal/engine/uci"
)

const (
	DefaultMultiPV     = 3
	DefaultThresholdCP = 100
)

// ErrPlayerNotInGame is returned when the tracked username matches
// neither side of a game.
var ErrPlayerNotInGame = errors.New("player not found in game")

// WalkerConfig tunes one walk run.
type WalkerConfig struct {
	MultiPV     int
	ThresholdCP int
	Limits      uci.Limits
}

func (c WalkerConfig) withDefaults() WalkerConfig {
	if c.MultiPV <= 0 {
		c.MultiPV = DefaultMultiPV
	}
	if c.ThresholdCP <= 0 {
		c.ThresholdCP = DefaultThresholdCP
	}
	return c
}

// Walker replays games one ply at a time and grades every move the
// tracked player made. Within a game the walk is sequential; the
// caller runs games concurrently.
type Walker struct {
	backend analysis.Backend
	cfg     WalkerConfig
	log     *zap.Logger
}

func NewWalker(backend analysis.Backend, cfg WalkerConfig, log *zap.Logger) *Walker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{backend: backend, cfg: cfg.withDefaults(), log: log}
}

// Walk analyzes every move username played in the game and returns the
// per-move grades plus one puzzle per blunder.
func (w *Walker) Walk(ctx context.Context, in GameInput, username string) (GameReport, error) {
	userColor, err := trackedColor(in, username)
	if err != nil {
		return GameReport{}, err
	}

	moves, err := parseMoves(in.PGN)
	if err != nil {
		return GameReport{}, fmt.Errorf("parse game %s: %w", in.GameID, err)
	}

	report := GameReport{
		GameID:      in.GameID,
		GameURL:     in.GameURL,
		Username:    username,
		UserColor:   colorName(userColor),
		White:       in.White,
		Black:       in.Black,
		TimeClass:   in.TimeClass,
		Rated:       in.Rated,
		ThresholdCP: w.cfg.ThresholdCP,
	}

	replay := nchess.NewGame()
	for ply, mv := range moves {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pos := replay.Position()
		if pos.Turn() != userColor {
			if err := replay.Move(mv, nil); err != nil {
				return report, fmt.Errorf("replay ply %d: %w", ply, err)
			}
			continue
		}

		grade, err := w.gradePly(ctx, replay, ply, mv, userColor)
		if err != nil {
			return report, err
		}
		if err := replay.Move(mv, nil); err != nil {
			return report, fmt.Errorf("replay ply %d: %w", ply, err)
		}
		if grade == nil {
			continue
		}
		report.Analyses = append(report.Analyses, *grade)

		if grade.IsBlunder {
			report.Puzzles = append(report.Puzzles, BlunderPuzzle{
				ID:              uuid.NewString(),
				GameURL:         in.GameURL,
				FEN:             grade.FENBefore,
				SideToMove:      grade.Side,
				MoveNumber:      grade.MoveNumber,
				PlayedMoveUCI:   grade.PlayedMoveUCI,
				PlayedMoveSAN:   grade.PlayedMoveSAN,
				CorrectMoveUCI:  grade.BestMoveUCI,
				CorrectMoveSAN:  grade.BestMoveSAN,
				EvalDropCP:      grade.DropCP,
				AcceptableMoves: grade.AcceptableMoves,
			})
			w.log.Info("blunder found",
				zap.String("game", in.GameID),
				zap.Int("move", grade.MoveNumber),
				zap.String("played", grade.PlayedMoveSAN),
				zap.String("best", grade.BestMoveSAN))
		}
	}
	return report, nil
}

// gradePly analyzes one position the tracked player moved from. A nil
// grade with nil error means the ply was skipped (terminal position or
// a move the rules library refused).
func (w *Walker) gradePly(ctx context.Context, replay *nchess.Game, ply int, mv *nchess.Move, userColor nchess.Color) (*MoveAnalysis, error) {
	pos := replay.Position()
	fenBefore := replay.FEN()
	moveUCI := nchess.UCINotation{}.Encode(pos, mv)

	pa, err := w.backend.AnalyzePosition(ctx, fenBefore, w.cfg.Limits, w.cfg.MultiPV)
	if errors.Is(err, analysis.ErrNoLegalContinuation) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analyze ply %d: %w", ply, err)
	}
	best, ok := pa.Best()
	if !ok {
		return nil, nil
	}

	eval, err := w.backend.EvaluateMove(ctx, fenBefore, moveUCI, w.cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("evaluate ply %d: %w", ply, err)
	}
	if !eval.IsLegal {
		w.log.Warn("replayed move judged illegal, skipping ply",
			zap.Int("ply", ply), zap.String("move", moveUCI))
		return nil, nil
	}

	grade := &MoveAnalysis{
		Ply:           ply,
		MoveNumber:    fullmoveNumber(ply),
		Side:          colorName(userColor),
		FENBefore:     fenBefore,
		PlayedMoveUCI: moveUCI,
		PlayedMoveSAN: eval.MoveSAN,
		BestMoveUCI:   best.MoveUCI,
		BestMoveSAN:   best.MoveSAN,
	}
	if best.Eval != nil {
		grade.EvalBeforeCP = best.Eval.CP
		grade.MateBefore = best.Eval.MateIn
	}
	if eval.EvalAfter != nil {
		grade.EvalAfterCP = eval.EvalAfter.CP
		grade.MateAfter = eval.EvalAfter.MateIn
		// A score-less best line leaves the move ungraded rather than
		// pretending the engine saw an even position.
		if best.Eval != nil {
			grade.DropCP = analysis.Drop(*best.Eval, *eval.EvalAfter)
			grade.IsBlunder = w.isBlunder(*best.Eval, *eval.EvalAfter, grade.DropCP, userColor)
		}
	}
	grade.AcceptableMoves = w.acceptableMoves(pa, best, userColor)
	return grade, nil
}

// isBlunder classifies the played move. With two finite centipawn
// scores the drop against the threshold decides. When a mate is
// involved the comparison is qualitative: dropping into a strictly
// worse class (losing a forced mate, or walking into one) is a
// blunder, staying within the same class is not.
func (w *Walker) isBlunder(best, played analysis.NormalizedEval, drop *int, mover nchess.Color) bool {
	if drop != nil {
		return *drop >= w.cfg.ThresholdCP
	}
	return analysis.Class(played, mover) < analysis.Class(best, mover)
}

// acceptableMoves filters the engine candidates down to those whose
// loss against the best line stays under the threshold. Candidates in
// the same or a better class than the best line are always kept.
func (w *Walker) acceptableMoves(pa analysis.PositionAnalysis, best analysis.CandidateMove, mover nchess.Color) []AcceptableMove {
	out := make([]AcceptableMove, 0, len(pa.BestMoves))
	for _, cand := range pa.BestMoves {
		// Score-less candidates cannot be ranked; keep only the best
		// line itself when scores are missing on either side.
		if best.Eval == nil || cand.Eval == nil {
			if cand.MoveUCI != best.MoveUCI {
				continue
			}
			am := AcceptableMove{MoveUCI: cand.MoveUCI, MoveSAN: cand.MoveSAN}
			if cand.Eval != nil {
				am.EvalCP = cand.Eval.CP
				am.MateIn = cand.Eval.MateIn
			}
			out = append(out, am)
			continue
		}
		loss := analysis.Drop(*best.Eval, *cand.Eval)
		if loss != nil {
			if *loss >= w.cfg.ThresholdCP {
				continue
			}
		} else if analysis.Class(*cand.Eval, mover) < analysis.Class(*best.Eval, mover) {
			continue
		}
		out = append(out, AcceptableMove{
			MoveUCI: cand.MoveUCI,
			MoveSAN: cand.MoveSAN,
			EvalCP:  cand.Eval.CP,
			MateIn:  cand.Eval.MateIn,
		})
	}
	return out
}

func trackedColor(in GameInput, username string) (nchess.Color, error) {
	switch strings.ToLower(username) {
	case strings.ToLower(in.White):
		return nchess.White, nil
	case strings.ToLower(in.Black):
		return nchess.Black, nil
	}
	return nchess.NoColor, fmt.Errorf("%w: %s plays neither %s nor %s",
		ErrPlayerNotInGame, username, in.White, in.Black)
}

func parseMoves(pgn string) ([]*nchess.Move, error) {
	opt, err := nchess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt).Moves(), nil
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

// fullmoveNumber derives the move counter from a zero-based ply.
func fullmoveNumber(ply int) int {
	return ply/2 + 1
}

package blunder

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/blunder-trainer/internal/analysis"
	"github.com/park285/blunder-trainer/internal/engine/uci"
)

// scriptedBackend serves canned analysis keyed by position FEN.
type scriptedBackend struct {
	positions map[string]analysis.PositionAnalysis
	evals     map[string]analysis.MoveEvaluation
	analyzed  []string
	err       error
}

func (b *scriptedBackend) AnalyzePosition(ctx context.Context, fen string, lim uci.Limits, lines int) (analysis.PositionAnalysis, error) {
	b.analyzed = append(b.analyzed, fen)
	if b.err != nil {
		return analysis.PositionAnalysis{}, b.err
	}
	pa, ok := b.positions[fen]
	if !ok {
		return analysis.PositionAnalysis{}, analysis.ErrNoLegalContinuation
	}
	return pa, nil
}

func (b *scriptedBackend) EvaluateMove(ctx context.Context, fen, moveUCI string, lim uci.Limits) (analysis.MoveEvaluation, error) {
	if b.err != nil {
		return analysis.MoveEvaluation{}, b.err
	}
	ev, ok := b.evals[fen+" "+moveUCI]
	if !ok {
		return analysis.MoveEvaluation{FEN: fen, MoveUCI: moveUCI, MoveSAN: moveUCI, IsLegal: false}, nil
	}
	return ev, nil
}

func (b *scriptedBackend) Close() error { return nil }

func cand(uciMove, san string, cp int) analysis.CandidateMove {
	eval := analysis.CPEval(cp)
	return analysis.CandidateMove{MoveUCI: uciMove, MoveSAN: san, Eval: &eval}
}

func evalResult(san string, before, after int, bestUCI, bestSAN string) analysis.MoveEvaluation {
	b, a := analysis.CPEval(before), analysis.CPEval(after)
	drop := before - after
	return analysis.MoveEvaluation{
		MoveSAN:     san,
		IsLegal:     true,
		EvalBefore:  &b,
		EvalAfter:   &a,
		DropCP:      &drop,
		BestMoveUCI: bestUCI,
		BestMoveSAN: bestSAN,
	}
}

// Scholar's-mate-adjacent miniature where white's second move hangs the
// e-pawn situation badly enough to count as a blunder with the scripted
// evaluations below.
const testPGN = `[Event "Live Chess"]
[White "alice"]
[Black "bob"]
[Result "*"]

1. e4 e5 2. Qh5 Nc6 *`

const (
	fenStart    = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	fenAfter1   = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	fenAfter1e5 = "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"
	fenAfterQh5 = "rnbqkbnr/pppp1ppp/8/4p2Q/4P3/8/PPPP1PPP/RNB1KBNR b KQkq - 1 2"
)

func newScriptedWalker(backend analysis.Backend) *Walker {
	return NewWalker(backend, WalkerConfig{MultiPV: 3, ThresholdCP: 100, Limits: uci.Limits{Depth: 12}}, nil)
}

func TestWalkTracksOnlyUserMoves(t *testing.T) {
	backend := &scriptedBackend{
		positions: map[string]analysis.PositionAnalysis{
			fenStart:    {FEN: fenStart, BestMoves: []analysis.CandidateMove{cand("e2e4", "e4", 30), cand("d2d4", "d4", 25)}},
			fenAfter1e5: {FEN: fenAfter1e5, BestMoves: []analysis.CandidateMove{cand("g1f3", "Nf3", 25), cand("b1c3", "Nc3", 10)}},
		},
		evals: map[string]analysis.MoveEvaluation{
			fenStart + " e2e4":    evalResult("e4", 30, 28, "e2e4", "e4"),
			fenAfter1e5 + " d1h5": evalResult("Qh5", 25, -130, "g1f3", "Nf3"),
		},
	}
	w := newScriptedWalker(backend)

	report, err := w.Walk(context.Background(), GameInput{
		GameID: "g1", GameURL: "https://example.com/g1",
		PGN: testPGN, White: "Alice", Black: "bob",
	}, "alice")
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if report.UserColor != "white" {
		t.Fatalf("user color mismatch: %s", report.UserColor)
	}
	if len(report.Analyses) != 2 {
		t.Fatalf("only white's moves must be graded, got %d analyses", len(report.Analyses))
	}
	for _, fen := range backend.analyzed {
		if fen == fenAfter1 || fen == fenAfterQh5 {
			t.Fatalf("opponent position was analyzed: %s", fen)
		}
	}

	first, second := report.Analyses[0], report.Analyses[1]
	if first.IsBlunder {
		t.Fatalf("e4 with a 2cp drop must not be a blunder: %+v", first)
	}
	if !second.IsBlunder {
		t.Fatalf("155cp drop must be a blunder: %+v", second)
	}
	if second.MoveNumber != 2 || second.Side != "white" {
		t.Fatalf("blunder bookkeeping mismatch: %+v", second)
	}

	if len(report.Puzzles) != 1 {
		t.Fatalf("expected one puzzle per blunder, got %d", len(report.Puzzles))
	}
	p := report.Puzzles[0]
	if p.ID == "" {
		t.Fatalf("puzzle id must be assigned")
	}
	if p.FEN != fenAfter1e5 || p.PlayedMoveSAN != "Qh5" || p.CorrectMoveSAN != "Nf3" {
		t.Fatalf("puzzle denormalization mismatch: %+v", p)
	}
	if p.EvalDropCP == nil || *p.EvalDropCP != 155 {
		t.Fatalf("puzzle drop mismatch: %v", p.EvalDropCP)
	}
}

func TestWalkAcceptableMoves(t *testing.T) {
	backend := &scriptedBackend{
		positions: map[string]analysis.PositionAnalysis{
			fenStart: {FEN: fenStart, BestMoves: []analysis.CandidateMove{
				cand("e2e4", "e4", 30),
				cand("d2d4", "d4", -20), // 50cp loss, acceptable
				cand("g2g4", "g4", -90), // 120cp loss, not acceptable
			}},
		},
		evals: map[string]analysis.MoveEvaluation{
			fenStart + " e2e4": evalResult("e4", 30, 28, "e2e4", "e4"),
		},
	}
	w := newScriptedWalker(backend)

	report, err := w.Walk(context.Background(), GameInput{GameID: "g2", PGN: "1. e4 *", White: "alice", Black: "bob"}, "alice")
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(report.Analyses) != 1 {
		t.Fatalf("expected one graded move, got %d", len(report.Analyses))
	}
	acc := report.Analyses[0].AcceptableMoves
	if len(acc) != 2 {
		t.Fatalf("expected 2 acceptable moves, got %v", acc)
	}
	if acc[0].MoveSAN != "e4" || acc[1].MoveSAN != "d4" {
		t.Fatalf("acceptable set mismatch: %v", acc)
	}
}

func TestWalkMateClassBlunder(t *testing.T) {
	mateFor := analysis.MateEval(2) // white mates
	backend := &scriptedBackend{
		positions: map[string]analysis.PositionAnalysis{
			fenStart: {FEN: fenStart, BestMoves: []analysis.CandidateMove{
				{MoveUCI: "e2e4", MoveSAN: "e4", Eval: &mateFor},
			}},
		},
		evals: map[string]analysis.MoveEvaluation{
			fenStart + " e2e4": func() analysis.MoveEvaluation {
				after := analysis.CPEval(50)
				return analysis.MoveEvaluation{MoveSAN: "e4", IsLegal: true, EvalAfter: &after, BestMoveUCI: "e2e4", BestMoveSAN: "e4"}
			}(),
		},
	}
	w := newScriptedWalker(backend)

	report, err := w.Walk(context.Background(), GameInput{GameID: "g3", PGN: "1. e4 *", White: "alice", Black: "bob"}, "alice")
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(report.Analyses) != 1 {
		t.Fatalf("expected one graded move, got %d", len(report.Analyses))
	}
	grade := report.Analyses[0]
	if grade.DropCP != nil {
		t.Fatalf("mate versus cp must not produce a numeric drop")
	}
	if !grade.IsBlunder {
		t.Fatalf("throwing away a forced mate for a cp position is a blunder")
	}
}

func TestWalkScorelessBestLine(t *testing.T) {
	backend := &scriptedBackend{
		positions: map[string]analysis.PositionAnalysis{
			fenStart: {FEN: fenStart, BestMoves: []analysis.CandidateMove{
				{MoveUCI: "e2e4", MoveSAN: "e4"}, // bare bestmove, no score
				cand("d2d4", "d4", 25),
			}},
		},
		evals: map[string]analysis.MoveEvaluation{
			fenStart + " e2e4": func() analysis.MoveEvaluation {
				after := analysis.CPEval(28)
				return analysis.MoveEvaluation{MoveSAN: "e4", IsLegal: true, EvalAfter: &after, BestMoveUCI: "e2e4", BestMoveSAN: "e4"}
			}(),
		},
	}
	w := newScriptedWalker(backend)

	report, err := w.Walk(context.Background(), GameInput{GameID: "g6", PGN: "1. e4 *", White: "alice", Black: "bob"}, "alice")
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(report.Analyses) != 1 {
		t.Fatalf("expected one graded move, got %d", len(report.Analyses))
	}
	grade := report.Analyses[0]
	if grade.EvalBeforeCP != nil || grade.MateBefore != nil {
		t.Fatalf("score-less best line must leave before-eval unset: %+v", grade)
	}
	if grade.DropCP != nil || grade.IsBlunder {
		t.Fatalf("a move cannot be graded against a score-less best line: %+v", grade)
	}
	if len(grade.AcceptableMoves) != 1 || grade.AcceptableMoves[0].MoveUCI != "e2e4" {
		t.Fatalf("only the best line itself is acceptable without scores: %v", grade.AcceptableMoves)
	}
}

func TestWalkUnknownPlayer(t *testing.T) {
	w := newScriptedWalker(&scriptedBackend{})
	_, err := w.Walk(context.Background(), GameInput{GameID: "g4", PGN: "1. e4 *", White: "alice", Black: "bob"}, "mallory")
	if !errors.Is(err, ErrPlayerNotInGame) {
		t.Fatalf("expected ErrPlayerNotInGame, got %v", err)
	}
}

func TestWalkPropagatesEngineFailure(t *testing.T) {
	backend := &scriptedBackend{err: uci.ErrEngineUnavailable}
	w := newScriptedWalker(backend)
	_, err := w.Walk(context.Background(), GameInput{GameID: "g5", PGN: "1. e4 *", White: "alice", Black: "bob"}, "alice")
	if !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("engine failures must pass through typed, got %v", err)
	}
}

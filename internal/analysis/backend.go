package analysis

import (
	"context"
	"errors"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

var (
	// ErrInvalidPosition marks input FEN strings the rules library
	// rejects. Nothing is sent to an engine for these.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrNoLegalContinuation marks positions with no legal moves
	// (checkmate or stalemate). It is a terminal verdict about the
	// position, not an engine fault.
	ErrNoLegalContinuation = errors.New("no legal continuation")
)

// CandidateMove is one engine line: the first move of a principal
// variation with its evaluation from the side to move's perspective.
// Eval is nil when the engine named a move without ever scoring it,
// which happens on bare bestmove responses.
type CandidateMove struct {
	MoveUCI string
	MoveSAN string
	Eval    *NormalizedEval
}

// PositionAnalysis is the rank-ordered result of analyzing one
// position.
type PositionAnalysis struct {
	FEN        string
	SideToMove nchess.Color
	BestMoves  []CandidateMove
}

// Best returns the top-ranked candidate.
func (a PositionAnalysis) Best() (CandidateMove, bool) {
	if len(a.BestMoves) == 0 {
		return CandidateMove{}, false
	}
	return a.BestMoves[0], true
}

// MoveEvaluation grades one played move. IsLegal false is a normal
// result carrying no evaluations. EvalBefore and EvalAfter are both
// from the mover's perspective; DropCP is set only when both are
// finite centipawn scores.
type MoveEvaluation struct {
	FEN         string
	MoveUCI     string
	MoveSAN     string
	IsLegal     bool
	EvalBefore  *NormalizedEval
	EvalAfter   *NormalizedEval
	DropCP      *int
	BestMoveUCI string
	BestMoveSAN string
}

// Backend is an analysis provider. The local implementation drives a
// pool of engine processes; the remote one forwards to an equivalent
// HTTP service. Callers pick one through configuration and use it
// through this interface only.
type Backend interface {
	// AnalyzePosition evaluates a position and returns up to lines
	// candidate moves, best first.
	AnalyzePosition(ctx context.Context, fen string, lim uci.Limits, lines int) (PositionAnalysis, error)

	// EvaluateMove grades a played move against the engine's best
	// line. Illegal moves return IsLegal false without touching an
	// engine.
	EvaluateMove(ctx context.Context, fen, moveUCI string, lim uci.Limits) (MoveEvaluation, error)

	// Close releases engine processes or connections.
	Close() error
}

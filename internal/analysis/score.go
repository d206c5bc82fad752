package analysis

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

// NormalizedEval is one evaluation with exactly one of CP or MateIn
// set. Centipawns are relative to the requested side; mate counts keep
// the engine's white-perspective sign (positive means white delivers
// mate), mirroring how stockfish reports them.
type NormalizedEval struct {
	CP     *int
	MateIn *int
}

// CPEval builds a centipawn evaluation.
func CPEval(v int) NormalizedEval {
	return NormalizedEval{CP: &v}
}

// MateEval builds a forced-mate evaluation.
func MateEval(n int) NormalizedEval {
	return NormalizedEval{MateIn: &n}
}

// IsMate reports whether the evaluation is a forced mate.
func (e NormalizedEval) IsMate() bool { return e.MateIn != nil }

// Valid reports whether exactly one variant is populated.
func (e NormalizedEval) Valid() bool {
	return (e.CP != nil) != (e.MateIn != nil)
}

func (e NormalizedEval) String() string {
	switch {
	case e.MateIn != nil:
		return fmt.Sprintf("#%d", *e.MateIn)
	case e.CP != nil:
		return fmt.Sprintf("%+.2f", float64(*e.CP)/100)
	default:
		return "?"
	}
}

// Normalize converts a raw engine score, which the session reports
// from white's perspective, to the given side's perspective. Mate
// counts pass through with their sign unchanged; centipawns are
// negated when the side is black.
func Normalize(raw uci.Score, side nchess.Color) NormalizedEval {
	if raw.Type == uci.ScoreMate {
		return MateEval(raw.Value)
	}
	v := raw.Value
	if side == nchess.Black {
		v = -v
	}
	return CPEval(v)
}

// Class coarsely ranks an evaluation for the given mover: 2 when the
// mover has a forced mate, 1 for any centipawn score, 0 when the
// mover is getting mated.
func Class(e NormalizedEval, mover nchess.Color) int {
	if e.MateIn == nil {
		return 1
	}
	mateForMover := (*e.MateIn > 0) == (mover == nchess.White)
	if mateForMover {
		return 2
	}
	return 0
}

// Compare orders two evaluations from the mover's point of view and
// returns <0, 0, or >0 as a is worse than, equal to, or better than b.
// Mate for the mover beats any centipawn score, which beats getting
// mated; between mates the shorter one is better for whoever delivers
// it.
func Compare(a, b NormalizedEval, mover nchess.Color) int {
	ca, cb := Class(a, mover), Class(b, mover)
	if ca != cb {
		return ca - cb
	}
	switch ca {
	case 1:
		av, bv := 0, 0
		if a.CP != nil {
			av = *a.CP
		}
		if b.CP != nil {
			bv = *b.CP
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	default:
		// Both forced mates on the same side. Fewer moves is better
		// for the side delivering it, so for the mover a shorter mate
		// ranks higher and a shorter loss ranks lower.
		am, bm := *a.MateIn, *b.MateIn
		if am < 0 {
			am = -am
		}
		if bm < 0 {
			bm = -bm
		}
		better := am < bm
		if ca == 0 {
			better = am > bm
		}
		switch {
		case am == bm:
			return 0
		case better:
			return 1
		}
		return -1
	}
}

// Drop returns the centipawn loss of after relative to before. It is
// only defined when both evaluations are finite centipawn scores in
// the same perspective; any mate involvement yields nil.
func Drop(before, after NormalizedEval) *int {
	if before.CP == nil || after.CP == nil {
		return nil
	}
	d := *before.CP - *after.CP
	return &d
}

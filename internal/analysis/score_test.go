package analysis

import (
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

func TestNormalizeCentipawns(t *testing.T) {
	raw := uci.CentipawnScore(35)

	white := Normalize(raw, nchess.White)
	if white.CP == nil || *white.CP != 35 {
		t.Fatalf("white perspective must keep the sign: %v", white)
	}
	black := Normalize(raw, nchess.Black)
	if black.CP == nil || *black.CP != -35 {
		t.Fatalf("black perspective must negate: %v", black)
	}
	if white.MateIn != nil || black.MateIn != nil {
		t.Fatalf("centipawn evals must not carry a mate count")
	}
}

func TestNormalizeMatePassesSignThrough(t *testing.T) {
	raw := uci.MateScore(-4)
	for _, side := range []nchess.Color{nchess.White, nchess.Black} {
		e := Normalize(raw, side)
		if e.MateIn == nil || *e.MateIn != -4 {
			t.Fatalf("mate sign must be independent of the requested side: %v", e)
		}
		if e.CP != nil {
			t.Fatalf("mate evals must not carry centipawns")
		}
	}
}

func TestEvalExactlyOneVariant(t *testing.T) {
	if !CPEval(10).Valid() || !MateEval(2).Valid() {
		t.Fatalf("constructors must produce valid evals")
	}
	if (NormalizedEval{}).Valid() {
		t.Fatalf("empty eval must be invalid")
	}
}

func TestCompareOrdering(t *testing.T) {
	mateFor := MateEval(3)    // white delivers mate
	mateAgainst := MateEval(-3)
	winning := CPEval(500)
	losing := CPEval(-500)

	cases := []struct {
		name  string
		a, b  NormalizedEval
		mover nchess.Color
		want  int // sign only
	}{
		{"mate for mover beats any cp", mateFor, winning, nchess.White, 1},
		{"any cp beats mate against mover", losing, mateAgainst, nchess.White, 1},
		{"higher cp wins", CPEval(50), CPEval(-20), nchess.White, 1},
		{"equal cp ties", CPEval(7), CPEval(7), nchess.Black, 0},
		{"shorter mate better for mover", MateEval(2), MateEval(5), nchess.White, 1},
		{"longer loss better for mover", MateEval(-5), MateEval(-2), nchess.White, 1},
		{"black mover: negative mate is mate for", MateEval(-2), CPEval(900), nchess.Black, 1},
		{"black mover: positive mate is mate against", MateEval(4), CPEval(-900), nchess.Black, -1},
	}
	for _, tc := range cases {
		got := Compare(tc.a, tc.b, tc.mover)
		if sign(got) != tc.want {
			t.Fatalf("%s: Compare(%v, %v, %v) = %d, want sign %d", tc.name, tc.a, tc.b, tc.mover, got, tc.want)
		}
		if rev := Compare(tc.b, tc.a, tc.mover); sign(rev) != -tc.want {
			t.Fatalf("%s: ordering must be antisymmetric, reverse = %d", tc.name, rev)
		}
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func TestDropOnlyBetweenCentipawns(t *testing.T) {
	if d := Drop(CPEval(120), CPEval(-30)); d == nil || *d != 150 {
		t.Fatalf("finite drop mismatch: %v", d)
	}
	if d := Drop(MateEval(3), CPEval(0)); d != nil {
		t.Fatalf("mate before must give no drop, got %d", *d)
	}
	if d := Drop(CPEval(0), MateEval(-2)); d != nil {
		t.Fatalf("mate after must give no drop, got %d", *d)
	}
}

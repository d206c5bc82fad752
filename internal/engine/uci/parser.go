package uci

import (
	"sort"
	"strconv"
	"strings"
)

// ScoreType tags how a Score's value is to be read.
type ScoreType int

const (
	// ScoreCentipawns is a plain centipawn evaluation.
	ScoreCentipawns ScoreType = iota
	// ScoreMate is a mate distance in moves; negative means the side
	// the report is expressed for is being mated.
	ScoreMate
)

// Score is the raw engine evaluation from one info line, expressed in
// the engine's fixed white point of view. Mate and centipawn scores are
// kept apart; mate is never folded into a centipawn number.
type Score struct {
	Type  ScoreType
	Value int
}

func CentipawnScore(v int) Score { return Score{Type: ScoreCentipawns, Value: v} }
func MateScore(n int) Score      { return Score{Type: ScoreMate, Value: n} }

func (s Score) IsMate() bool { return s.Type == ScoreMate }

// ScoreReport is one settled principal-variation line of a search.
type ScoreReport struct {
	Rank  int // 1-based multipv rank
	Depth int
	PV    []string // moves in engine coordinate notation
	Score Score
}

// searchCollector folds a stream of raw engine output lines into the
// deepest settled report per multipv rank plus the terminal bestmove.
// Progress lines, malformed lines and bound-only scores are skipped.
type searchCollector struct {
	reports  map[int]ScoreReport
	bestMove string
	done     bool
}

func newSearchCollector() *searchCollector {
	return &searchCollector{reports: make(map[int]ScoreReport)}
}

// Feed consumes one raw line. It returns true once the terminal
// bestmove line has been seen.
func (c *searchCollector) Feed(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || c.done {
		return c.done
	}

	if strings.HasPrefix(line, "bestmove") {
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] != "(none)" {
			c.bestMove = parts[1]
		}
		c.done = true
		return true
	}

	if !strings.HasPrefix(line, "info ") {
		return false
	}
	report, ok := parseInfoLine(line)
	if !ok {
		return false
	}

	// Deeper result supersedes a shallower one at the same rank; lines
	// may arrive out of depth order, so strictly-greater is the rule,
	// not last-wins.
	if prev, exists := c.reports[report.Rank]; exists && report.Depth <= prev.Depth {
		return false
	}
	c.reports[report.Rank] = report
	return false
}

func (c *searchCollector) Done() bool       { return c.done }
func (c *searchCollector) BestMove() string { return c.bestMove }

// Reports returns the kept reports in rank order. The slice may be
// empty even after Done when the engine answered instantly; a present
// bestmove with no reports is a minimal but valid result.
func (c *searchCollector) Reports() []ScoreReport {
	if len(c.reports) == 0 {
		return nil
	}
	ranks := make([]int, 0, len(c.reports))
	for r := range c.reports {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	out := make([]ScoreReport, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, c.reports[r])
	}
	return out
}

// parseInfoLine extracts a ScoreReport from one "info ..." line. The
// line must carry a depth marker, a score marker and a pv marker in
// that order; anything else (progress chatter, currmove lines) is
// skipped. Bound-only scores are provisional and skipped too.
func parseInfoLine(line string) (ScoreReport, bool) {
	parts := strings.Fields(line)

	var (
		depth    int
		depthIdx = -1
		scoreIdx = -1
		pvIdx    = -1
		rank     = 1
		score    Score
		scoreOK  bool
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					depth = v
					depthIdx = i
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v > 0 {
					rank = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind, val := parts[i+1], parts[i+2]
				if i+3 < len(parts) && (parts[i+3] == "lowerbound" || parts[i+3] == "upperbound") {
					return ScoreReport{}, false
				}
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						score = CentipawnScore(v)
						scoreOK = true
						scoreIdx = i
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						score = MateScore(v)
						scoreOK = true
						scoreIdx = i
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i
			i = len(parts)
		}
	}

	if depthIdx == -1 || !scoreOK || pvIdx == -1 || pvIdx+1 >= len(parts) {
		return ScoreReport{}, false
	}
	if !(depthIdx < scoreIdx && scoreIdx < pvIdx) {
		return ScoreReport{}, false
	}

	pv := append([]string(nil), parts[pvIdx+1:]...)
	return ScoreReport{Rank: rank, Depth: depth, PV: pv, Score: score}, true
}

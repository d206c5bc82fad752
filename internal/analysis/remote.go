package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

const remoteDefaultTimeout = 30 * time.Second

// RemoteBackend forwards analysis to a remote evaluation service over
// its JSON API. Position validity and move legality are still checked
// locally so bad input never leaves the process.
type RemoteBackend struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	log     *zap.Logger
}

type RemoteOption func(*RemoteBackend)

func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(r *RemoteBackend) { r.timeout = d }
}

func NewRemoteBackend(baseURL string, log *zap.Logger, opts ...RemoteOption) *RemoteBackend {
	if log == nil {
		log = zap.NewNop()
	}
	r := &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			ReadTimeout:     remoteDefaultTimeout,
			WriteTimeout:    remoteDefaultTimeout,
			MaxConnsPerHost: 16,
		},
		timeout: remoteDefaultTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type remoteAnalyzeRequest struct {
	FEN     string  `json:"fen"`
	Depth   int     `json:"depth,omitempty"`
	Time    float64 `json:"time,omitempty"`
	MultiPV int     `json:"multipv"`
}

type remoteMove struct {
	MoveUCI string `json:"move_uci"`
	MoveSAN string `json:"move_san"`
	EvalCP  *int   `json:"eval_cp"`
	MateIn  *int   `json:"mate_in"`
}

type remoteAnalyzeResponse struct {
	FEN        string       `json:"fen"`
	SideToMove string       `json:"side_to_move"`
	BestMoves  []remoteMove `json:"best_moves"`
}

type remoteEvaluateRequest struct {
	FEN  string  `json:"fen"`
	Move string  `json:"move"`
	Time float64 `json:"time,omitempty"`
}

type remoteEvaluateResponse struct {
	FEN          string `json:"fen"`
	MoveUCI      string `json:"move_uci"`
	MoveSAN      string `json:"move_san"`
	IsLegal      bool   `json:"is_legal"`
	EvalBeforeCP *int   `json:"eval_before_cp"`
	EvalAfterCP  *int   `json:"eval_after_cp"`
	EvalDropCP   *int   `json:"eval_drop_cp"`
	BestMoveUCI  string `json:"best_move_uci"`
	BestMoveSAN  string `json:"best_move_san"`
}

func limitSeconds(lim uci.Limits) float64 {
	if lim.MoveTime <= 0 {
		return 0
	}
	return lim.MoveTime.Seconds()
}

func (r *RemoteBackend) AnalyzePosition(ctx context.Context, fen string, lim uci.Limits, lines int) (PositionAnalysis, error) {
	game, err := newGameFromFEN(fen)
	if err != nil {
		return PositionAnalysis{}, err
	}
	if lines <= 0 {
		lines = 1
	}

	req := remoteAnalyzeRequest{FEN: fen, MultiPV: lines}
	if lim.Depth > 0 {
		req.Depth = lim.Depth
	} else {
		req.Time = limitSeconds(lim)
	}

	var resp remoteAnalyzeResponse
	if err := r.doJSON(ctx, "/analyze", req, &resp); err != nil {
		return PositionAnalysis{}, fmt.Errorf("%w: %v", uci.ErrEngineUnavailable, err)
	}

	side := game.Position().Turn()
	if len(resp.BestMoves) == 0 {
		if len(game.ValidMoves()) == 0 {
			return PositionAnalysis{}, ErrNoLegalContinuation
		}
		return PositionAnalysis{}, fmt.Errorf("remote service returned no lines for position with legal moves: %s", fen)
	}

	analysis := PositionAnalysis{FEN: fen, SideToMove: side}
	for _, m := range resp.BestMoves {
		c := CandidateMove{MoveUCI: m.MoveUCI, MoveSAN: m.MoveSAN}
		if m.EvalCP != nil || m.MateIn != nil {
			c.Eval = &NormalizedEval{CP: m.EvalCP, MateIn: m.MateIn}
		}
		analysis.BestMoves = append(analysis.BestMoves, c)
	}
	return analysis, nil
}

func (r *RemoteBackend) EvaluateMove(ctx context.Context, fen, moveUCI string, lim uci.Limits) (MoveEvaluation, error) {
	game, err := newGameFromFEN(fen)
	if err != nil {
		return MoveEvaluation{}, err
	}
	pos := game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, moveUCI)
	if err == nil {
		err = game.Move(mv, nil)
	}
	if err != nil {
		return MoveEvaluation{FEN: fen, MoveUCI: moveUCI, MoveSAN: moveUCI, IsLegal: false}, nil
	}

	req := remoteEvaluateRequest{FEN: fen, Move: moveUCI, Time: limitSeconds(lim)}
	var resp remoteEvaluateResponse
	if err := r.doJSON(ctx, "/evaluate", req, &resp); err != nil {
		return MoveEvaluation{}, fmt.Errorf("%w: %v", uci.ErrEngineUnavailable, err)
	}

	out := MoveEvaluation{
		FEN:         resp.FEN,
		MoveUCI:     resp.MoveUCI,
		MoveSAN:     resp.MoveSAN,
		IsLegal:     resp.IsLegal,
		DropCP:      resp.EvalDropCP,
		BestMoveUCI: resp.BestMoveUCI,
		BestMoveSAN: resp.BestMoveSAN,
	}
	if resp.EvalBeforeCP != nil {
		eval := CPEval(*resp.EvalBeforeCP)
		out.EvalBefore = &eval
	}
	if resp.EvalAfterCP != nil {
		eval := CPEval(*resp.EvalAfterCP)
		out.EvalAfter = &eval
	}
	return out, nil
}

func (r *RemoteBackend) doJSON(ctx context.Context, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(r.baseURL + path)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := r.http.DoDeadline(req, resp, r.deadline(ctx)); err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("eval service error: status=%d body=%s", status, truncateBody(resp.Body(), 256))
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (r *RemoteBackend) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(r.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncateBody(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

func (r *RemoteBackend) Close() error {
	r.http.CloseIdleConnections()
	return nil
}

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/blunder-trainer/internal/engine/uci"
)

func TestRemoteAnalyzePosition(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req remoteAnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.MultiPV != 3 || req.Depth != 15 || req.Time != 0 {
			t.Errorf("request fields mismatch: %+v", req)
		}
		cp := -42
		json.NewEncoder(w).Encode(remoteAnalyzeResponse{
			FEN:        req.FEN,
			SideToMove: "black",
			BestMoves:  []remoteMove{{MoveUCI: "e7e5", MoveSAN: "e5", EvalCP: &cp}},
		})
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, nil)
	res, err := b.AnalyzePosition(context.Background(), fenAfterE4, uci.Limits{Depth: 15}, 3)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(res.BestMoves) != 1 || res.BestMoves[0].MoveSAN != "e5" {
		t.Fatalf("mapping mismatch: %+v", res)
	}
	if res.BestMoves[0].Eval == nil || res.BestMoves[0].Eval.CP == nil || *res.BestMoves[0].Eval.CP != -42 {
		t.Fatalf("eval mapping mismatch: %v", res.BestMoves[0].Eval)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one request, got %d", hits)
	}
}

func TestRemoteEvaluateMove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evaluate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req remoteEvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Move != "d2d4" {
			t.Errorf("move field mismatch: %+v", req)
		}
		before, after, drop := 30, 10, 20
		json.NewEncoder(w).Encode(remoteEvaluateResponse{
			FEN: req.FEN, MoveUCI: req.Move, MoveSAN: "d4", IsLegal: true,
			EvalBeforeCP: &before, EvalAfterCP: &after, EvalDropCP: &drop,
			BestMoveUCI: "e2e4", BestMoveSAN: "e4",
		})
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, nil)
	res, err := b.EvaluateMove(context.Background(), "startpos", "d2d4", uci.Limits{MoveTime: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !res.IsLegal || res.MoveSAN != "d4" || res.BestMoveSAN != "e4" {
		t.Fatalf("mapping mismatch: %+v", res)
	}
	if res.DropCP == nil || *res.DropCP != 20 {
		t.Fatalf("drop mapping mismatch: %v", res.DropCP)
	}
}

func TestRemoteEvaluateMoveIllegalStaysLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("illegal move must not reach the remote service")
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, nil)
	res, err := b.EvaluateMove(context.Background(), "startpos", "e2e5", uci.Limits{})
	if err != nil {
		t.Fatalf("illegal move is a result, not an error: %v", err)
	}
	if res.IsLegal {
		t.Fatalf("e2e5 from the start position must be illegal")
	}
}

func TestRemoteErrorsAreTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, nil)
	_, err := b.AnalyzePosition(context.Background(), "startpos", uci.Limits{Depth: 10}, 1)
	if !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("remote failures must surface as ErrEngineUnavailable, got %v", err)
	}
}

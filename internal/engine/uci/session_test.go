package uci

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// scriptedEngine plays the engine side of the pipe pair. Commands the
// session writes are recorded and fed to the handler, whose return
// value is written back as engine output.
type scriptedEngine struct {
	mu      sync.Mutex
	sent    []string
	pw      *io.PipeWriter
	handler func(cmd string) string
	closed  bool
}

func newScriptedSession(handler func(cmd string) string) (*Session, *scriptedEngine) {
	pr, pw := io.Pipe()
	eng := &scriptedEngine{pw: pw, handler: handler}
	return newSessionFromPipes(eng, pr, zap.NewNop()), eng
}

func (e *scriptedEngine) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		e.mu.Lock()
		e.sent = append(e.sent, line)
		e.mu.Unlock()
		if e.handler != nil {
			if resp := e.handler(line); resp != "" {
				_, _ = io.WriteString(e.pw, resp)
			}
		}
	}
	return len(p), nil
}

func (e *scriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.pw.Close()
	}
	return nil
}

func (e *scriptedEngine) sawCommand(cmd string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sent {
		if s == cmd {
			return true
		}
	}
	return false
}

func TestSessionHandshake(t *testing.T) {
	s, eng := newScriptedSession(func(cmd string) string {
		switch {
		case cmd == "uci":
			return "id name fake\nid author fake\nuciok\n"
		case cmd == "isready":
			return "readyok\n"
		}
		return ""
	})
	defer s.Close()

	err := s.initialize(context.Background(), Options{Threads: 2, HashMB: 64, MultiPV: 3})
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	for _, want := range []string{
		"setoption name Threads value 2",
		"setoption name Hash value 64",
		"setoption name MultiPV value 3",
	} {
		if !eng.sawCommand(want) {
			t.Fatalf("expected command %q to be sent", want)
		}
	}
}

func TestSessionAnalyze(t *testing.T) {
	const fen = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	s, eng := newScriptedSession(func(cmd string) string {
		if strings.HasPrefix(cmd, "go ") {
			return "info depth 10 multipv 1 score cp 28 pv e2e4 e7e5\n" +
				"info depth 14 multipv 1 score cp 33 pv d2d4 d7d5\n" +
				"bestmove d2d4 ponder d7d5\n"
		}
		return ""
	})
	defer s.Close()

	res, err := s.Analyze(context.Background(), fen, Limits{MoveTime: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.BestMove != "d2d4" {
		t.Fatalf("bestmove mismatch: %q", res.BestMove)
	}
	if len(res.Reports) != 1 || res.Reports[0].Depth != 14 || res.Reports[0].Score.Value != 33 {
		t.Fatalf("unexpected reports: %+v", res.Reports)
	}
	if !eng.sawCommand("position fen " + fen) {
		t.Fatalf("position command not sent")
	}
	if !eng.sawCommand("go movetime 300") {
		t.Fatalf("go command not sent with movetime")
	}
}

func TestSessionAnalyzeDepthWinsOverMoveTime(t *testing.T) {
	s, eng := newScriptedSession(func(cmd string) string {
		if strings.HasPrefix(cmd, "go ") {
			return "bestmove e2e4\n"
		}
		return ""
	})
	defer s.Close()

	if _, err := s.Analyze(context.Background(), "startpos", Limits{Depth: 10, MoveTime: time.Second}); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !eng.sawCommand("go depth 10") {
		t.Fatalf("depth limit must take priority over movetime")
	}
	if !eng.sawCommand("position startpos") {
		t.Fatalf("startpos must not be sent as a fen")
	}
}

func TestSessionTimeoutRecovery(t *testing.T) {
	var goCount int
	var mu sync.Mutex
	s, _ := newScriptedSession(func(cmd string) string {
		switch {
		case strings.HasPrefix(cmd, "go "):
			mu.Lock()
			goCount++
			n := goCount
			mu.Unlock()
			if n == 1 {
				return "" // hang the first search
			}
			return "bestmove g1f3\n"
		case cmd == "stop":
			return "info depth 30 multipv 1 score cp 12 pv a2a3\nbestmove a2a3\n"
		}
		return ""
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Analyze(ctx, "startpos", Limits{MoveTime: 10 * time.Millisecond})
	if !errors.Is(err, ErrAnalysisTimeout) {
		t.Fatalf("expected ErrAnalysisTimeout, got %v", err)
	}
	if s.Dead() {
		t.Fatalf("session answered stop with bestmove, must stay usable")
	}

	res, err := s.Analyze(context.Background(), "startpos", Limits{MoveTime: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("analyze after recovery failed: %v", err)
	}
	if res.BestMove != "g1f3" {
		t.Fatalf("bestmove after recovery mismatch: %q", res.BestMove)
	}
}

func TestSessionReadFailureMarksDead(t *testing.T) {
	s, eng := newScriptedSession(nil)
	eng.handler = func(cmd string) string {
		if strings.HasPrefix(cmd, "go ") {
			eng.Close() // engine process dies mid-search
		}
		return ""
	}

	_, err := s.Analyze(context.Background(), "startpos", Limits{MoveTime: 10 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected error after engine death")
	}
	if errors.Is(err, ErrAnalysisTimeout) {
		t.Fatalf("engine death must not be reported as a timeout: %v", err)
	}
	if !s.Dead() {
		t.Fatalf("session must be marked dead after a read failure")
	}
	if _, err := s.Analyze(context.Background(), "startpos", Limits{MoveTime: 10 * time.Millisecond}); !errors.Is(err, errSessionDead) {
		t.Fatalf("dead session must reject further work, got %v", err)
	}
}

// noisyStream produces engine chatter forever, like a search left
// running with nobody draining the output.
type noisyStream struct{}

func (noisyStream) Read(p []byte) (int, error) {
	return copy(p, "info string chatter\n"), nil
}

func TestSessionCloseStopsAbandonedReadLoop(t *testing.T) {
	_, pw := io.Pipe()
	eng := &scriptedEngine{pw: pw}
	s := newSessionFromPipes(eng, noisyStream{}, zap.NewNop())

	// Let the line buffer fill while nobody reads.
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	select {
	case <-s.readDone:
	case <-time.After(time.Second):
		t.Fatal("read loop still running after close")
	}
}

func TestSessionSetMultiPV(t *testing.T) {
	s, eng := newScriptedSession(func(cmd string) string {
		if cmd == "isready" {
			return "readyok\n"
		}
		return ""
	})
	defer s.Close()

	if err := s.SetMultiPV(context.Background(), 4); err != nil {
		t.Fatalf("SetMultiPV failed: %v", err)
	}
	if s.MultiPV() != 4 {
		t.Fatalf("multipv not updated: %d", s.MultiPV())
	}
	if !eng.sawCommand("setoption name MultiPV value 4") {
		t.Fatalf("setoption not sent")
	}
	if err := s.SetMultiPV(context.Background(), 0); err == nil {
		t.Fatalf("multipv 0 must be rejected")
	}
}

func TestBuildGoTokens(t *testing.T) {
	if _, err := buildGoTokens(Limits{}); err == nil {
		t.Fatalf("empty limits must be rejected")
	}
	tokens, err := buildGoTokens(Limits{MoveTime: 250 * time.Millisecond})
	if err != nil {
		t.Fatalf("movetime limits failed: %v", err)
	}
	if strings.Join(tokens, " ") != "go movetime 250" {
		t.Fatalf("movetime tokens mismatch: %v", tokens)
	}
}

func TestSearchDeadlineClamps(t *testing.T) {
	if d := searchDeadline(Limits{Depth: 2}); d != 6*time.Second {
		t.Fatalf("shallow depth must clamp up to 6s, got %s", d)
	}
	if d := searchDeadline(Limits{Depth: 99}); d != 20*time.Second {
		t.Fatalf("deep depth must clamp down to 20s, got %s", d)
	}
	if d := searchDeadline(Limits{MoveTime: time.Second}); d != time.Second+searchGraceMargin {
		t.Fatalf("movetime deadline must add the grace margin, got %s", d)
	}
}

package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize     = 64
	sessionRestartDelay  = 500 * time.Millisecond
	shutdownGracePeriod  = 5 * time.Second
	sessionRestartChecks = 3
)

// PoolConfig configures the engine pool.
type PoolConfig struct {
	BinaryPath string
	Sessions   int // fixed session count, minimum 1
	QueueSize  int
	Options    Options // per-session configuration; MultiPV is the starting value
	Logger     *zap.Logger
}

// Request is one analysis submission.
type Request struct {
	FEN     string
	Limits  Limits
	MultiPV int
}

// runner is the per-session surface the dispatch workers drive.
// *Session implements it; tests substitute scripted fakes.
type runner interface {
	Analyze(ctx context.Context, fen string, lim Limits) (SearchResult, error)
	SetMultiPV(ctx context.Context, n int) error
	MultiPV() int
	NewGame(ctx context.Context) error
	Dead() bool
	Close() error
}

type sessionFactory func(ctx context.Context) (runner, error)

type poolTask struct {
	ctx    context.Context
	req    Request
	result chan taskResult
}

type taskResult struct {
	res SearchResult
	err error
}

// Pool maps concurrent analysis requests onto a fixed set of engine
// sessions. Each session serves one request at a time; excess requests
// wait in a bounded FIFO queue. A crashed or timed-out session is torn
// down and replaced while the affected request fails back to its
// caller instead of being retried elsewhere.
type Pool struct {
	cfg     PoolConfig
	log     *zap.Logger
	queue   chan poolTask
	factory sessionFactory

	lifeCtx  context.Context
	lifeStop context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.RWMutex // guards closed and queue admission
	closed bool

	sessMu  sync.Mutex
	serving map[int]runner // worker id → live session, for force-close
}

// NewPool starts the configured number of engine sessions and their
// dispatch workers.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	factory := func(ctx context.Context) (runner, error) {
		return NewSession(ctx, cfg.BinaryPath, cfg.Options, cfg.Logger)
	}
	return newPoolWithFactory(cfg, factory)
}

func newPoolWithFactory(cfg PoolConfig, factory sessionFactory) (*Pool, error) {
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Options.Threads <= 0 {
		cfg.Options.Threads = 1
	}
	if cfg.Options.HashMB <= 0 {
		cfg.Options.HashMB = 128
	}
	if cfg.Options.MultiPV <= 0 {
		cfg.Options.MultiPV = 1
	}

	lifeCtx, lifeStop := context.WithCancel(context.Background())
	p := &Pool{
		cfg:      cfg,
		log:      cfg.Logger,
		queue:    make(chan poolTask, cfg.QueueSize),
		factory:  factory,
		lifeCtx:  lifeCtx,
		lifeStop: lifeStop,
		serving:  make(map[int]runner),
	}
	for i := 0; i < cfg.Sessions; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

// Submit queues one request and blocks until a session completed it,
// the caller context expired, or the pool shut down. Admission is
// FIFO; completion order depends on per-session search speed.
func (p *Pool) Submit(ctx context.Context, req Request) (SearchResult, error) {
	if req.MultiPV <= 0 {
		req.MultiPV = 1
	}

	task := poolTask{ctx: ctx, req: req, result: make(chan taskResult, 1)}

	// The read lock spans the send so Close cannot close the queue
	// between the closed check and admission. Workers never take this
	// lock, so a full queue still drains while the send is waiting.
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return SearchResult{}, ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return SearchResult{}, ctx.Err()
	}

	select {
	case r := <-task.result:
		return r.res, r.err
	case <-ctx.Done():
		return SearchResult{}, ctx.Err()
	}
}

// Close rejects further submissions, drains queued work, waits for
// in-flight requests up to a grace period, then force-closes any
// sessions still running.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		p.log.Warn("pool shutdown grace elapsed, force-closing sessions")
		p.sessMu.Lock()
		for id, s := range p.serving {
			_ = s.Close()
			delete(p.serving, id)
		}
		p.sessMu.Unlock()
		<-done
	}
	p.lifeStop()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("session", id))

	var session runner
	defer func() {
		if session != nil {
			_ = session.Close()
		}
		p.trackSession(id, nil)
	}()

	for task := range p.queue {
		if task.ctx.Err() != nil {
			task.result <- taskResult{err: task.ctx.Err()}
			continue
		}

		if session == nil || session.Dead() {
			if session != nil {
				_ = session.Close()
			}
			var err error
			session, err = p.startSession(log)
			p.trackSession(id, session)
			if session == nil {
				task.result <- taskResult{err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
				continue
			}
		}

		res, err := p.serve(session, task)
		task.result <- taskResult{res: res, err: err}

		// A timed-out session is replaced even when its stop recovery
		// brought the process back to idle; the next request gets a
		// fresh engine.
		if session.Dead() || errors.Is(err, ErrAnalysisTimeout) {
			log.Warn("session discarded after failed request", zap.Error(err))
			_ = session.Close()
			session = nil
			p.trackSession(id, nil)
		}
	}
}

// serve runs one task on one session, reconfiguring multipv first when
// the request differs from the session's current value.
func (p *Pool) serve(session runner, task poolTask) (SearchResult, error) {
	if session.MultiPV() != task.req.MultiPV {
		if err := session.SetMultiPV(task.ctx, task.req.MultiPV); err != nil {
			return SearchResult{}, fmt.Errorf("%w: reconfigure multipv: %v", ErrEngineUnavailable, err)
		}
	}
	if err := session.NewGame(task.ctx); err != nil {
		return SearchResult{}, fmt.Errorf("%w: reset session: %v", ErrEngineUnavailable, err)
	}

	res, err := session.Analyze(task.ctx, task.req.FEN, task.req.Limits)
	if err != nil {
		if errors.Is(err, ErrAnalysisTimeout) {
			return SearchResult{}, err
		}
		return SearchResult{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return res, nil
}

// startSession creates a replacement session, retrying a few times so
// a transient spawn failure does not permanently shrink the pool.
func (p *Pool) startSession(log *zap.Logger) (runner, error) {
	var lastErr error
	for attempt := 1; attempt <= sessionRestartChecks; attempt++ {
		session, err := p.factory(p.lifeCtx)
		if err == nil {
			return session, nil
		}
		lastErr = err
		log.Warn("session start failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-p.lifeCtx.Done():
			return nil, lastErr
		case <-time.After(sessionRestartDelay):
		}
	}
	return nil, lastErr
}

func (p *Pool) trackSession(id int, s runner) {
	p.sessMu.Lock()
	if s == nil {
		delete(p.serving, id)
	} else {
		p.serving[id] = s
	}
	p.sessMu.Unlock()
}

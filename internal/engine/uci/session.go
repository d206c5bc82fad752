package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	searchGraceMargin   = 2 * time.Second
	stopRecoverWindow   = 2 * time.Second
)

// Options configures an engine process at session start.
type Options struct {
	Threads int
	HashMB  int
	MultiPV int
}

// Limits bounds one search: either a maximum depth or a wall-clock
// budget. Depth takes priority when both are set.
type Limits struct {
	Depth    int
	MoveTime time.Duration
}

// SearchResult is the outcome of one analyze cycle.
type SearchResult struct {
	Reports  []ScoreReport
	BestMove string
}

// Session owns exactly one engine process and speaks the UCI line
// protocol over its pipes. A session is not safe for concurrent use;
// the pool guarantees exclusive access rather than the session
// locking internally.
type Session struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan string
	readErr  chan error
	quit     chan struct{}
	quitOnce sync.Once
	readDone chan struct{}
	log      *zap.Logger

	multipv int
	dead    bool
}

// NewSession spawns the engine binary and runs the startup handshake:
// uci → uciok, option application, isready → readyok, all bounded by
// the startup timeout. Failures wrap ErrEngineStartup.
func NewSession(ctx context.Context, binaryPath string, opt Options, log *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdin pipe: %v", ErrEngineStartup, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: create stdout pipe: %v", ErrEngineStartup, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrEngineStartup, binaryPath, err)
	}

	s := newSessionFromPipes(stdin, stdoutPipe, log)
	s.cmd = cmd

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}
	s.multipv = opt.MultiPV
	return s, nil
}

// newSessionFromPipes wires a session to explicit streams. Used by
// NewSession and by tests that script the engine side.
func newSessionFromPipes(stdin io.WriteCloser, stdout io.Reader, log *zap.Logger) *Session {
	s := &Session{
		stdin:    stdin,
		lines:    make(chan string, 256),
		readErr:  make(chan error, 1),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
		log:      log,
		multipv:  1,
	}
	go s.readLoop(stdout)
	return s
}

// readLoop forwards engine output line by line. The quit channel
// unblocks it when the session is closed while nobody is draining
// lines, so an abandoned session cannot pin the goroutine forever.
func (s *Session) readLoop(stdout io.Reader) {
	defer close(s.readDone)
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case s.lines <- strings.TrimSpace(line):
			case <-s.quit:
				return
			}
		}
		if err != nil {
			s.readErr <- err
			close(s.lines)
			return
		}
	}
}

func validateOptions(opt Options) error {
	if opt.Threads <= 0 {
		return fmt.Errorf("threads must be > 0: %d", opt.Threads)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	return nil
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", opt.Threads),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// MultiPV reports the currently configured multipv count.
func (s *Session) MultiPV() int { return s.multipv }

// SetMultiPV reconfigures the number of principal variations. The
// option change completes its own readiness round-trip; the protocol
// forbids pipelining it with a search.
func (s *Session) SetMultiPV(ctx context.Context, n int) error {
	if s.dead {
		return errSessionDead
	}
	if n <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", n)
	}
	if err := s.send(fmt.Sprintf("setoption name MultiPV value %d\n", n)); err != nil {
		return fmt.Errorf("send setoption: %w", err)
	}
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}
	s.multipv = n
	return nil
}

// EnsureReady performs one isready/readyok round-trip.
func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// NewGame resets engine search state between games.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.EnsureReady(ctx)
}

// Analyze runs one position/go cycle and reads output until the
// terminal bestmove line or the deadline. On deadline it issues stop
// and tries to re-sync; a session that does not produce bestmove
// within the recovery window is marked dead and must be discarded.
func (s *Session) Analyze(ctx context.Context, fen string, lim Limits) (SearchResult, error) {
	if s.dead {
		return SearchResult{}, errSessionDead
	}

	if err := s.send(buildPositionCommand(fen)); err != nil {
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	goTokens, err := buildGoTokens(lim)
	if err != nil {
		return SearchResult{}, err
	}
	if err := s.send(strings.Join(goTokens, " ") + "\n"); err != nil {
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchDeadline(lim))
	defer cancel()

	collector := newSearchCollector()
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			if searchCtx.Err() != nil {
				s.recoverFromTimeout()
				return SearchResult{}, fmt.Errorf("%w: no bestmove within %s", ErrAnalysisTimeout, searchDeadline(lim))
			}
			s.dead = true
			return SearchResult{}, fmt.Errorf("read line: %w", err)
		}
		if collector.Feed(line) {
			return SearchResult{Reports: collector.Reports(), BestMove: collector.BestMove()}, nil
		}
	}
}

// recoverFromTimeout sends stop and waits for the late bestmove so the
// process is idle again. If it never arrives the session is out of
// sync and gets marked dead so the pool replaces it.
func (s *Session) recoverFromTimeout() {
	if err := s.send("stop\n"); err != nil {
		s.dead = true
		return
	}
	recoverCtx, cancel := context.WithTimeout(context.Background(), stopRecoverWindow)
	defer cancel()
	for {
		line, err := s.readLine(recoverCtx)
		if err != nil {
			s.dead = true
			s.log.Warn("engine did not acknowledge stop, discarding session", zap.Error(err))
			return
		}
		if strings.HasPrefix(line, "bestmove") {
			return
		}
	}
}

// Dead reports whether the session lost protocol synchronization and
// must not be reused.
func (s *Session) Dead() bool { return s.dead }

// Close sends quit and waits briefly for the process to exit, then
// kills it.
func (s *Session) Close() error {
	s.dead = true
	s.quitOnce.Do(func() { close(s.quit) })
	_ = s.send("quit\n")
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		return <-done
	}
}

func (s *Session) send(msg string) error {
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			select {
			case err := <-s.readErr:
				return "", err
			default:
				return "", io.EOF
			}
		}
		return line, nil
	}
}

func buildPositionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	// depth wins when both limits are set
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	} else if l.MoveTime > 0 {
		args = append(args, "movetime", strconv.Itoa(int(l.MoveTime.Milliseconds())))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func searchDeadline(l Limits) time.Duration {
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	if l.MoveTime > 0 {
		return l.MoveTime + searchGraceMargin
	}
	return 6 * time.Second
}

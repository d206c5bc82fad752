// Package trainer orchestrates a full analysis run: fetch recent games,
// walk the user's moves, persist reports, and export puzzle images.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/blunder-trainer/internal/blunder"
	"github.com/park285/blunder-trainer/internal/chesscom"
	"github.com/park285/blunder-trainer/internal/puzzleimg"
)

// GameSource lists a player's recent standard games.
type GameSource interface {
	RecentGames(ctx context.Context, username string, maxMonths int) ([]chesscom.Game, error)
}

// GameWalker grades every move of the tracked player in one game.
type GameWalker interface {
	Walk(ctx context.Context, in blunder.GameInput, username string) (blunder.GameReport, error)
}

// ReportStore persists finished game reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report blunder.GameReport) error
}

// ProgressTracker remembers which games were already analyzed and
// exposes run status to outside observers.
type ProgressTracker interface {
	IsAnalyzed(ctx context.Context, user, gameID string) (bool, error)
	MarkAnalyzed(ctx context.Context, user, gameID string) error
	SetRunStatus(ctx context.Context, user string, st blunder.RunStatus) error
}

// PuzzleRenderer turns a puzzle position into a PNG.
type PuzzleRenderer interface {
	RenderFEN(ctx context.Context, fen string, opts puzzleimg.RenderOptions) ([]byte, error)
}

type Config struct {
	MaxMonths      int
	Workers        int // concurrent game walks, minimum 1
	PuzzleImageDir string
}

// Summary aggregates one run.
type Summary struct {
	Username      string
	GamesFetched  int
	GamesSkipped  int
	GamesAnalyzed int
	GamesFailed   int
	MovesAnalyzed int
	BlundersFound int
}

type Service struct {
	source   GameSource
	walker   GameWalker
	store    ReportStore     // optional
	progress ProgressTracker // optional
	renderer PuzzleRenderer  // optional
	cfg      Config
	log      *zap.Logger
}

func NewService(source GameSource, walker GameWalker, cfg Config, log *zap.Logger) (*Service, error) {
	if source == nil {
		return nil, errors.New("nil game source")
	}
	if walker == nil {
		return nil, errors.New("nil walker")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxMonths <= 0 {
		cfg.MaxMonths = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Service{source: source, walker: walker, cfg: cfg, log: log}, nil
}

// WithStore attaches a report store. Nil-safe to skip.
func (s *Service) WithStore(store ReportStore) *Service {
	s.store = store
	return s
}

func (s *Service) WithProgress(progress ProgressTracker) *Service {
	s.progress = progress
	return s
}

func (s *Service) WithRenderer(renderer PuzzleRenderer) *Service {
	s.renderer = renderer
	return s
}

// Run fetches the user's recent games and analyzes every game not seen
// before. maxGames caps the batch when positive; zero means no cap.
// Per-game failures are counted and logged without aborting the run.
func (s *Service) Run(ctx context.Context, username string, maxGames int) (Summary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Summary{}, errors.New("username is required")
	}

	sum := Summary{Username: username}

	games, err := s.source.RecentGames(ctx, username, s.cfg.MaxMonths)
	if err != nil {
		s.setStatus(ctx, username, "failed", 0, 0, 0)
		return sum, fmt.Errorf("fetch games: %w", err)
	}
	sum.GamesFetched = len(games)

	pending := make([]chesscom.Game, 0, len(games))
	for _, g := range games {
		if s.progress != nil {
			done, perr := s.progress.IsAnalyzed(ctx, username, g.ID())
			if perr != nil {
				s.log.Warn("progress lookup failed", zap.String("game_id", g.ID()), zap.Error(perr))
			} else if done {
				sum.GamesSkipped++
				continue
			}
		}
		pending = append(pending, g)
		if maxGames > 0 && len(pending) >= maxGames {
			break
		}
	}

	s.log.Info("analysis run starting",
		zap.String("username", username),
		zap.Int("fetched", sum.GamesFetched),
		zap.Int("skipped", sum.GamesSkipped),
		zap.Int("pending", len(pending)))

	s.setStatus(ctx, username, "running", len(pending), 0, 0)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan chesscom.Game)
	)

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range jobs {
				report, werr := s.analyzeGame(ctx, username, g)

				mu.Lock()
				switch {
				case werr != nil && errors.Is(werr, context.Canceled):
					sum.GamesFailed++
				case werr != nil:
					sum.GamesFailed++
					s.log.Error("game analysis failed", zap.String("game_id", g.ID()), zap.Error(werr))
				default:
					sum.GamesAnalyzed++
					sum.MovesAnalyzed += len(report.Analyses)
					sum.BlundersFound += len(report.Puzzles)
				}
				done := sum.GamesAnalyzed + sum.GamesFailed
				blunders := sum.BlundersFound
				mu.Unlock()

				s.setStatus(ctx, username, "running", len(pending), done, blunders)
			}
		}()
	}

feed:
	for _, g := range pending {
		select {
		case jobs <- g:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.setStatus(ctx, username, "failed", len(pending), sum.GamesAnalyzed+sum.GamesFailed, sum.BlundersFound)
		return sum, err
	}

	s.setStatus(ctx, username, "done", len(pending), sum.GamesAnalyzed+sum.GamesFailed, sum.BlundersFound)
	s.log.Info("analysis run finished",
		zap.String("username", username),
		zap.Int("analyzed", sum.GamesAnalyzed),
		zap.Int("failed", sum.GamesFailed),
		zap.Int("moves", sum.MovesAnalyzed),
		zap.Int("blunders", sum.BlundersFound))

	return sum, nil
}

func (s *Service) analyzeGame(ctx context.Context, username string, g chesscom.Game) (blunder.GameReport, error) {
	in := blunder.GameInput{
		GameID:    g.ID(),
		GameURL:   g.URL,
		PGN:       g.PGN,
		White:     g.White.Username,
		Black:     g.Black.Username,
		TimeClass: g.TimeClass,
		Rated:     g.Rated,
	}

	report, err := s.walker.Walk(ctx, in, username)
	if err != nil {
		return blunder.GameReport{}, err
	}

	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			return blunder.GameReport{}, fmt.Errorf("save report: %w", err)
		}
	}
	if s.progress != nil {
		if err := s.progress.MarkAnalyzed(ctx, username, in.GameID); err != nil {
			s.log.Warn("mark analyzed failed", zap.String("game_id", in.GameID), zap.Error(err))
		}
	}
	if s.renderer != nil && s.cfg.PuzzleImageDir != "" {
		for _, p := range report.Puzzles {
			if err := s.exportPuzzleImage(ctx, p); err != nil {
				s.log.Warn("puzzle image export failed", zap.String("puzzle_id", p.ID), zap.Error(err))
			}
		}
	}

	return report, nil
}

func (s *Service) exportPuzzleImage(ctx context.Context, p blunder.BlunderPuzzle) error {
	opts := puzzleimg.RenderOptions{Orientation: sideColor(p.SideToMove)}
	if from, to, ok := squaresFromUCI(p.PlayedMoveUCI); ok {
		opts.Arrow = &puzzleimg.MoveHighlight{From: from, To: to}
	}

	data, err := s.renderer.RenderFEN(ctx, p.FEN, opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.PuzzleImageDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.cfg.PuzzleImageDir, p.ID+".png")
	return os.WriteFile(path, data, 0o644)
}

func (s *Service) setStatus(ctx context.Context, username, state string, total, done, blunders int) {
	if s.progress == nil {
		return
	}
	st := blunder.RunStatus{
		State:      state,
		GamesTotal: total,
		GamesDone:  done,
		Blunders:   blunders,
		UpdatedAt:  time.Now(),
	}
	if err := s.progress.SetRunStatus(ctx, username, st); err != nil {
		s.log.Warn("run status update failed", zap.Error(err))
	}
}

func sideColor(side string) nchess.Color {
	if strings.EqualFold(side, "black") {
		return nchess.Black
	}
	return nchess.White
}

// squaresFromUCI extracts the from and to squares of a long algebraic
// move like e2e4 or a7a8q.
func squaresFromUCI(move string) (nchess.Square, nchess.Square, bool) {
	if len(move) < 4 {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	from, ok := parseSquare(move[0:2])
	if !ok {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	to, ok := parseSquare(move[2:4])
	if !ok {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	return from, to, true
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank), true
}

package trainer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/blunder-trainer/internal/analysis"
	"github.com/park285/blunder-trainer/internal/blunder"
	"github.com/park285/blunder-trainer/internal/chesscom"
	"github.com/park285/blunder-trainer/internal/config"
	"github.com/park285/blunder-trainer/internal/engine/uci"
	"github.com/park285/blunder-trainer/internal/preset"
	"github.com/park285/blunder-trainer/internal/puzzleimg"
)

// Deps wires the full analysis stack from configuration. Repository and
// progress tracking stay nil when their backing services are not
// configured.
type Deps struct {
	Service *Service
	Backend analysis.Backend
	Repo    *blunder.Repository
	Redis   *redis.Client

	log *zap.Logger
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := preset.Load(cfg.PresetDir)
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	prof, err := catalog.Get(cfg.AnalysisPreset)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(cfg, prof, logger)
	if err != nil {
		return nil, err
	}

	walkerCfg := blunder.WalkerConfig{
		MultiPV:     prof.MultiPV,
		ThresholdCP: prof.BlunderThresholdCP,
		Limits: uci.Limits{
			Depth:    prof.Depth,
			MoveTime: time.Duration(prof.MoveTimeMillis) * time.Millisecond,
		},
	}
	walker := blunder.NewWalker(backend, walkerCfg, logger)
	source := chesscom.NewClient(cfg.ChesscomBaseURL, logger)

	svc, err := NewService(source, walker, Config{
		MaxMonths:      cfg.MaxMonths,
		Workers:        cfg.EngineSessions,
		PuzzleImageDir: cfg.PuzzleImageDir,
	}, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	deps := &Deps{Service: svc, Backend: backend, log: logger}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, rerr := blunder.NewRepository(cfg.DatabaseURL)
		if rerr != nil {
			deps.Close()
			return nil, fmt.Errorf("init repository: %w", rerr)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			repo.Close()
			deps.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.Repo = repo
		svc.WithStore(repo)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		ropts, rerr := redis.ParseURL(cfg.RedisURL)
		if rerr != nil {
			deps.Close()
			return nil, fmt.Errorf("parse redis url: %w", rerr)
		}
		rdb := redis.NewClient(ropts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			deps.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.Redis = rdb
		svc.WithProgress(blunder.NewProgressStore(rdb))
	}

	if cfg.PuzzleImageDir != "" {
		svc.WithRenderer(puzzleimg.NewRenderer())
	}

	return deps, nil
}

func buildBackend(cfg *config.AppConfig, prof preset.AnalysisPreset, logger *zap.Logger) (analysis.Backend, error) {
	switch cfg.BackendMode {
	case "remote":
		return analysis.NewRemoteBackend(cfg.RemoteEvalURL, logger), nil
	case "local":
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Sessions:   cfg.EngineSessions,
			QueueSize:  cfg.QueueSize,
			Options: uci.Options{
				Threads: cfg.EngineThreads,
				HashMB:  cfg.EngineHashMB,
				MultiPV: prof.MultiPV,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
		return analysis.NewLocalBackend(pool, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.BackendMode)
	}
}

// Close releases every owned resource. Safe on a partially built Deps.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Backend != nil {
		if err := d.Backend.Close(); err != nil && d.log != nil {
			d.log.Warn("close backend", zap.Error(err))
		}
	}
	if d.Repo != nil {
		if err := d.Repo.Close(); err != nil && d.log != nil {
			d.log.Warn("close repository", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil && d.log != nil {
			d.log.Warn("close redis", zap.Error(err))
		}
	}
}

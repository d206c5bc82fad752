package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	StockfishPath string

	EngineSessions int
	EngineThreads  int
	EngineHashMB   int
	QueueSize      int

	BackendMode   string // "local" or "remote"
	RemoteEvalURL string

	AnalysisPreset string
	PresetDir      string

	DatabaseURL string
	RedisURL    string

	ChesscomBaseURL string
	MaxMonths       int

	PuzzleImageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		EngineSessions: 2,
		EngineThreads:  2,
		EngineHashMB:   128,
		QueueSize:      64,
		BackendMode:    "local",
		AnalysisPreset: "standard",
		MaxMonths:      3,
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	cfg.RemoteEvalURL = strings.TrimSpace(os.Getenv("REMOTE_EVAL_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.PresetDir = strings.TrimSpace(os.Getenv("ANALYSIS_PRESET_DIR"))
	cfg.PuzzleImageDir = strings.TrimSpace(os.Getenv("PUZZLE_IMAGE_DIR"))

	if v := strings.TrimSpace(os.Getenv("BACKEND_MODE")); v != "" {
		cfg.BackendMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_PRESET")); v != "" {
		cfg.AnalysisPreset = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SESSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineSessions = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSCOM_MAX_MONTHS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMonths = n
		}
	}

	cfg.ChesscomBaseURL = strings.TrimSpace(os.Getenv("CHESSCOM_BASE_URL"))
	if cfg.ChesscomBaseURL == "" {
		cfg.ChesscomBaseURL = "https://api.chess.com"
	}

	switch cfg.BackendMode {
	case "local":
		if cfg.StockfishPath == "" {
			return nil, errors.New("STOCKFISH_PATH is required for local backend")
		}
	case "remote":
		if cfg.RemoteEvalURL == "" {
			return nil, errors.New("REMOTE_EVAL_URL is required for remote backend")
		}
	default:
		return nil, errors.New("BACKEND_MODE must be local or remote")
	}

	return cfg, nil
}

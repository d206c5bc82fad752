package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/park285/blunder-trainer/internal/blunder"
	appcfg "github.com/park285/blunder-trainer/internal/config"
	"github.com/park285/blunder-trainer/internal/obslog"
	"github.com/park285/blunder-trainer/internal/trainer"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <chess.com username> [max games]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s puzzles <chess.com username> [limit]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Puzzle listing only needs the database, not the engine stack.
	if os.Args[1] == "puzzles" {
		if len(os.Args) < 3 {
			usage()
		}
		if err := listPuzzles(ctx, os.Args[2], optionalCount(3, 20)); err != nil {
			logger.Error("puzzle listing failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	deps, err := trainer.New(cfg, logger)
	if err != nil {
		logger.Fatal("trainer init failed", zap.Error(err))
	}
	defer deps.Close()

	username := os.Args[1]
	maxGames := optionalCount(2, 0)

	sum, err := deps.Service.Run(ctx, username, maxGames)
	if err != nil {
		logger.Error("analysis run failed", zap.Error(err))
		deps.Close()
		os.Exit(1)
	}

	fmt.Printf("analyzed %d games for %s (%d skipped, %d failed)\n",
		sum.GamesAnalyzed, sum.Username, sum.GamesSkipped, sum.GamesFailed)
	fmt.Printf("graded %d moves, found %d blunders\n", sum.MovesAnalyzed, sum.BlundersFound)
}

// optionalCount reads a non-negative integer argument at index i,
// falling back to def when absent.
func optionalCount(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil || n < 0 {
		fmt.Fprintf(os.Stderr, "invalid count %q\n", os.Args[i])
		os.Exit(2)
	}
	return n
}

func listPuzzles(ctx context.Context, username string, limit int) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for puzzle listing")
	}
	repo, err := blunder.NewRepository(databaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	puzzles, err := repo.PuzzlesForUser(ctx, username, limit)
	if err != nil {
		return err
	}
	if len(puzzles) == 0 {
		fmt.Printf("no stored puzzles for %s\n", username)
		return nil
	}
	for _, p := range puzzles {
		drop := "n/a"
		if p.EvalDropCP != nil {
			drop = strconv.Itoa(*p.EvalDropCP)
		}
		fmt.Printf("%s move %d (%s to move): played %s, best %s, drop %s cp\n",
			p.ID, p.MoveNumber, p.SideToMove, p.PlayedMoveSAN, p.CorrectMoveSAN, drop)
		fmt.Printf("  fen: %s\n  game: %s\n", p.FEN, p.GameURL)
	}
	return nil
}

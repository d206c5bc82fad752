package blunder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository persists walk results in postgres: one row per analyzed
// game plus one row per puzzle, both idempotently upserted so re-runs
// overwrite instead of duplicating.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_analyses (
			game_id TEXT PRIMARY KEY,
			game_url TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL,
			user_color TEXT NOT NULL,
			white TEXT NOT NULL DEFAULT '',
			black TEXT NOT NULL DEFAULT '',
			time_class TEXT NOT NULL DEFAULT '',
			rated BOOLEAN NOT NULL DEFAULT FALSE,
			blunder_threshold_cp INT NOT NULL,
			moves_analyzed INT NOT NULL,
			blunders_found INT NOT NULL,
			analyses JSONB NOT NULL,
			puzzles JSONB NOT NULL,
			analyzed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS blunder_puzzles (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			username TEXT NOT NULL,
			game_url TEXT NOT NULL DEFAULT '',
			fen TEXT NOT NULL,
			side_to_move TEXT NOT NULL,
			move_number INT NOT NULL,
			played_move_uci TEXT NOT NULL,
			played_move_san TEXT NOT NULL,
			correct_move_uci TEXT NOT NULL,
			correct_move_san TEXT NOT NULL,
			eval_drop_cp INT,
			acceptable_moves JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS blunder_puzzles_username_idx
			ON blunder_puzzles (username)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveReport upserts one game's walk result and all of its puzzles.
func (r *Repository) SaveReport(ctx context.Context, report GameReport) error {
	if r == nil || r.db == nil {
		return nil
	}

	analysesRaw, err := json.Marshal(report.Analyses)
	if err != nil {
		return fmt.Errorf("marshal analyses: %w", err)
	}
	puzzlesRaw, err := json.Marshal(report.Puzzles)
	if err != nil {
		return fmt.Errorf("marshal puzzles: %w", err)
	}

	q := `INSERT INTO game_analyses (
	    game_id, game_url, username, user_color, white, black,
	    time_class, rated, blunder_threshold_cp,
	    moves_analyzed, blunders_found, analyses, puzzles, analyzed_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    game_url=EXCLUDED.game_url,
	    username=EXCLUDED.username,
	    user_color=EXCLUDED.user_color,
	    white=EXCLUDED.white,
	    black=EXCLUDED.black,
	    time_class=EXCLUDED.time_class,
	    rated=EXCLUDED.rated,
	    blunder_threshold_cp=EXCLUDED.blunder_threshold_cp,
	    moves_analyzed=EXCLUDED.moves_analyzed,
	    blunders_found=EXCLUDED.blunders_found,
	    analyses=EXCLUDED.analyses,
	    puzzles=EXCLUDED.puzzles,
	    analyzed_at=EXCLUDED.analyzed_at`

	_, err = r.db.ExecContext(ctx, q,
		report.GameID, report.GameURL, report.Username, report.UserColor,
		report.White, report.Black, report.TimeClass, report.Rated,
		report.ThresholdCP, len(report.Analyses), len(report.Puzzles),
		string(analysesRaw), string(puzzlesRaw),
	)
	if err != nil {
		return fmt.Errorf("save game analysis %s: %w", report.GameID, err)
	}

	for _, p := range report.Puzzles {
		if err := r.savePuzzle(ctx, report, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) savePuzzle(ctx context.Context, report GameReport, p BlunderPuzzle) error {
	acceptableRaw, err := json.Marshal(p.AcceptableMoves)
	if err != nil {
		return fmt.Errorf("marshal acceptable moves: %w", err)
	}

	q := `INSERT INTO blunder_puzzles (
	    id, game_id, username, game_url, fen, side_to_move, move_number,
	    played_move_uci, played_move_san, correct_move_uci, correct_move_san,
	    eval_drop_cp, acceptable_moves, created_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()
	  ) ON CONFLICT (id) DO UPDATE SET
	    game_id=EXCLUDED.game_id,
	    username=EXCLUDED.username,
	    game_url=EXCLUDED.game_url,
	    fen=EXCLUDED.fen,
	    side_to_move=EXCLUDED.side_to_move,
	    move_number=EXCLUDED.move_number,
	    played_move_uci=EXCLUDED.played_move_uci,
	    played_move_san=EXCLUDED.played_move_san,
	    correct_move_uci=EXCLUDED.correct_move_uci,
	    correct_move_san=EXCLUDED.correct_move_san,
	    eval_drop_cp=EXCLUDED.eval_drop_cp,
	    acceptable_moves=EXCLUDED.acceptable_moves`

	var drop sql.NullInt64
	if p.EvalDropCP != nil {
		drop = sql.NullInt64{Int64: int64(*p.EvalDropCP), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, q,
		p.ID, report.GameID, report.Username, p.GameURL, p.FEN,
		p.SideToMove, p.MoveNumber, p.PlayedMoveUCI, p.PlayedMoveSAN,
		p.CorrectMoveUCI, p.CorrectMoveSAN, drop, string(acceptableRaw),
	)
	if err != nil {
		return fmt.Errorf("save puzzle %s: %w", p.ID, err)
	}
	return nil
}

// PuzzlesForUser loads the stored puzzles for one username, newest
// first.
func (r *Repository) PuzzlesForUser(ctx context.Context, username string, limit int) ([]BlunderPuzzle, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, game_url, fen, side_to_move, move_number,
	        played_move_uci, played_move_san, correct_move_uci,
	        correct_move_san, eval_drop_cp, acceptable_moves
	      FROM blunder_puzzles
	      WHERE username = $1
	      ORDER BY created_at DESC
	      LIMIT $2`

	rows, err := r.db.QueryContext(ctx, q, username, limit)
	if err != nil {
		return nil, fmt.Errorf("load puzzles for %s: %w", username, err)
	}
	defer rows.Close()

	var out []BlunderPuzzle
	for rows.Next() {
		var (
			p             BlunderPuzzle
			drop          sql.NullInt64
			acceptableRaw []byte
		)
		if err := rows.Scan(&p.ID, &p.GameURL, &p.FEN, &p.SideToMove,
			&p.MoveNumber, &p.PlayedMoveUCI, &p.PlayedMoveSAN,
			&p.CorrectMoveUCI, &p.CorrectMoveSAN, &drop, &acceptableRaw); err != nil {
			return nil, fmt.Errorf("scan puzzle: %w", err)
		}
		if drop.Valid {
			v := int(drop.Int64)
			p.EvalDropCP = &v
		}
		if len(acceptableRaw) > 0 {
			if err := json.Unmarshal(acceptableRaw, &p.AcceptableMoves); err != nil {
				return nil, fmt.Errorf("decode acceptable moves: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

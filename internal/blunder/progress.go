package blunder

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlRunStatus = 24 * time.Hour

// RunStatus summarizes one analysis run for a user.
type RunStatus struct {
	State      string
	GamesTotal int
	GamesDone  int
	Blunders   int
	UpdatedAt  time.Time
}

// ProgressStore tracks which games were already walked so re-runs skip
// them, plus a short-lived status hash for the current run.
type ProgressStore struct {
	rdb *redis.Client
}

func NewProgressStore(rdb *redis.Client) *ProgressStore {
	return &ProgressStore{rdb: rdb}
}

func (s *ProgressStore) keyAnalyzed(user string) string {
	return "blunder:analyzed:" + strings.ToLower(strings.TrimSpace(user))
}

func (s *ProgressStore) keyRun(user string) string {
	return "blunder:run:" + strings.ToLower(strings.TrimSpace(user))
}

// MarkAnalyzed records a finished game. The analyzed set carries no
// TTL; skipping old games is the whole point of keeping it.
func (s *ProgressStore) MarkAnalyzed(ctx context.Context, user, gameID string) error {
	return s.rdb.SAdd(ctx, s.keyAnalyzed(user), gameID).Err()
}

func (s *ProgressStore) IsAnalyzed(ctx context.Context, user, gameID string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.keyAnalyzed(user), gameID).Result()
}

func (s *ProgressStore) AnalyzedCount(ctx context.Context, user string) (int64, error) {
	return s.rdb.SCard(ctx, s.keyAnalyzed(user)).Result()
}

// Reset forgets a user's analyzed games and run status.
func (s *ProgressStore) Reset(ctx context.Context, user string) error {
	return s.rdb.Del(ctx, s.keyAnalyzed(user), s.keyRun(user)).Err()
}

func (s *ProgressStore) SetRunStatus(ctx context.Context, user string, st RunStatus) error {
	key := s.keyRun(user)
	fields := map[string]any{
		"state":       st.State,
		"games_total": st.GamesTotal,
		"games_done":  st.GamesDone,
		"blunders":    st.Blunders,
		"updated_at":  time.Now().Unix(),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttlRunStatus).Err()
}

// GetRunStatus loads the current run status; ok is false when no run
// is recorded.
func (s *ProgressStore) GetRunStatus(ctx context.Context, user string) (RunStatus, bool, error) {
	raw, err := s.rdb.HGetAll(ctx, s.keyRun(user)).Result()
	if err != nil {
		return RunStatus{}, false, err
	}
	if len(raw) == 0 {
		return RunStatus{}, false, nil
	}
	st := RunStatus{
		State:      raw["state"],
		GamesTotal: atoiOr(raw["games_total"], 0),
		GamesDone:  atoiOr(raw["games_done"], 0),
		Blunders:   atoiOr(raw["blunders"], 0),
	}
	if ts := atoiOr(raw["updated_at"], 0); ts > 0 {
		st.UpdatedAt = time.Unix(int64(ts), 0)
	}
	return st, true, nil
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

package chesscom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newArchiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("missing client user agent, got %q", ua)
		}
		switch r.URL.Path {
		case "/pub/player/alice/games/archives":
			json.NewEncoder(w).Encode(map[string][]string{"archives": {
				srv.URL + "/pub/player/alice/games/2026/05",
				srv.URL + "/pub/player/alice/games/2026/06",
				srv.URL + "/pub/player/alice/games/2026/07",
			}})
		case "/pub/player/alice/games/2026/06":
			json.NewEncoder(w).Encode(map[string]any{"games": []Game{
				{URL: "https://www.chess.com/game/live/1", PGN: "1. e4 *", Rules: "chess", TimeClass: "blitz"},
				{URL: "https://www.chess.com/game/live/2", PGN: "1. e4 *", Rules: "chess960"},
			}})
		case "/pub/player/alice/games/2026/07":
			json.NewEncoder(w).Encode(map[string]any{"games": []Game{
				{URL: "https://www.chess.com/game/live/3", PGN: "1. d4 *", Rules: "chess", TimeClass: "rapid"},
				{URL: "https://www.chess.com/game/live/4", PGN: "", Rules: "chess"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

func TestRecentGamesFetchesAndFilters(t *testing.T) {
	srv := newArchiveServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	games, err := c.RecentGames(context.Background(), "Alice", 2)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	// 4 games across the last two months, minus the variant and the
	// missing-pgn game.
	if len(games) != 2 {
		t.Fatalf("expected 2 standard games, got %d", len(games))
	}
	if games[0].ID() != "1" || games[1].ID() != "3" {
		t.Fatalf("game ids mismatch: %s %s", games[0].ID(), games[1].ID())
	}
}

func TestRecentGamesMonthCap(t *testing.T) {
	srv := newArchiveServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	games, err := c.RecentGames(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(games) != 1 || games[0].ID() != "3" {
		t.Fatalf("month cap must keep only the newest archive: %+v", games)
	}
}

func TestArchivesErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Archives(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected an error for a missing player")
	}
}

func TestFilterStandard(t *testing.T) {
	games := []Game{
		{URL: "u1", PGN: "1. e4 *", Rules: "chess"},
		{URL: "u2", PGN: "1. e4 *", Rules: "bughouse"},
		{URL: "u3", PGN: "", Rules: "chess"},
	}
	out := FilterStandard(games)
	if len(out) != 1 || out[0].URL != "u1" {
		t.Fatalf("filter mismatch: %+v", out)
	}
}

func TestGameID(t *testing.T) {
	cases := map[string]string{
		"https://www.chess.com/game/live/147461995910": "147461995910",
		"https://www.chess.com/game/daily/55/":         "55",
		"bare-id":                                      "bare-id",
	}
	for url, want := range cases {
		if got := (Game{URL: url}).ID(); got != want {
			t.Fatalf("ID(%q) = %q, want %q", url, got, want)
		}
	}
}

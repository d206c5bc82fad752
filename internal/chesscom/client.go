// Package chesscom fetches a player's game history from the chess.com
// public API.
package chesscom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.chess.com"

	// The public API asks clients to identify themselves.
	userAgent = "blunder-trainer/1.0 (+https://github.com/park285/blunder-trainer)"

	archivesTimeout = 30 * time.Second
	monthTimeout    = 60 * time.Second
)

// Game is one played game as the archive endpoint returns it.
type Game struct {
	URL         string `json:"url"`
	PGN         string `json:"pgn"`
	TimeControl string `json:"time_control"`
	TimeClass   string `json:"time_class"`
	Rules       string `json:"rules"`
	Rated       bool   `json:"rated"`
	EndTime     int64  `json:"end_time"`
	White       Player `json:"white"`
	Black       Player `json:"black"`
}

type Player struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
}

// ID derives a stable game identifier from the game URL, the trailing
// path segment on chess.com live/daily URLs.
func (g Game) ID() string {
	trimmed := strings.TrimRight(g.URL, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

type archivesResponse struct {
	Archives []string `json:"archives"`
}

type monthResponse struct {
	Games []Game `json:"games"`
}

// Client reads the chess.com published-data API.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	log     *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			ReadTimeout:     monthTimeout,
			WriteTimeout:    monthTimeout,
			MaxConnsPerHost: 4,
		},
		log: log,
	}
}

// Archives lists the monthly archive URLs for a player, oldest first.
func (c *Client) Archives(ctx context.Context, username string) ([]string, error) {
	url := fmt.Sprintf("%s/pub/player/%s/games/archives", c.baseURL, strings.ToLower(username))
	var resp archivesResponse
	if err := c.getJSON(ctx, url, archivesTimeout, &resp); err != nil {
		return nil, fmt.Errorf("list archives for %s: %w", username, err)
	}
	return resp.Archives, nil
}

// MonthGames fetches every game in one monthly archive.
func (c *Client) MonthGames(ctx context.Context, archiveURL string) ([]Game, error) {
	var resp monthResponse
	if err := c.getJSON(ctx, archiveURL, monthTimeout, &resp); err != nil {
		return nil, fmt.Errorf("fetch archive %s: %w", archiveURL, err)
	}
	return resp.Games, nil
}

// RecentGames fetches a player's games from the newest maxMonths
// archives, filtered to standard chess games that carry a PGN.
// maxMonths <= 0 fetches everything.
func (c *Client) RecentGames(ctx context.Context, username string, maxMonths int) ([]Game, error) {
	archives, err := c.Archives(ctx, username)
	if err != nil {
		return nil, err
	}
	if maxMonths > 0 && len(archives) > maxMonths {
		archives = archives[len(archives)-maxMonths:]
	}

	var all []Game
	for _, archiveURL := range archives {
		games, err := c.MonthGames(ctx, archiveURL)
		if err != nil {
			return nil, err
		}
		c.log.Info("fetched archive month",
			zap.String("archive", archiveURL), zap.Int("games", len(games)))
		all = append(all, games...)
	}
	return FilterStandard(all), nil
}

// FilterStandard drops variant games and games without a PGN.
func FilterStandard(games []Game) []Game {
	out := make([]Game, 0, len(games))
	for _, g := range games {
		if g.Rules == "chess" && g.PGN != "" {
			out = append(out, g)
		}
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, url string, timeout time.Duration, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	req.Header.SetUserAgent(userAgent)

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("chess.com api error: status=%d", status)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package uci

import "errors"

var (
	// ErrEngineStartup means the engine process could not be spawned or
	// never completed the uci/isready handshake in time.
	ErrEngineStartup = errors.New("engine startup failed")

	// ErrAnalysisTimeout means a search did not produce its bestmove
	// line before the request deadline. The owning session may no
	// longer be protocol-synchronized and must be checked with Dead.
	ErrAnalysisTimeout = errors.New("analysis timed out")

	// ErrEngineUnavailable means no healthy session could serve the
	// request. Callers may retry after backoff; the pool never retries
	// on its own.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrPoolClosed is returned for submissions after shutdown began.
	ErrPoolClosed = errors.New("engine pool closed")

	errSessionDead = errors.New("session dead")
)

package blunder

// AcceptableMove is a candidate whose loss against the best line stays
// below the blunder threshold.
type AcceptableMove struct {
	MoveUCI string `json:"move_uci"`
	MoveSAN string `json:"move_san"`
	EvalCP  *int   `json:"eval_cp,omitempty"`
	MateIn  *int   `json:"mate_in,omitempty"`
}

// MoveAnalysis grades one played move of the tracked side.
type MoveAnalysis struct {
	Ply             int              `json:"ply"`
	MoveNumber      int              `json:"move_number"`
	Side            string           `json:"side"`
	FENBefore       string           `json:"fen_before"`
	PlayedMoveUCI   string           `json:"played_move_uci"`
	PlayedMoveSAN   string           `json:"played_move_san"`
	BestMoveUCI     string           `json:"best_move_uci"`
	BestMoveSAN     string           `json:"best_move_san"`
	EvalBeforeCP    *int             `json:"eval_before_cp,omitempty"`
	MateBefore      *int             `json:"mate_before,omitempty"`
	EvalAfterCP     *int             `json:"eval_after_cp,omitempty"`
	MateAfter       *int             `json:"mate_after,omitempty"`
	DropCP          *int             `json:"drop_cp,omitempty"`
	IsBlunder       bool             `json:"is_blunder"`
	AcceptableMoves []AcceptableMove `json:"acceptable_moves"`
}

// BlunderPuzzle is a training position carved out of a blunder: the
// position before the mistake, what was played, and what should have
// been.
type BlunderPuzzle struct {
	ID              string           `json:"id"`
	GameURL         string           `json:"game_url"`
	FEN             string           `json:"fen"`
	SideToMove      string           `json:"side_to_move"`
	MoveNumber      int              `json:"move_number"`
	PlayedMoveUCI   string           `json:"played_move_uci"`
	PlayedMoveSAN   string           `json:"played_move_san"`
	CorrectMoveUCI  string           `json:"correct_move_uci"`
	CorrectMoveSAN  string           `json:"correct_move_san"`
	EvalDropCP      *int             `json:"eval_drop_cp,omitempty"`
	AcceptableMoves []AcceptableMove `json:"acceptable_moves"`
}

// GameInput is one game to walk.
type GameInput struct {
	GameID    string
	GameURL   string
	PGN       string
	White     string
	Black     string
	TimeClass string
	Rated     bool
}

// GameReport is the walk result for one game.
type GameReport struct {
	GameID      string          `json:"game_id"`
	GameURL     string          `json:"game_url"`
	Username    string          `json:"username"`
	UserColor   string          `json:"user_color"`
	White       string          `json:"white"`
	Black       string          `json:"black"`
	TimeClass   string          `json:"time_class"`
	Rated       bool            `json:"rated"`
	ThresholdCP int             `json:"blunder_threshold_cp"`
	Analyses    []MoveAnalysis  `json:"analyses"`
	Puzzles     []BlunderPuzzle `json:"blunders"`
}

package puzzleimg

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/pieces/*.svg
var pieceFiles embed.FS

// pieceSet rasterizes piece sprites at the square size and keeps them
// for reuse across renders. Each renderer owns one.
type pieceSet struct {
	mu      sync.Mutex
	sprites map[nchess.Piece]*image.RGBA
}

func newPieceSet() *pieceSet {
	return &pieceSet{sprites: make(map[nchess.Piece]*image.RGBA, 12)}
}

func (s *pieceSet) sprite(piece nchess.Piece) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img, ok := s.sprites[piece]; ok {
		return img, nil
	}
	img, err := rasterizePiece(piece)
	if err != nil {
		return nil, err
	}
	s.sprites[piece] = img
	return img, nil
}

func rasterizePiece(piece nchess.Piece) (*image.RGBA, error) {
	name := pieceAssetName(piece)
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg %s: %w", name, err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return nil, fmt.Errorf("piece svg %s has an empty viewbox", name)
	}
	icon.SetTarget(0, 0, squareSize, squareSize)

	img := image.NewRGBA(image.Rect(0, 0, squareSize, squareSize))
	scanner := rasterx.NewScannerGV(squareSize, squareSize, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(squareSize, squareSize, scanner), 1.0)
	return img, nil
}

func pieceAssetName(piece nchess.Piece) string {
	side := "b"
	if piece.Color() == nchess.White {
		side = "w"
	}
	var letter string
	switch piece.Type() {
	case nchess.King:
		letter = "K"
	case nchess.Queen:
		letter = "Q"
	case nchess.Rook:
		letter = "R"
	case nchess.Bishop:
		letter = "B"
	case nchess.Knight:
		letter = "N"
	case nchess.Pawn:
		letter = "P"
	}
	return "assets/pieces/" + side + letter + ".svg"
}

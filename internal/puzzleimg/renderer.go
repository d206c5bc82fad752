// Package puzzleimg renders board positions to PNG images for puzzle export.
package puzzleimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// RenderOptions controls what gets drawn on top of the position.
// LastMove tints its from/to squares, Arrow draws a move arrow,
// Orientation picks the side at the bottom edge (NoColor means White).
type RenderOptions struct {
	LastMove    *MoveHighlight
	Arrow       *MoveHighlight
	Orientation nchess.Color
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error)
	RenderFEN(ctx context.Context, fen string, opts RenderOptions) ([]byte, error)
}

type svgBoardRenderer struct {
	pieces *pieceSet
}

func NewRenderer() BoardRenderer {
	return &svgBoardRenderer{pieces: newPieceSet()}
}

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	boardMargin  = 28
)

func (r *svgBoardRenderer) RenderFEN(ctx context.Context, fen string, opts RenderOptions) ([]byte, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	game := nchess.NewGame(opt)
	return r.RenderPNG(ctx, game.Position().Board(), opts)
}

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalSide := boardSize + boardMargin*2
	origin := image.Point{X: boardMargin, Y: boardMargin}
	flip := opts.Orientation == nchess.Black

	img := image.NewRGBA(image.Rect(0, 0, totalSide, totalSide))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, origin, flip)
	if opts.LastMove != nil {
		drawSquareOverlay(img, opts.LastMove.From, origin, flip, lastMoveFill)
		drawSquareOverlay(img, opts.LastMove.To, origin, flip, lastMoveFill)
	}
	if err := r.drawPieces(img, board, origin, flip); err != nil {
		return nil, err
	}
	if opts.Arrow != nil {
		drawArrow(img, opts.Arrow.From, opts.Arrow.To, origin, flip, arrowColor)
	}
	drawCoordinates(img, origin, flip)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return pngBuf.Bytes(), nil
}

var (
	backgroundColor     = color.RGBA{244, 240, 232, 255}
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	lastMoveFill        = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	arrowColor          = color.NRGBA{R: 214, G: 70, B: 58, A: 180}
	coordinateTextColor = color.NRGBA{R: 82, G: 70, B: 56, A: 255}
)

func rankOrder(flip bool) []nchess.Rank {
	if flip {
		return []nchess.Rank{nchess.Rank1, nchess.Rank2, nchess.Rank3, nchess.Rank4, nchess.Rank5, nchess.Rank6, nchess.Rank7, nchess.Rank8}
	}
	return []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
}

func fileOrder(flip bool) []nchess.File {
	if flip {
		return []nchess.File{nchess.FileH, nchess.FileG, nchess.FileF, nchess.FileE, nchess.FileD, nchess.FileC, nchess.FileB, nchess.FileA}
	}
	return []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
}

func drawSquares(dst imagedraw.Image, origin image.Point, flip bool) {
	for row, rank := range rankOrder(flip) {
		for col, file := range fileOrder(flip) {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			sq := nchess.NewSquare(file, rank)
			clr := squareColor(sq)
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func (r *svgBoardRenderer) drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point, flip bool) error {
	boardMap := board.SquareMap()
	for row, rank := range rankOrder(flip) {
		for col, file := range fileOrder(flip) {
			sq := nchess.NewSquare(file, rank)
			piece := boardMap[sq]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := r.pieces.sprite(piece)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, origin image.Point, flip bool, clr color.Color) {
	if img == nil {
		return
	}
	rect := squareRect(sq, origin, flip)
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawArrow(img *image.RGBA, from, to nchess.Square, origin image.Point, flip bool, clr color.Color) {
	if img == nil {
		return
	}
	if from == to {
		return
	}
	startRect := squareRect(from, origin, flip)
	endRect := squareRect(to, origin, flip)
	start := image.Point{
		X: startRect.Min.X + squareSize/2,
		Y: startRect.Min.Y + squareSize/2,
	}
	end := image.Point{
		X: endRect.Min.X + squareSize/2,
		Y: endRect.Min.Y + squareSize/2,
	}

	dx := float64(end.X - start.X)
	dy := float64(end.Y - start.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}

	dirX := dx / length
	dirY := dy / length
	perpX := -dirY
	perpY := dirX

	baseLength := length - float64(squareSize)*0.45
	if baseLength < float64(squareSize)*0.35 {
		baseLength = length * 0.6
	}
	halfWidth := float64(squareSize) * 0.18
	headWidth := float64(squareSize) * 0.32

	baseX := float64(start.X) + dirX*baseLength
	baseY := float64(start.Y) + dirY*baseLength

	shaftStartLeft := pointF{
		X: float64(start.X) - perpX*halfWidth,
		Y: float64(start.Y) - perpY*halfWidth,
	}
	shaftStartRight := pointF{
		X: float64(start.X) + perpX*halfWidth,
		Y: float64(start.Y) + perpY*halfWidth,
	}
	shaftEndLeft := pointF{
		X: baseX - perpX*halfWidth,
		Y: baseY - perpY*halfWidth,
	}
	shaftEndRight := pointF{
		X: baseX + perpX*halfWidth,
		Y: baseY + perpY*halfWidth,
	}

	fillQuad(img, shaftStartLeft, shaftStartRight, shaftEndRight, shaftEndLeft, clr)

	headLeft := pointF{
		X: baseX - perpX*headWidth/2,
		Y: baseY - perpY*headWidth/2,
	}
	headRight := pointF{
		X: baseX + perpX*headWidth/2,
		Y: baseY + perpY*headWidth/2,
	}
	headTip := pointF{
		X: float64(end.X),
		Y: float64(end.Y),
	}

	fillTriangleF(img, headTip, headLeft, headRight, clr)
}

func drawCoordinates(dst imagedraw.Image, origin image.Point, flip bool) {
	drawer := &font.Drawer{
		Dst:  dst,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(coordinateTextColor),
	}

	ranks := rankOrder(flip)
	files := fileOrder(flip)
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	boardEndY := origin.Y + boardSquares*squareSize

	for row, rank := range ranks {
		rankBaseline := origin.Y + row*squareSize + squareSize/2 + ascent/2
		drawCenteredText(drawer, rank.String(), origin.X-boardMargin/2, rankBaseline)
	}
	for col, file := range files {
		fileCenter := origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), fileCenter, boardEndY+ascent+4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	file := int(sq.File())
	rank := int(sq.Rank())
	row := 7 - rank
	col := file
	if flip {
		row = rank
		col = 7 - file
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func fillQuad(img *image.RGBA, p0, p1, p2, p3 pointF, clr color.Color) {
	fillTriangleF(img, p0, p1, p2, clr)
	fillTriangleF(img, p0, p2, p3, clr)
}

func fillTriangleF(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(minFloat(a.X, minFloat(b.X, c.X))))
	maxX := int(math.Ceil(maxFloat(a.X, maxFloat(b.X, c.X))))
	minY := int(math.Floor(minFloat(a.Y, minFloat(b.Y, c.Y))))
	maxY := int(math.Ceil(maxFloat(a.Y, maxFloat(b.Y, c.Y))))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if pointInTriangleFloat(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				blendPixel(img, x, y, clr)
			}
		}
	}
}

func pointInTriangleFloat(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	gamma := 1 - alpha - beta
	return alpha >= 0 && beta >= 0 && gamma >= 0
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if img == nil {
		return
	}
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}

	sr, sg, sb, sa := clr.RGBA()
	srcA := float64(sa) / 65535.0
	if srcA <= 0 {
		return
	}
	srcR := float64(sr) / 65535.0
	srcG := float64(sg) / 65535.0
	srcB := float64(sb) / 65535.0

	dst := img.RGBAAt(x, y)
	dstA := float64(dst.A) / 255.0

	var dstR, dstG, dstB float64
	if dstA > 0 {
		inv := 1.0 / dstA
		dstR = float64(dst.R) / 255.0 * inv
		dstG = float64(dst.G) / 255.0 * inv
		dstB = float64(dst.B) / 255.0 * inv
	}

	outA := srcA + dstA*(1-srcA)
	if outA <= 0 {
		img.SetRGBA(x, y, color.RGBA{})
		return
	}

	outR := (srcR*srcA + dstR*dstA*(1-srcA)) / outA
	outG := (srcG*srcA + dstG*dstA*(1-srcA)) / outA
	outB := (srcB*srcA + dstB*dstA*(1-srcA)) / outA

	img.SetRGBA(x, y, color.RGBA{
		R: floatToUint8(outR * outA * 255.0),
		G: floatToUint8(outG * outA * 255.0),
		B: floatToUint8(outB * outA * 255.0),
		A: floatToUint8(outA * 255.0),
	})
}

func floatToUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

type pointF struct {
	X float64
	Y float64
}

package captcha

import (
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder
)

const jpegQuality = 95

// SplitSprite cuts the instruction composite into PieceCount equal-width
// slices, left to right, and writes them to ws. Trailing columns left over
// by the integer division are dropped.
func SplitSprite(ws *Workspace, spritePath string) ([]SpritePiece, error) {
	img, err := readImage(spritePath)
	if err != nil {
		return nil, newError(KindSplitFailed, "failed to read instruction sprite", err)
	}

	b := img.Bounds()
	pieceW := b.Dx() / PieceCount
	if pieceW == 0 || b.Dy() == 0 {
		return nil, newError(KindSplitFailed, fmt.Sprintf("instruction sprite too small (%dx%d)", b.Dx(), b.Dy()), nil)
	}

	pieces := make([]SpritePiece, 0, PieceCount)
	for i := 0; i < PieceCount; i++ {
		r := image.Rect(b.Min.X+i*pieceW, b.Min.Y, b.Min.X+(i+1)*pieceW, b.Max.Y)
		path := ws.Piece(i)
		if err := writeCrop(img, r, path); err != nil {
			return nil, newError(KindSplitFailed, fmt.Sprintf("failed to write sprite piece %d", i+1), err)
		}
		pieces = append(pieces, SpritePiece{Index: i, Path: path, Bounds: r})
	}
	return pieces, nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// imageSize reads only the header of an image file.
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// writeCrop copies r out of src into a new RGBA image and saves it as JPEG.
func writeCrop(src image.Image, r image.Rectangle, path string) error {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package vision

import (
	"image"
	"math"
)

// Detection model input geometry.
const (
	InputSize = 416
	PadValue  = 114
	// values per output row: cx, cy, w, h, objectness, class score
	rowWidth = 6
)

// Strides of the three detection heads, finest first.
var Strides = []int{8, 16, 32}

// Defaults for post-processing the detection output.
const (
	ScoreThreshold = 0.1
	NMSThreshold   = 0.45
)

// Detection is a decoded box in original-image pixels, before suppression.
type Detection struct {
	X1, Y1, X2, Y2 float64
	Score          float32
}

// Rect rounds the detection to an integer rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(math.Round(d.X1)), int(math.Round(d.Y1)), int(math.Round(d.X2)), int(math.Round(d.Y2)))
}

// LetterboxRatio is the uniform scale that fits a w x h image into a
// size x size square without distortion.
func LetterboxRatio(w, h, size int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Min(float64(size)/float64(h), float64(size)/float64(w))
}

// LetterboxSize is the scaled image size placed in the top-left corner of
// the padded input.
func LetterboxSize(w, h int, ratio float64) (int, int) {
	return int(float64(w) * ratio), int(float64(h) * ratio)
}

// OutputRows is the number of anchor rows the model emits for a square
// input of the given size.
func OutputRows(size int) int {
	rows := 0
	for _, s := range Strides {
		g := size / s
		rows += g * g
	}
	return rows
}

// DecodeYOLOX turns the raw [rows x 6] model output into scored boxes in
// original-image pixels. Grid offsets and strides are applied per head,
// the score is objectness times class probability, and boxes scoring at or
// below threshold are dropped.
func DecodeYOLOX(out []float32, size int, ratio float64, threshold float32) []Detection {
	if ratio <= 0 || len(out) < OutputRows(size)*rowWidth {
		return nil
	}

	var dets []Detection
	row := 0
	for _, stride := range Strides {
		g := size / stride
		for gy := 0; gy < g; gy++ {
			for gx := 0; gx < g; gx++ {
				v := out[row*rowWidth : (row+1)*rowWidth]
				row++

				score := v[4] * v[5]
				if score <= threshold {
					continue
				}

				cx := (float64(v[0]) + float64(gx)) * float64(stride)
				cy := (float64(v[1]) + float64(gy)) * float64(stride)
				w := math.Exp(float64(v[2])) * float64(stride)
				h := math.Exp(float64(v[3])) * float64(stride)

				dets = append(dets, Detection{
					X1:    (cx - w/2) / ratio,
					Y1:    (cy - h/2) / ratio,
					X2:    (cx + w/2) / ratio,
					Y2:    (cy + h/2) / ratio,
					Score: score,
				})
			}
		}
	}
	return dets
}

// ClipRect limits r to a w x h image. The result may be empty.
func ClipRect(r image.Rectangle, w, h int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, w, h))
}

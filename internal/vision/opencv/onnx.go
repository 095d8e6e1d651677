package opencv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dreamup/checkin-agent/internal/captcha"
	"github.com/dreamup/checkin-agent/internal/vision"
)

// ONNXDetector finds icon regions with a single-class YOLOX model run
// through the OpenCV DNN module.
type ONNXDetector struct {
	mu  sync.Mutex
	net gocv.Net

	ScoreThreshold float32
	NMSThreshold   float32
}

// NewONNXDetector loads the model at path.
func NewONNXDetector(path string) (*ONNXDetector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to find detection model: %w", err)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model %s", path)
	}
	return &ONNXDetector{
		net:            net,
		ScoreThreshold: vision.ScoreThreshold,
		NMSThreshold:   vision.NMSThreshold,
	}, nil
}

// Detect implements captcha.Detector.
func (d *ONNXDetector) Detect(ctx context.Context, data []byte) ([]captcha.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode background: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("failed to decode background: empty image")
	}

	w, h := img.Cols(), img.Rows()
	ratio := vision.LetterboxRatio(w, h, vision.InputSize)

	input := letterbox(img, ratio)
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0, image.Pt(vision.InputSize, vision.InputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	dets := vision.DecodeYOLOX(raw, vision.InputSize, ratio, d.ScoreThreshold)
	if len(dets) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(dets))
	scores := make([]float32, len(dets))
	for i, det := range dets {
		rects[i] = det.Rect()
		scores[i] = det.Score
	}
	keep := gocv.NMSBoxes(rects, scores, d.ScoreThreshold, d.NMSThreshold)

	boxes := make([]captcha.BoundingBox, 0, len(keep))
	for _, i := range keep {
		r := vision.ClipRect(rects[i], w, h)
		if r.Empty() {
			continue
		}
		boxes = append(boxes, captcha.BoundingBox{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y})
	}
	return boxes, nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// letterbox scales img by ratio into the top-left corner of a square input
// filled with the pad value.
func letterbox(img gocv.Mat, ratio float64) gocv.Mat {
	pad := float64(vision.PadValue)
	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(pad, pad, pad, 0),
		vision.InputSize, vision.InputSize, gocv.MatTypeCV8UC3)

	rw, rh := vision.LetterboxSize(img.Cols(), img.Rows(), ratio)
	if rw == 0 || rh == 0 {
		return padded
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(rw, rh), 0, 0, gocv.InterpolationLinear)

	roi := padded.Region(image.Rect(0, 0, rw, rh))
	defer roi.Close()
	resized.CopyTo(&roi)
	return padded
}

package opencv

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// writeTexture writes a blocky random pattern that SIFT finds plenty of
// keypoints in.
func writeTexture(t *testing.T, path string, seed uint64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	img := image.NewGray(image.Rect(0, 0, 96, 96))
	for by := 0; by < 96; by += 8 {
		for bx := 0; bx < 96; bx += 8 {
			v := uint8(rng.IntN(256))
			for y := by; y < by+8; y++ {
				for x := bx; x < bx+8; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	writePNG(t, path, img)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestSIFTMatcherSimilarity(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	flat := filepath.Join(dir, "flat.png")
	writeTexture(t, a, 1)
	writeTexture(t, b, 2)
	writePNG(t, flat, image.NewGray(image.Rect(0, 0, 64, 64)))

	m := NewSIFTMatcher()

	self := m.Similarity(a, a)
	if self <= 0.5 || self > 1 {
		t.Errorf("self similarity = %v, want in (0.5, 1]", self)
	}
	other := m.Similarity(a, b)
	if other < 0 || other > 1 {
		t.Errorf("similarity = %v out of [0, 1]", other)
	}
	if other >= self {
		t.Errorf("different texture scored %v, not below self score %v", other, self)
	}

	if got := m.Similarity(a, flat); got != 0 {
		t.Errorf("featureless image scored %v, want 0", got)
	}
	if got := m.Similarity(a, filepath.Join(dir, "missing.png")); got != 0 {
		t.Errorf("missing image scored %v, want 0", got)
	}
}

// TestONNXDetector needs a detection model. Point CHECKIN_MODEL_PATH at one
// and optionally CHECKIN_SAMPLE_BACKGROUND at a captured challenge image.
func TestONNXDetector(t *testing.T) {
	model := os.Getenv("CHECKIN_MODEL_PATH")
	if model == "" {
		model = filepath.Join("testdata", "detector.onnx")
	}
	if _, err := os.Stat(model); os.IsNotExist(err) {
		t.Skipf("Skipping test: model %s not found", model)
	}

	det, err := NewONNXDetector(model)
	if err != nil {
		t.Fatalf("NewONNXDetector: %v", err)
	}
	defer det.Close()

	sample := os.Getenv("CHECKIN_SAMPLE_BACKGROUND")
	if sample == "" {
		sample = filepath.Join(t.TempDir(), "bg.png")
		writeTexture(t, sample, 3)
	}
	data, err := os.ReadFile(sample)
	if err != nil {
		t.Fatal(err)
	}

	boxes, err := det.Detect(context.Background(), data)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, b := range boxes {
		if !b.Valid() || b.XMin < 0 || b.YMin < 0 {
			t.Errorf("invalid box %s", b)
		}
	}
	t.Logf("detected %d regions", len(boxes))

	if _, err := det.Detect(context.Background(), []byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewONNXDetectorMissingModel(t *testing.T) {
	if _, err := NewONNXDetector(filepath.Join(t.TempDir(), "none.onnx")); err == nil {
		t.Fatal("expected error for missing model")
	}
}

// Package opencv implements the captcha detector and matcher on top of
// gocv. It needs OpenCV 4.x with the DNN and features2d modules.
package opencv

import (
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/dreamup/checkin-agent/internal/vision"
)

// SIFTMatcher scores image similarity with SIFT keypoints, FLANN k-NN
// matching and the ratio test.
type SIFTMatcher struct {
	Ratio float64
}

// NewSIFTMatcher returns a matcher using vision.DefaultRatio.
func NewSIFTMatcher() *SIFTMatcher {
	return &SIFTMatcher{Ratio: vision.DefaultRatio}
}

// Similarity implements captcha.Matcher. Unreadable images and images
// without descriptors score 0.
func (m *SIFTMatcher) Similarity(pathA, pathB string) float64 {
	a := gocv.IMRead(pathA, gocv.IMReadGrayScale)
	defer a.Close()
	b := gocv.IMRead(pathB, gocv.IMReadGrayScale)
	defer b.Close()
	if a.Empty() || b.Empty() {
		slog.Debug("cannot read image for matching", "a", pathA, "b", pathB)
		return 0
	}

	sift := gocv.NewSIFT()
	defer sift.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()

	kpA, desA := sift.DetectAndCompute(a, noMask)
	defer desA.Close()
	kpB, desB := sift.DetectAndCompute(b, noMask)
	defer desB.Close()
	if desA.Empty() || desB.Empty() || len(kpA) == 0 || len(kpB) == 0 {
		return 0
	}

	flann := gocv.NewFlannBasedMatcher()
	defer flann.Close()

	knn := flann.KnnMatch(desA, desB, 2)
	neighbours := make([][]float64, len(knn))
	for i, pair := range knn {
		d := make([]float64, len(pair))
		for j, match := range pair {
			d[j] = match.Distance
		}
		neighbours[i] = d
	}

	good := vision.CountGoodMatches(neighbours, m.Ratio)
	return vision.Similarity(good, len(kpA), len(kpB))
}

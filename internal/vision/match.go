// Package vision holds the image math shared by the region detectors and
// the feature matcher. Nothing here touches OpenCV, so it is testable on
// machines without it.
package vision

// DefaultRatio is the Lowe ratio used to discard ambiguous correspondences.
const DefaultRatio = 0.7

// CountGoodMatches applies the ratio test to k-nearest-neighbour results.
// Each entry holds the neighbour distances of one query descriptor, nearest
// first. A query with a single neighbour is accepted unconditionally; a
// query with none is skipped.
func CountGoodMatches(neighbours [][]float64, ratio float64) int {
	good := 0
	for _, n := range neighbours {
		switch {
		case len(n) == 1:
			good++
		case len(n) >= 2:
			if n[0] < ratio*n[1] {
				good++
			}
		}
	}
	return good
}

// Similarity normalizes the accepted match count by the smaller keypoint
// count of the two images. The result is clamped to [0, 1] and is 0 when
// either image has no keypoints.
func Similarity(good, keypointsA, keypointsB int) float64 {
	base := min(keypointsA, keypointsB)
	if base <= 0 || good <= 0 {
		return 0
	}
	return min(float64(good)/float64(base), 1)
}

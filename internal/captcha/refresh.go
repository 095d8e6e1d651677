package captcha

import (
	"fmt"

	"github.com/corona10/goimagehash"
)

// MaxRefreshDistance is the largest pHash Hamming distance at which two
// backgrounds are considered the same challenge.
const MaxRefreshDistance = 5

// refreshTracker remembers the previous background's perceptual hash so a
// reload that did not actually change the challenge can be noticed.
type refreshTracker struct {
	last *goimagehash.ImageHash
}

// observe hashes the background at path and reports whether it differs from
// the previously observed one. The first observation always counts as changed.
func (t *refreshTracker) observe(path string) (changed bool, distance int, err error) {
	img, err := readImage(path)
	if err != nil {
		return true, 0, err
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return true, 0, fmt.Errorf("failed to hash background: %w", err)
	}

	prev := t.last
	t.last = hash
	if prev == nil {
		return true, 0, nil
	}

	distance, err = prev.Distance(hash)
	if err != nil {
		return true, 0, err
	}
	return distance > MaxRefreshDistance, distance, nil
}

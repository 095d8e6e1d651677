package captcha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DetectorFactory builds a Detector. It runs at most once per LazyDetector.
type DetectorFactory func() (Detector, error)

// LazyDetector defers building the detection model until the first Detect
// call and then reuses it for every later call. A failed build is cached and
// returned from every call.
type LazyDetector struct {
	build DetectorFactory

	once sync.Once
	det  Detector
	err  error
}

// NewLazyDetector wraps build.
func NewLazyDetector(build DetectorFactory) *LazyDetector {
	return &LazyDetector{build: build}
}

func (l *LazyDetector) load() (Detector, error) {
	l.once.Do(func() {
		l.det, l.err = l.build()
		if l.err != nil {
			l.err = fmt.Errorf("failed to load region detector: %w", l.err)
			return
		}
		slog.Info("region detector initialized")
	})
	return l.det, l.err
}

// Detect implements Detector.
func (l *LazyDetector) Detect(ctx context.Context, img []byte) ([]BoundingBox, error) {
	det, err := l.load()
	if err != nil {
		return nil, err
	}
	return det.Detect(ctx, img)
}

// Close releases the underlying detector if it was built and holds resources.
func (l *LazyDetector) Close() error {
	if l.det == nil {
		return nil
	}
	if c, ok := l.det.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Package captcha solves the three-icon click challenge: it downloads the
// challenge imagery, finds candidate icon regions, pairs each target sprite
// with its best region and clicks the three regions in confidence order.
package captcha

import (
	"context"
	"fmt"
	"image"
	"time"
)

// PieceCount is the number of target icons in the instruction sprite.
const PieceCount = 3

// Fallback background size used only when the downloaded image cannot be
// re-read for its real dimensions.
const (
	DefaultImageWidth  = 300
	DefaultImageHeight = 200
)

// BoundingBox is a candidate icon region in background-image pixels.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// Valid reports whether the box has a positive area.
func (b BoundingBox) Valid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax
}

// Center returns the box center in pixel space.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.XMin+b.XMax) / 2, float64(b.YMin+b.YMax) / 2
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.XMin, b.YMin, b.XMax, b.YMax)
}

// SpritePiece is one equal-width slice of the instruction sprite.
type SpritePiece struct {
	// Index is the left-to-right position, 0..2
	Index int
	// Path is the file the slice was written to
	Path string
	// Bounds is the slice's rectangle within the composite
	Bounds image.Rectangle
}

// MatchCandidate pairs a sprite piece with a region and its similarity.
type MatchCandidate struct {
	Piece int         `json:"piece"`
	Box   BoundingBox `json:"box"`
	Score float64     `json:"score"`
}

// ClickPoint is a click location relative to the background element's
// top-left corner, in page (CSS pixel) units.
type ClickPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detector finds candidate icon regions in the raw background image bytes.
// An empty result is not an error.
type Detector interface {
	Detect(ctx context.Context, img []byte) ([]BoundingBox, error)
}

// Matcher scores how similar two image files are, roughly in [0, 1].
// Unreadable or featureless images score 0.
type Matcher interface {
	Similarity(pathA, pathB string) float64
}

// Page is the slice of browser control the solver needs. Selectors are CSS
// selectors evaluated inside the challenge frame. Implementations return
// ErrElementNotFound when a selector matches nothing.
type Page interface {
	// Attribute reads an element attribute; ok is false when the attribute is absent.
	Attribute(ctx context.Context, sel, name string) (value string, ok bool, err error)
	// Size returns the element's rendered width and height.
	Size(ctx context.Context, sel string) (width, height float64, err error)
	// ClickAt moves the pointer to (x, y) relative to the element's top-left
	// corner and clicks.
	ClickAt(ctx context.Context, sel string, x, y int) error
	// Click clicks the element itself.
	Click(ctx context.Context, sel string) error
}

// DocumentPage is a Page that knows the URL its document was loaded from.
// Relative image URLs are resolved against it.
type DocumentPage interface {
	Page
	BaseURL(ctx context.Context) (string, error)
}

// AttemptReport summarizes one pass through the solve loop.
type AttemptReport struct {
	ID         string           `json:"id"`
	Number     int              `json:"number"`
	Boxes      []BoundingBox    `json:"boxes,omitempty"`
	Candidates []MatchCandidate `json:"candidates,omitempty"`
	Clicks     []ClickPoint     `json:"clicks,omitempty"`
	Solved     bool             `json:"solved"`
	Kind       ErrorKind        `json:"error_kind,omitempty"`
	Err        string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

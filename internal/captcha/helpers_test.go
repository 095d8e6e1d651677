package captcha

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"
	"time"
)

// writeJPEG writes a w x h image whose columns are split into len(colors)
// vertical stripes.
func writeJPEG(t *testing.T, path string, w, h int, colors ...color.Color) {
	t.Helper()
	if len(colors) == 0 {
		colors = []color.Color{color.Gray{Y: 128}}
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stripe := w / len(colors)
	if stripe == 0 {
		stripe = 1
	}
	for x := 0; x < w; x++ {
		c := colors[min(x/stripe, len(colors)-1)]
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

type clickCall struct {
	Sel  string
	X, Y int
}

// fakePage is an in-memory Page. Selectors missing from attrs do not exist.
type fakePage struct {
	mu sync.Mutex

	attrs  map[string]map[string]string
	base   string
	width  float64
	height float64

	clicks   []string
	clicksAt []clickCall

	// onClick runs after a Click is recorded
	onClick func(p *fakePage, sel string)
}

func (p *fakePage) Attribute(_ context.Context, sel, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.attrs[sel]
	if !ok {
		return "", false, ErrElementNotFound
	}
	v, ok := el[name]
	return v, ok, nil
}

func (p *fakePage) BaseURL(context.Context) (string, error) {
	if p.base == "" {
		return "", errors.New("document not loaded")
	}
	return p.base, nil
}

func (p *fakePage) Size(_ context.Context, sel string) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.attrs[sel]; !ok {
		return 0, 0, ErrElementNotFound
	}
	return p.width, p.height, nil
}

func (p *fakePage) ClickAt(_ context.Context, sel string, x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.attrs[sel]; !ok {
		return ErrElementNotFound
	}
	p.clicksAt = append(p.clicksAt, clickCall{Sel: sel, X: x, Y: y})
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.mu.Lock()
	if _, ok := p.attrs[sel]; !ok {
		p.mu.Unlock()
		return ErrElementNotFound
	}
	p.clicks = append(p.clicks, sel)
	hook := p.onClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, sel)
	}
	return nil
}

func (p *fakePage) setAttr(sel, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs[sel][name] = value
}

func (p *fakePage) count(sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		if c == sel {
			n++
		}
	}
	return n
}

type fakeDetector struct {
	boxes []BoundingBox
	err   error
	calls int
}

func (d *fakeDetector) Detect(_ context.Context, _ []byte) ([]BoundingBox, error) {
	d.calls++
	return d.boxes, d.err
}

// tableMatcher returns scores[piece][box], inferring the pair from call
// order: pieces outer, boxes inner, repeating every attempt.
type tableMatcher struct {
	scores [][]float64
	calls  int
}

func (m *tableMatcher) Similarity(_, _ string) float64 {
	if len(m.scores) == 0 || len(m.scores[0]) == 0 {
		m.calls++
		return 0
	}
	per := len(m.scores[0])
	i := m.calls % (len(m.scores) * per)
	m.calls++
	return m.scores[i/per][i%per]
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

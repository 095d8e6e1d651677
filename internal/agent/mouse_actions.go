package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Pointer dispatches mouse events at top-level page coordinates and glides
// between click targets instead of teleporting.
type Pointer struct {
	x, y float64

	// Steps is the number of intermediate move events per glide
	Steps int
	// StepDelay is the pause between intermediate moves
	StepDelay time.Duration
}

// NewPointer creates a pointer resting at the viewport origin.
func NewPointer() *Pointer {
	return &Pointer{Steps: 8, StepDelay: 15 * time.Millisecond}
}

// MoveTo moves the pointer from its last position to (x, y).
func (p *Pointer) MoveTo(ctx context.Context, x, y float64) error {
	steps := max(p.Steps, 1)
	startX, startY := p.x, p.y

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mx := startX + (x-startX)*t
		my := startY + (y-startY)*t

		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, mx, my).Do(ctx)
		}))
		if err != nil {
			return fmt.Errorf("mouse move failed at step %d: %w", i, err)
		}
		p.x, p.y = mx, my

		if i < steps && p.StepDelay > 0 {
			select {
			case <-time.After(p.StepDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Click glides to (x, y) and performs a left click there.
func (p *Pointer) Click(ctx context.Context, x, y float64) error {
	if err := p.MoveTo(ctx, x, y); err != nil {
		return err
	}

	slog.Debug("mouse click", "x", x, "y", y)
	if err := chromedp.Run(ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}

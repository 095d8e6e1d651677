package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dreamup/checkin-agent/internal/captcha"
)

// DefaultFrameTimeout bounds every DOM query made inside a frame.
const DefaultFrameTimeout = 10 * time.Second

// Frame is a captcha.Page bound to one iframe. DOM queries run inside the
// frame; pointer events are dispatched on the top-level page.
type Frame struct {
	root    context.Context
	ctx     context.Context
	opts    []chromedp.QueryOption
	iframe  string
	pointer *Pointer
	timeout time.Duration

	// outOfProcess frames report box models relative to their own
	// viewport, so the iframe's position must be added back
	outOfProcess bool
}

var _ captcha.DocumentPage = (*Frame)(nil)

// enterFrame waits for the iframe matching iframeSel and binds a Frame to
// it. A frame rendered out of process is reached through its own target;
// otherwise queries are scoped to the iframe node. The returned cancel func
// releases the target context.
func enterFrame(root context.Context, iframeSel string, timeout time.Duration, pointer *Pointer) (*Frame, context.CancelFunc, error) {
	waitCtx, cancel := context.WithTimeout(root, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(waitCtx,
		chromedp.WaitVisible(iframeSel, chromedp.ByQuery),
		chromedp.Nodes(iframeSel, &nodes, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("iframe %s did not appear within %v: %w", iframeSel, timeout, captcha.ErrWaitTimeout)
		}
		return nil, nil, NewBrowserError(fmt.Sprintf("failed to locate iframe %s", iframeSel), err)
	}

	f := &Frame{
		root:    root,
		ctx:     root,
		opts:    []chromedp.QueryOption{chromedp.FromNode(nodes[0])},
		iframe:  iframeSel,
		pointer: pointer,
		timeout: DefaultFrameTimeout,
	}
	release := func() {}

	if id, ok := findFrameTarget(root, nodes[0].AttributeValue("src")); ok {
		fctx, fcancel := chromedp.NewContext(root, chromedp.WithTargetID(id))
		f.ctx, f.opts, f.outOfProcess = fctx, nil, true
		release = fcancel
	}
	return f, release, nil
}

// findFrameTarget looks for an out-of-process iframe target loaded from src.
func findFrameTarget(root context.Context, src string) (target.ID, bool) {
	if src == "" {
		return "", false
	}
	infos, err := chromedp.Targets(root)
	if err != nil {
		return "", false
	}
	return matchFrameTarget(infos, src)
}

// matchFrameTarget picks the first iframe target whose URL starts with src,
// ignoring the scheme. Targets carry the full URL after redirects and added
// query parameters, so a prefix match is enough.
func matchFrameTarget(infos []*target.Info, src string) (target.ID, bool) {
	src = stripScheme(src)
	if src == "" {
		return "", false
	}
	for _, t := range infos {
		if t.Type != "iframe" {
			continue
		}
		if strings.HasPrefix(stripScheme(t.URL), src) {
			return t.TargetID, true
		}
	}
	return "", false
}

func stripScheme(u string) string {
	return strings.TrimPrefix(strings.TrimPrefix(u, "https:"), "http:")
}

// node returns the first element matching sel without waiting for it.
func (f *Frame) node(ctx context.Context, sel string) (*cdp.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()

	var nodes []*cdp.Node
	opts := append([]chromedp.QueryOption{chromedp.ByQuery, chromedp.AtLeast(0)}, f.opts...)
	if err := chromedp.Run(qctx, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, f.queryError(ctx, sel, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: %w", sel, captcha.ErrElementNotFound)
	}
	return nodes[0], nil
}

func (f *Frame) queryError(ctx context.Context, sel string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("query %s: %w", sel, captcha.ErrWaitTimeout)
	}
	return NewBrowserError(fmt.Sprintf("query %s failed", sel), err)
}

// Attribute implements captcha.Page.
func (f *Frame) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	n, err := f.node(ctx, sel)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attribute(name)
	return v, ok, nil
}

// Size implements captcha.Page using the element's offsetWidth/offsetHeight.
func (f *Frame) Size(ctx context.Context, sel string) (float64, float64, error) {
	n, err := f.node(ctx, sel)
	if err != nil {
		return 0, 0, err
	}

	qctx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()

	var w, h float64
	ids := []cdp.NodeID{n.NodeID}
	err = chromedp.Run(qctx,
		chromedp.JavascriptAttribute(ids, "offsetWidth", &w, chromedp.ByNodeID),
		chromedp.JavascriptAttribute(ids, "offsetHeight", &h, chromedp.ByNodeID),
	)
	if err != nil {
		return 0, 0, f.queryError(ctx, sel, err)
	}
	return w, h, nil
}

// BaseURL implements captcha.DocumentPage. Out-of-process frames report
// their own document.baseURI; otherwise the iframe's content document is
// asked, falling back to its resolved src property.
func (f *Frame) BaseURL(ctx context.Context) (string, error) {
	parent, expr := f.ctx, "document.baseURI"
	if !f.outOfProcess {
		parent = f.root
		expr = fmt.Sprintf(`(() => {
    const el = document.querySelector(%q);
    if (!el) { return ""; }
    try { if (el.contentDocument) { return el.contentDocument.baseURI; } } catch (e) {}
    return el.src;
})()`, f.iframe)
	}
	qctx, done := f.bound(parent, ctx)
	defer done()

	var base string
	if err := chromedp.Run(qctx, chromedp.Evaluate(expr, &base)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", NewBrowserError("failed to read frame document url", err)
	}
	if base == "" {
		return "", NewBrowserError(fmt.Sprintf("iframe %s has no document url", f.iframe), nil)
	}
	return base, nil
}

// ClickAt implements captcha.Page.
func (f *Frame) ClickAt(ctx context.Context, sel string, x, y int) error {
	left, top, _, _, err := f.box(ctx, sel)
	if err != nil {
		return err
	}
	return f.click(ctx, left+float64(x), top+float64(y))
}

// Click implements captcha.Page by clicking the element's center.
func (f *Frame) Click(ctx context.Context, sel string) error {
	left, top, w, h, err := f.box(ctx, sel)
	if err != nil {
		return err
	}
	return f.click(ctx, left+w/2, top+h/2)
}

// click dispatches the pointer on the top-level page, bounded by the frame
// timeout and stopped when ctx is cancelled.
func (f *Frame) click(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pctx, done := f.rootContext(ctx)
	defer done()

	if err := f.pointer.Click(pctx, x, y); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return NewTimeoutError(fmt.Sprintf("click at (%.0f, %.0f) timed out", x, y), err)
		}
		return NewBrowserError("pointer click failed", err)
	}
	return nil
}

// rootContext derives a context for the top-level page that carries the
// browser target of f.root but ends with ctx or after the frame timeout.
func (f *Frame) rootContext(ctx context.Context) (context.Context, func()) {
	return f.bound(f.root, ctx)
}

// bound derives from parent, which carries a chromedp target, a context
// that ends with ctx or after the frame timeout.
func (f *Frame) bound(parent, ctx context.Context) (context.Context, func()) {
	rctx, cancel := context.WithTimeout(parent, f.timeout)
	stop := context.AfterFunc(ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

// box returns the element's border box in top-level page coordinates.
func (f *Frame) box(ctx context.Context, sel string) (left, top, width, height float64, err error) {
	n, err := f.node(ctx, sel)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	model, err := boxModel(f.ctx, n.NodeID, f.timeout)
	if err != nil {
		return 0, 0, 0, 0, f.queryError(ctx, sel, err)
	}

	var origin *dom.BoxModel
	if f.outOfProcess {
		if origin, err = f.origin(ctx); err != nil {
			return 0, 0, 0, 0, err
		}
	}
	left, top, width, height = pageBox(model, origin)
	return left, top, width, height, nil
}

// pageBox converts an element's border box to top-level page coordinates.
// origin is the iframe's box model when the element's coordinates are
// relative to an out-of-process frame, nil otherwise.
func pageBox(model, origin *dom.BoxModel) (left, top, width, height float64) {
	left, top = model.Border[0], model.Border[1]
	if origin != nil && len(origin.Content) >= 2 {
		left, top = left+origin.Content[0], top+origin.Content[1]
	}
	return left, top, float64(model.Width), float64(model.Height)
}

// origin returns the iframe's box model on the top-level page.
func (f *Frame) origin(ctx context.Context) (*dom.BoxModel, error) {
	qctx, done := f.rootContext(ctx)
	defer done()

	var model *dom.BoxModel
	if err := chromedp.Run(qctx, chromedp.Dimensions(f.iframe, &model, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewBrowserError("failed to read iframe position", err)
	}
	return model, nil
}

func boxModel(ctx context.Context, id cdp.NodeID, timeout time.Duration) (*dom.BoxModel, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var model *dom.BoxModel
	err := chromedp.Run(qctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		model, err = dom.GetBoxModel().WithNodeID(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	if len(model.Border) < 8 {
		return nil, fmt.Errorf("element has no layout box")
	}
	return model, nil
}

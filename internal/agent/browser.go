package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/dreamup/checkin-agent/internal/captcha"
)

// Default browser window, matching a desktop viewport
const (
	DefaultWindowWidth  = 1920
	DefaultWindowHeight = 1080
)

// DefaultWaitTimeout is how long element waits last unless told otherwise.
const DefaultWaitTimeout = 30 * time.Second

// BrowserManager manages browser lifecycle and navigation
type BrowserManager struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	pointer      *Pointer
	frameCancels []context.CancelFunc
}

// NewBrowserManager starts a Chrome instance. Cancelling parent shuts the
// browser down as well.
func NewBrowserManager(parent context.Context, headless bool) (*BrowserManager, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", headless), // Only disable GPU in headless mode
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(DefaultWindowWidth, DefaultWindowHeight),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing Chrome fails here, not on first use
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, NewBrowserError("failed to start browser", err)
	}

	return &BrowserManager{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		pointer:     NewPointer(),
	}, nil
}

// Close shuts down the browser and cleans up resources
func (bm *BrowserManager) Close() {
	for _, c := range bm.frameCancels {
		c()
	}
	bm.frameCancels = nil
	if bm.cancel != nil {
		bm.cancel()
	}
	if bm.allocCancel != nil {
		bm.allocCancel()
	}
}

// Navigate navigates to the specified URL and waits for the body
func (bm *BrowserManager) Navigate(url string) error {
	return bm.NavigateWithTimeout(url, DefaultWaitTimeout)
}

// NavigateWithTimeout navigates to URL with a specific timeout
func (bm *BrowserManager) NavigateWithTimeout(url string, timeout time.Duration) error {
	timeoutCtx, timeoutCancel := context.WithTimeout(bm.ctx, timeout)
	defer timeoutCancel()

	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewTimeoutError(fmt.Sprintf("timeout after %v while loading %s", timeout, url), err)
		}
		return NewNetworkError(fmt.Sprintf("failed to navigate to %s", url), err)
	}
	return nil
}

// Reload reloads the current page
func (bm *BrowserManager) Reload() error {
	timeoutCtx, cancel := context.WithTimeout(bm.ctx, DefaultWaitTimeout)
	defer cancel()

	if err := chromedp.Run(timeoutCtx, chromedp.Reload()); err != nil {
		return NewNetworkError("failed to reload page", err)
	}
	return nil
}

// CurrentURL returns the URL of the top-level page
func (bm *BrowserManager) CurrentURL() (string, error) {
	var url string
	if err := chromedp.Run(bm.ctx, chromedp.Location(&url)); err != nil {
		return "", NewBrowserError("failed to read current url", err)
	}
	return url, nil
}

// JSClick waits for the element and clicks it through element.click(),
// which also reaches elements covered by overlays. sel must be an XPath.
func (bm *BrowserManager) JSClick(sel string, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(bm.ctx, timeout)
	defer cancel()

	var ok bool
	err := chromedp.Run(timeoutCtx,
		chromedp.WaitVisible(sel, chromedp.BySearch),
		chromedp.EvaluateAsDevTools(fmt.Sprintf(`(function() {
    const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
    if (!el) { return false; }
    el.click();
    return true;
})()`, sel), &ok),
	)
	if err != nil {
		return waitError(sel, timeout, err)
	}
	if !ok {
		return NewBrowserError(fmt.Sprintf("element %s vanished before click", sel), captcha.ErrElementNotFound)
	}
	return nil
}

// TextContent waits for the element and returns its text content
func (bm *BrowserManager) TextContent(sel string, timeout time.Duration) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(bm.ctx, timeout)
	defer cancel()

	var text string
	err := chromedp.Run(timeoutCtx,
		chromedp.WaitReady(sel, chromedp.BySearch),
		chromedp.TextContent(sel, &text, chromedp.BySearch),
	)
	if err != nil {
		return "", waitError(sel, timeout, err)
	}
	return text, nil
}

// EnterFrame waits for the iframe matching sel and returns a page bound to
// its document. The frame stays usable until the browser is closed.
func (bm *BrowserManager) EnterFrame(sel string, timeout time.Duration) (captcha.Page, error) {
	frame, release, err := enterFrame(bm.ctx, sel, timeout, bm.pointer)
	if err != nil {
		return nil, err
	}
	bm.frameCancels = append(bm.frameCancels, release)
	slog.Debug("entered frame", "iframe", sel, "out_of_process", frame.outOfProcess)
	return frame, nil
}

// Screenshot captures the current viewport
func (bm *BrowserManager) Screenshot(label ScreenshotContext) (*Screenshot, error) {
	return CaptureScreenshot(bm.ctx, label)
}

func waitError(sel string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(fmt.Sprintf("element %s not visible within %v", sel, timeout),
			fmt.Errorf("%w: %w", captcha.ErrWaitTimeout, err))
	}
	return NewBrowserError(fmt.Sprintf("failed to interact with %s", sel), err)
}

package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dreamup/checkin-agent/internal/agent"
	"github.com/dreamup/checkin-agent/internal/captcha"
)

// Page locations on the check-in site.
const (
	DefaultBaseURL = "https://app.rainyun.com"

	LoginPath = "/login"
	EarnPath  = "/account/reward/earn"

	// DashboardMarker appears in the URL once login succeeded
	DashboardMarker = "dashboard"

	CaptchaFrame = "#tcaptcha_iframe_dy"

	UsernameInput = `//*[@id="app"]/div[1]/div[3]/div/div/div[2]/div/div[2]/form/div[1]/div/div/input`
	PasswordInput = `//*[@id="app"]/div[1]/div[3]/div/div/div[2]/div/div[2]/form/div[2]/div/div/input`
	LoginButton   = `//*[@id="app"]/div[1]/div[3]/div/div/div[2]/div/div[2]/form/div[3]/div/button`
	EarnLink      = `//*[@id="app"]/div[1]/div[3]/div[2]/div/div/div[2]/div[2]/div/div/div/div[1]/div/div[1]/div/div[1]/div/span[2]/a`
	PointsText    = `//*[@id="app"]/div[1]/div[3]/div[2]/div/div/div[2]/div[1]/div[1]/div/p/div/h3`
)

// Browser is the browser surface the check-in flow drives.
// *agent.BrowserManager implements it.
type Browser interface {
	Navigate(url string) error
	Reload() error
	CurrentURL() (string, error)
	RunPlan(plan agent.InteractionPlan) error
	JSClick(sel string, timeout time.Duration) error
	TextContent(sel string, timeout time.Duration) (string, error)
	EnterFrame(sel string, timeout time.Duration) (captcha.Page, error)
	Screenshot(label agent.ScreenshotContext) (*agent.Screenshot, error)
	Close()
}

// Launcher starts a fresh browser for one account.
type Launcher func(ctx context.Context) (Browser, error)

// SolveFunc solves the challenge shown on page and reports how many
// attempts it used.
type SolveFunc func(ctx context.Context, page captcha.Page) (solved bool, attempts int)

// NewSolveFunc builds a SolveFunc that runs a captcha.Solver per challenge.
// The solvers share one image fetcher. sink and observe may be nil.
func NewSolveFunc(det captcha.Detector, m captcha.Matcher, ws *captcha.Workspace, cfg captcha.Config,
	sink captcha.SampleSink, observe func(captcha.AttemptReport)) SolveFunc {
	fetcher := captcha.NewFetcher()
	return func(ctx context.Context, page captcha.Page) (bool, int) {
		s := captcha.NewSolver(page, det, m, ws, cfg)
		s.SetFetcher(fetcher)
		if sink != nil {
			s.SetSampleSink(sink)
		}
		attempts := 0
		s.OnAttempt(func(rep captcha.AttemptReport) {
			attempts++
			if observe != nil {
				observe(rep)
			}
		})
		return s.Solve(ctx), attempts
	}
}

// Options tunes the check-in flow.
type Options struct {
	BaseURL string
	// WaitTimeout bounds waits for login inputs and the earn link
	WaitTimeout time.Duration
	// FrameTimeout is how long to wait for a challenge iframe to appear
	FrameTimeout time.Duration
	// RedirectDelay is the pause after login before checking the URL
	RedirectDelay time.Duration
	EarnAttempts  int
	// EarnRetryDelay is the pause after a failed earn attempt
	EarnRetryDelay time.Duration
	// ScreenshotDir receives failure screenshots; empty disables them
	ScreenshotDir string
}

// DefaultOptions returns the timings the site needs in practice.
func DefaultOptions() Options {
	return Options{
		BaseURL:        DefaultBaseURL,
		WaitTimeout:    30 * time.Second,
		FrameTimeout:   30 * time.Second,
		RedirectDelay:  5 * time.Second,
		EarnAttempts:   3,
		EarnRetryDelay: 3 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = d.FrameTimeout
	}
	if o.RedirectDelay < 0 {
		o.RedirectDelay = 0
	}
	if o.EarnAttempts <= 0 {
		o.EarnAttempts = d.EarnAttempts
	}
	if o.EarnRetryDelay <= 0 {
		o.EarnRetryDelay = time.Millisecond
	}
	return o
}

// Runner checks in a list of accounts one after another.
type Runner struct {
	launch Launcher
	solve  SolveFunc
	opts   Options
	sleep  func(context.Context, time.Duration) error
}

// NewRunner creates a Runner.
func NewRunner(launch Launcher, solve SolveFunc, opts Options) *Runner {
	return &Runner{
		launch: launch,
		solve:  solve,
		opts:   opts.withDefaults(),
		sleep:  sleepContext,
	}
}

// Run checks in every account and returns one result per account. It stops
// early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, accounts []Account) []Result {
	results := make([]Result, 0, len(accounts))
	for i, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		slog.Info("checking in", "user", acct.Username, "account", i+1, "of", len(accounts))
		res := r.RunAccount(ctx, acct)
		slog.Info("check-in finished", "user", acct.Username, "status", res.Status,
			"points", res.Points, "captcha_attempts", res.CaptchaAttempts, "duration", res.Duration)
		results = append(results, res)
	}
	return results
}

// RunAccount performs login, the optional challenge, the earn click and the
// balance read for one account in its own browser.
func (r *Runner) RunAccount(ctx context.Context, acct Account) (res Result) {
	res = Result{Username: acct.Username, StartedAt: time.Now()}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("check-in panicked", "user", acct.Username, "panic", p)
			res.Status, res.Message = StatusError, fmt.Sprintf("panic: %v", p)
		}
		res.Duration = time.Since(res.StartedAt)
	}()

	b, err := r.launch(ctx)
	if err != nil {
		res.Status, res.Message = StatusError, err.Error()
		return res
	}
	defer b.Close()

	s := &session{Runner: r, browser: b, result: &res}
	s.run(ctx, acct)
	return res
}

// session carries one account's browser and result through the flow.
type session struct {
	*Runner
	browser    Browser
	result     *Result
	challenges int
	solved     int
}

func (s *session) run(ctx context.Context, acct Account) {
	if err := s.login(ctx, acct); err != nil {
		s.fail(StatusLoginFailed, agent.ContextLogin, err)
		return
	}

	status, err := s.challenge(ctx)
	if err != nil {
		s.fail(status, agent.ContextCaptcha, fmt.Errorf("login challenge: %w", err))
		return
	}

	if err := s.sleep(ctx, s.opts.RedirectDelay); err != nil {
		s.fail(StatusError, "", err)
		return
	}
	url, err := s.browser.CurrentURL()
	if err != nil {
		s.fail(StatusError, "", err)
		return
	}
	if !strings.Contains(url, DashboardMarker) {
		s.fail(StatusLoginFailed, agent.ContextLogin,
			fmt.Errorf("not redirected to dashboard after login, check credentials (at %s)", url))
		return
	}
	slog.Info("logged in", "user", acct.Username)

	if err := s.earn(ctx); err != nil {
		status := StatusEarnFailed
		if agent.CategoryOf(err) == agent.ErrorCategoryCaptcha {
			status = StatusCaptchaFailed
		}
		if ctx.Err() != nil {
			status = StatusError
		}
		s.fail(status, agent.ContextEarn, err)
		return
	}

	s.result.Status = StatusSuccess
	s.result.CaptchaSolved = s.challenges > 0 && s.solved == s.challenges
	points, err := s.points()
	if err != nil {
		slog.Warn("could not read point balance", "user", acct.Username, "error", err)
		s.result.Message = "checked in, but the point balance could not be read"
		return
	}
	s.result.Points = points
	slog.Info("point balance", "user", acct.Username, "points", points,
		"value", fmt.Sprintf("%.2f", s.result.Value()))
}

func (s *session) login(ctx context.Context, acct Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.browser.Navigate(s.opts.BaseURL + LoginPath); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	plan := agent.InteractionPlan{
		Name:           "login",
		DefaultTimeout: s.opts.WaitTimeout,
		Actions: []agent.Action{
			agent.NewTypeAction(UsernameInput, acct.Username, "enter username"),
			agent.NewTypeAction(PasswordInput, acct.Password, "enter password"),
			agent.NewClickAction(LoginButton, "submit login form"),
		},
	}
	if err := s.browser.RunPlan(plan); err != nil {
		return fmt.Errorf("login page did not load in time or changed layout: %w", err)
	}
	return nil
}

// challenge solves the captcha if its iframe shows up. A missing iframe is
// not an error.
func (s *session) challenge(ctx context.Context) (Status, error) {
	page, err := s.browser.EnterFrame(CaptchaFrame, s.opts.FrameTimeout)
	if err != nil {
		if errors.Is(err, captcha.ErrWaitTimeout) {
			slog.Info("no challenge shown")
			return "", nil
		}
		return StatusError, err
	}

	slog.Warn("challenge shown, solving")
	s.challenges++
	ok, attempts := s.solve(ctx, page)
	s.result.CaptchaAttempts += attempts
	if ctx.Err() != nil {
		return StatusError, ctx.Err()
	}
	if !ok {
		return StatusCaptchaFailed, agent.NewCaptchaError(
			fmt.Sprintf("challenge not solved after %d attempts", attempts), nil)
	}
	s.solved++
	return "", nil
}

// earn opens the reward page and clicks the earn link, retrying page
// failures. An unsolved challenge ends the loop.
func (s *session) earn(ctx context.Context) error {
	cfg := agent.RetryConfig{
		MaxAttempts:   s.opts.EarnAttempts,
		InitialDelay:  s.opts.EarnRetryDelay,
		MaxDelay:      s.opts.EarnRetryDelay,
		BackoffFactor: 1,
		RetryableErrors: []agent.ErrorCategory{
			agent.ErrorCategoryBrowser,
			agent.ErrorCategoryNetwork,
			agent.ErrorCategoryTimeout,
		},
	}
	return agent.Retry(ctx, cfg, func() error {
		err := s.earnOnce(ctx)
		if err != nil && agent.CategoryOf(err) != agent.ErrorCategoryCaptcha && ctx.Err() == nil {
			slog.Warn("earn attempt failed, reloading", "error", err)
			if rerr := s.browser.Reload(); rerr != nil {
				slog.Debug("reload failed", "error", rerr)
			}
		}
		return err
	})
}

func (s *session) earnOnce(ctx context.Context) error {
	if err := s.browser.Navigate(s.opts.BaseURL + EarnPath); err != nil {
		return err
	}
	if err := s.browser.JSClick(EarnLink, s.opts.WaitTimeout); err != nil {
		return err
	}
	slog.Info("clicked earn link")

	if _, err := s.challenge(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if agent.CategoryOf(err) == agent.ErrorCategoryUnknown {
			return agent.NewBrowserError("earn challenge check failed", err)
		}
		return err
	}
	return nil
}

func (s *session) points() (int, error) {
	text, err := s.browser.TextContent(PointsText, s.opts.WaitTimeout)
	if err != nil {
		return 0, err
	}
	return ParsePoints(text)
}

// fail records a failed status with a screenshot of the page when enabled.
func (s *session) fail(status Status, shot agent.ScreenshotContext, err error) {
	slog.Error("check-in failed", "user", s.result.Username, "status", status, "error", err)
	s.result.Status = status
	s.result.Message = err.Error()
	s.result.CaptchaSolved = s.challenges > 0 && s.solved == s.challenges
	if shot == "" || s.opts.ScreenshotDir == "" {
		return
	}
	img, serr := s.browser.Screenshot(shot)
	if serr == nil {
		serr = img.SaveTo(s.opts.ScreenshotDir)
	}
	if serr != nil {
		slog.Warn("failed to save screenshot", "error", serr)
		return
	}
	s.result.Screenshot = img.Filepath
}

var digits = regexp.MustCompile(`\d+`)

// ParsePoints keeps only the digits of a balance label such as "12,345 积分".
func ParsePoints(text string) (int, error) {
	joined := strings.Join(digits.FindAllString(text, -1), "")
	if joined == "" {
		return 0, fmt.Errorf("no digits in point balance %q", text)
	}
	return strconv.Atoi(joined)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

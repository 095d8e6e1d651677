package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Selectors locate the challenge controls inside the challenge frame.
type Selectors struct {
	Background    string
	Instruction   string
	Submit        string
	Reload        string
	Result        string
	SuccessMarker string
}

// DefaultSelectors returns the selectors of the hosted click-icon challenge.
func DefaultSelectors() Selectors {
	return Selectors{
		Background:    "#slideBg",
		Instruction:   "#instruction > div > img",
		Submit:        "#confirm",
		Reload:        "#reload",
		Result:        "#tcOperation",
		SuccessMarker: "show-success",
	}
}

// Config tunes the solve loop
type Config struct {
	MaxAttempts int
	// SettleDelay is the wait after clicking reload
	SettleDelay time.Duration
	// ResultDelay is the wait between submitting and reading the result
	ResultDelay time.Duration
	// ClickDelayMin and ClickDelayMax bound the random pause after each click
	ClickDelayMin time.Duration
	ClickDelayMax time.Duration
	// ElementWait bounds how long the challenge surface may take to render
	ElementWait time.Duration
	Selectors   Selectors
}

// elementPoll is the interval between checks for the challenge surface.
const elementPoll = 500 * time.Millisecond

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		SettleDelay:   2 * time.Second,
		ResultDelay:   3 * time.Second,
		ClickDelayMin: 500 * time.Millisecond,
		ClickDelayMax: 1500 * time.Millisecond,
		ElementWait:   10 * time.Second,
		Selectors:     DefaultSelectors(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.ResultDelay <= 0 {
		c.ResultDelay = d.ResultDelay
	}
	if c.ClickDelayMax <= 0 || c.ClickDelayMax < c.ClickDelayMin {
		c.ClickDelayMin, c.ClickDelayMax = d.ClickDelayMin, d.ClickDelayMax
	}
	if c.ElementWait <= 0 {
		c.ElementWait = d.ElementWait
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = d.Selectors
	}
	return c
}

// SampleSink stores the files of a failed attempt for later inspection.
type SampleSink interface {
	Archive(ctx context.Context, attemptID string, files map[string]string) error
}

// Solver drives the download, detect, match, click and verify loop against
// one challenge frame.
type Solver struct {
	page     Page
	detector Detector
	fetcher  *Fetcher
	planner  *Planner
	ws       *Workspace
	cfg      Config

	sink     SampleSink
	observer func(AttemptReport)
	refresh  refreshTracker

	sleep      func(ctx context.Context, d time.Duration) error
	clickDelay func() time.Duration
}

// NewSolver wires a solver. The detector is typically a shared LazyDetector.
func NewSolver(page Page, det Detector, m Matcher, ws *Workspace, cfg Config) *Solver {
	cfg = cfg.withDefaults()
	s := &Solver{
		page:     page,
		detector: det,
		fetcher:  NewFetcher(),
		planner:  NewPlanner(m, ws),
		ws:       ws,
		cfg:      cfg,
		sleep:    sleepContext,
	}
	s.clickDelay = func() time.Duration {
		span := s.cfg.ClickDelayMax - s.cfg.ClickDelayMin
		if span <= 0 {
			return s.cfg.ClickDelayMin
		}
		return s.cfg.ClickDelayMin + rand.N(span)
	}
	return s
}

// SetFetcher replaces the image fetcher.
func (s *Solver) SetFetcher(f *Fetcher) {
	s.fetcher = f
}

// SetSampleSink archives the workspace of every failed attempt to sink.
func (s *Solver) SetSampleSink(sink SampleSink) {
	s.sink = sink
}

// OnAttempt registers fn to receive a report after every attempt.
func (s *Solver) OnAttempt(fn func(AttemptReport)) {
	s.observer = fn
}

// Solve tries the currently displayed challenge up to MaxAttempts times and
// reports whether the challenge accepted a submission.
func (s *Solver) Solve(ctx context.Context) bool {
	if err := s.checkElements(ctx); err != nil {
		slog.Error("captcha elements missing", "error", err)
		return false
	}

	for n := 1; n <= s.cfg.MaxAttempts; n++ {
		rep := s.runAttempt(ctx, n)
		if rep.Solved {
			slog.Info("captcha solved", "attempt", n)
			return true
		}

		if ctx.Err() != nil || rep.Kind == KindCanceled {
			slog.Warn("captcha solving canceled", "attempt", n, "error", rep.Err)
			return false
		}

		slog.Warn("captcha attempt failed", "attempt", n, "max", s.cfg.MaxAttempts, "kind", rep.Kind, "error", rep.Err)
		s.archive(ctx, rep)
		if err := s.reload(ctx); err != nil {
			return false
		}
	}

	slog.Error("captcha attempts exhausted", "attempts", s.cfg.MaxAttempts)
	return false
}

// checkElements confirms the challenge surface is present before any
// attempt is spent, polling until ElementWait runs out while it renders.
func (s *Solver) checkElements(ctx context.Context) error {
	sel := s.cfg.Selectors
	polls := max(int((s.cfg.ElementWait+elementPoll-1)/elementPoll), 1)

	var err error
	for i := 0; i < polls; i++ {
		if i > 0 {
			if serr := s.sleep(ctx, elementPoll); serr != nil {
				return serr
			}
		}
		if err = s.findElements(ctx, sel.Background, sel.Instruction, sel.Submit); err == nil {
			return nil
		}
		if !errors.Is(err, ErrElementNotFound) && !errors.Is(err, ErrWaitTimeout) {
			return err
		}
	}
	return fmt.Errorf("challenge did not render within %v: %w", s.cfg.ElementWait, err)
}

func (s *Solver) findElements(ctx context.Context, sels ...string) error {
	for _, q := range sels {
		if _, _, err := s.page.Attribute(ctx, q, "id"); err != nil {
			return fmt.Errorf("failed to find %s: %w", q, err)
		}
	}
	return nil
}

func (s *Solver) runAttempt(ctx context.Context, n int) AttemptReport {
	start := time.Now()
	rep := AttemptReport{ID: uuid.New().String(), Number: n}

	err := s.attempt(ctx, &rep)
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Kind = KindOf(err)
		rep.Err = err.Error()
	} else {
		rep.Solved = true
	}

	if s.observer != nil {
		s.observer(rep)
	}
	return rep
}

func (s *Solver) attempt(ctx context.Context, rep *AttemptReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindUnexpected, fmt.Sprintf("panic during attempt: %v", r), nil)
		}
	}()

	sel := s.cfg.Selectors
	slog.Info("downloading captcha images", "attempt", rep.Number)
	if err := s.fetcher.FetchElementImage(ctx, s.page, sel.Background, s.ws.Background()); err != nil {
		return err
	}
	if err := s.fetcher.FetchElementImage(ctx, s.page, sel.Instruction, s.ws.Instruction()); err != nil {
		return err
	}

	if changed, dist, herr := s.refresh.observe(s.ws.Background()); herr == nil && !changed {
		slog.Warn("challenge image unchanged after reload", "attempt", rep.Number, "distance", dist)
	}

	selected, err := analyze(ctx, s.detector, s.planner, s.ws, rep)
	if err != nil {
		return err
	}

	elemW, elemH, err := s.page.Size(ctx, sel.Background)
	if err != nil {
		return fmt.Errorf("failed to read background element size: %w", err)
	}
	clicks := Plan(selected, s.ws.Background(), elemW, elemH)
	rep.Clicks = clicks

	for i, c := range clicks {
		slog.Info("clicking", "piece", selected[i].Piece+1, "x", c.X, "y", c.Y, "score", selected[i].Score)
		if err := s.page.ClickAt(ctx, sel.Background, c.X, c.Y); err != nil {
			return fmt.Errorf("failed to click point %d: %w", i+1, err)
		}
		if err := s.sleep(ctx, s.clickDelay()); err != nil {
			return err
		}
	}

	if err := s.page.Click(ctx, sel.Submit); err != nil {
		return fmt.Errorf("failed to submit: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.ResultDelay); err != nil {
		return err
	}

	class, _, err := s.page.Attribute(ctx, sel.Result, "class")
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	if !strings.Contains(class, sel.SuccessMarker) {
		return newError(KindSubmissionRejected, "challenge rejected the clicks", nil)
	}
	return nil
}

// reload asks the challenge for a new image. A failed reload click is
// ignored; only cancellation during the settle wait is returned.
func (s *Solver) reload(ctx context.Context) error {
	if err := s.page.Click(ctx, s.cfg.Selectors.Reload); err != nil {
		slog.Debug("reload click failed", "error", err)
	}
	return s.sleep(ctx, s.cfg.SettleDelay)
}

func (s *Solver) archive(ctx context.Context, rep AttemptReport) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Archive(ctx, rep.ID, s.ws.Files()); err != nil {
		slog.Warn("failed to archive captcha sample", "attempt", rep.Number, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

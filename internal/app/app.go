// Package app wires configuration, the captcha solver, the browser and the
// stores into a runnable check-in job shared by every entry point.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dreamup/checkin-agent/internal/agent"
	"github.com/dreamup/checkin-agent/internal/captcha"
	"github.com/dreamup/checkin-agent/internal/checkin"
	"github.com/dreamup/checkin-agent/internal/config"
	"github.com/dreamup/checkin-agent/internal/db"
	"github.com/dreamup/checkin-agent/internal/reporter"
	"github.com/dreamup/checkin-agent/internal/vision/gpt"
	"github.com/dreamup/checkin-agent/internal/vision/opencv"
)

// Uploader is the part of reporter.S3Uploader a job uses.
type Uploader interface {
	captcha.SampleSink
	UploadReport(ctx context.Context, report *reporter.Report) (string, error)
}

// App holds the long-lived pieces of the process. The detector is loaded
// on first use and shared by every job.
type App struct {
	cfg      *config.Config
	store    *db.Database
	uploader Uploader
	detector *captcha.LazyDetector
	matcher  captcha.Matcher
	launch   checkin.Launcher
	options  checkin.Options
}

// New builds an App from cfg. store may be nil; an S3 uploader is created
// when a bucket is configured.
func New(ctx context.Context, cfg *config.Config, store *db.Database) (*App, error) {
	a := &App{
		cfg:      cfg,
		store:    store,
		detector: captcha.NewLazyDetector(DetectorFactory(cfg)),
		matcher:  opencv.NewSIFTMatcher(),
		options:  checkin.DefaultOptions(),
	}
	a.launch = func(ctx context.Context) (checkin.Browser, error) {
		bm, err := agent.NewBrowserManager(ctx, cfg.Headless)
		if err != nil {
			return nil, err
		}
		return bm, nil
	}

	if cfg.S3.Bucket != "" {
		u, err := reporter.NewS3Uploader(ctx, cfg.S3.Bucket, cfg.S3.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		a.uploader = u
	}
	return a, nil
}

// DetectorFactory returns the constructor for the configured detector.
func DetectorFactory(cfg *config.Config) captcha.DetectorFactory {
	return func() (captcha.Detector, error) {
		switch cfg.Detector {
		case config.DetectorOpenAI:
			d, err := gpt.NewDetector(cfg.OpenAI.APIKey)
			if err != nil {
				return nil, err
			}
			if cfg.OpenAI.Model != "" {
				d.SetModel(cfg.OpenAI.Model)
			}
			return d, nil
		default:
			d, err := opencv.NewONNXDetector(cfg.ModelPath)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
}

// Detector returns the shared detector.
func (a *App) Detector() captcha.Detector { return a.detector }

// Matcher returns the shared matcher.
func (a *App) Matcher() captcha.Matcher { return a.matcher }

// Close releases the detector.
func (a *App) Close() error {
	return a.detector.Close()
}

// Job describes one check-in run.
type Job struct {
	Accounts []checkin.Account
	// RunIDs maps a username to a run record created beforehand, e.g. by
	// the HTTP server. Missing entries get a fresh record.
	RunIDs   map[string]string
	Metadata map[string]string
	// Upload sends the report to S3 when an uploader is configured
	Upload bool
}

// Outcome is what a finished job produced.
type Outcome struct {
	Report     *reporter.Report
	ReportPath string
	ReportURL  string
}

// Execute checks in every account of job, records each run and writes the
// report. Per-account failures are part of the report, not errors.
func (a *App) Execute(ctx context.Context, job Job) (*Outcome, error) {
	ws, err := captcha.NewWorkspace(filepath.Join(a.cfg.WorkDir, "captcha"))
	if err != nil {
		return nil, err
	}

	rb := reporter.NewReportBuilder()
	rb.AddMetadata("base_url", a.cfg.BaseURL)
	rb.AddMetadata("detector", a.cfg.Detector)
	for k, v := range job.Metadata {
		rb.AddMetadata(k, v)
	}

	var sink captcha.SampleSink
	if a.uploader != nil && a.cfg.S3.UploadSamples {
		sink = a.uploader
	}
	solve := checkin.NewSolveFunc(a.detector, a.matcher, ws, a.cfg.SolverConfig(), sink, rb.AddAttempt)

	opts := a.options
	opts.BaseURL = a.cfg.BaseURL
	opts.ScreenshotDir = filepath.Join(a.cfg.WorkDir, "screenshots")
	if err := os.MkdirAll(opts.ScreenshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	runner := checkin.NewRunner(a.launch, solve, opts)

	runIDs := make(map[string]string, len(job.Accounts))
	for _, acct := range job.Accounts {
		if ctx.Err() != nil {
			break
		}
		id := a.startRun(job.RunIDs, acct.Username)
		runIDs[acct.Username] = id

		res := runner.RunAccount(ctx, acct)
		rb.AddResult(res)
		slog.Info("account processed", "user", acct.Username, "status", res.Status, "run_id", id)
	}

	report := rb.Build()
	out := &Outcome{Report: report}

	reportDir := filepath.Join(a.cfg.WorkDir, "reports")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if out.ReportPath, err = report.SaveToDir(reportDir); err != nil {
		return nil, err
	}

	if job.Upload && a.uploader != nil {
		url, err := a.uploader.UploadReport(ctx, report)
		if err != nil {
			slog.Error("report upload failed", "report_id", report.ReportID, "error", err)
		} else {
			out.ReportURL = url
		}
	}

	a.completeRuns(report, runIDs)
	return out, nil
}

func (a *App) startRun(existing map[string]string, username string) string {
	if id, ok := existing[username]; ok {
		if a.store != nil {
			if err := a.store.UpdateRunStatus(id, db.StatusRunning); err != nil {
				slog.Warn("failed to mark run as running", "run_id", id, "error", err)
			}
		}
		return id
	}
	id := uuid.New().String()
	if a.store != nil {
		if err := a.store.CreateRun(id, username, db.StatusRunning); err != nil {
			slog.Warn("failed to record run", "run_id", id, "error", err)
		}
	}
	return id
}

func (a *App) completeRuns(report *reporter.Report, runIDs map[string]string) {
	if a.store == nil {
		return
	}
	for _, res := range report.Results {
		id := runIDs[res.Username]
		err := a.store.CompleteRun(id, string(res.Status), res.Points, res.CaptchaAttempts, res.Message, report.ReportID, report)
		if err != nil {
			slog.Error("failed to complete run", "run_id", id, "error", err)
		}
	}
}

// PreviewFiles runs detection and matching on local challenge images.
func (a *App) PreviewFiles(ctx context.Context, background, sprite string) (captcha.AttemptReport, error) {
	ws, err := captcha.NewWorkspace("")
	if err != nil {
		return captcha.AttemptReport{}, err
	}
	defer ws.Remove()

	for src, dst := range map[string]string{background: ws.Background(), sprite: ws.Instruction()} {
		data, err := os.ReadFile(src)
		if err != nil {
			return captcha.AttemptReport{}, fmt.Errorf("failed to read %s: %w", src, err)
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return captcha.AttemptReport{}, fmt.Errorf("failed to stage %s: %w", src, err)
		}
	}
	return captcha.Preview(ctx, a.detector, a.matcher, ws)
}

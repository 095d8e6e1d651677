package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/dreamup/checkin-agent/internal/app"
	"github.com/dreamup/checkin-agent/internal/checkin"
	"github.com/dreamup/checkin-agent/internal/config"
	"github.com/dreamup/checkin-agent/internal/logging"
	"github.com/dreamup/checkin-agent/internal/reporter"
)

// LambdaEvent represents the input event for Lambda
type LambdaEvent struct {
	// Usernames limits the run to these configured accounts; empty means all
	Usernames []string `json:"usernames,omitempty"`
	// Timeout in seconds (default: 840 for a 15 min Lambda minus a buffer)
	Timeout int `json:"timeout,omitempty"`
	// UploadToS3 determines if the report should be uploaded
	UploadToS3 bool `json:"upload_to_s3"`
	// BucketName for S3 uploads (optional, defaults to config)
	BucketName string `json:"bucket_name,omitempty"`
	// Metadata for the report
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LambdaResponse represents the Lambda function output
type LambdaResponse struct {
	// Success indicates every account was checked in
	Success bool `json:"success"`
	// ReportID is the unique report identifier
	ReportID string `json:"report_id,omitempty"`
	// ReportURL is the S3 URL (if uploaded)
	ReportURL string `json:"report_url,omitempty"`
	// Status is the run outcome (passed, partial, failed)
	Status string `json:"status,omitempty"`
	// Results holds one entry per account
	Results []checkin.Result `json:"results,omitempty"`
	// Summary provides brief results
	Summary *reporter.Summary `json:"summary,omitempty"`
	// Error message if failed
	Error string `json:"error,omitempty"`
	// Duration in seconds
	Duration float64 `json:"duration_seconds,omitempty"`
}

const defaultTimeout = 840

// HandleRequest is the Lambda handler function
func HandleRequest(ctx context.Context, event LambdaEvent) (LambdaResponse, error) {
	startTime := time.Now()
	fail := func(err error) (LambdaResponse, error) {
		// Don't return error to Lambda - include in response
		return LambdaResponse{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(startTime).Seconds(),
		}, nil
	}

	cfg, err := config.Load(config.New())
	if err != nil {
		return fail(err)
	}
	// Only /tmp is writable and there is no display
	cfg.Headless = true
	cfg.WorkDir = filepath.Join(os.TempDir(), "checkin")
	if event.BucketName != "" {
		cfg.S3.Bucket = event.BucketName
	}
	if event.UploadToS3 && cfg.S3.Bucket == "" {
		return fail(fmt.Errorf("upload_to_s3 needs a bucket (bucket_name or CHECKIN_S3_BUCKET)"))
	}

	if err := cfg.ResolveSecret(ctx); err != nil {
		return fail(err)
	}

	all, err := cfg.Accounts()
	if err != nil {
		return fail(err)
	}
	accounts, err := selectAccounts(all, event.Usernames)
	if err != nil {
		return fail(err)
	}

	if event.Timeout <= 0 {
		event.Timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(event.Timeout)*time.Second)
	defer cancel()

	a, err := app.New(runCtx, cfg, nil)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	metadata := map[string]string{
		"trigger":       "lambda",
		"lambda_region": os.Getenv("AWS_REGION"),
	}
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	out, err := a.Execute(runCtx, app.Job{
		Accounts: accounts,
		Metadata: metadata,
		Upload:   event.UploadToS3,
	})
	if err != nil {
		return fail(err)
	}
	defer os.Remove(out.ReportPath)

	report := out.Report
	return LambdaResponse{
		Success:   report.Summary.Succeeded == report.Summary.Accounts,
		ReportID:  report.ReportID,
		ReportURL: out.ReportURL,
		Status:    report.Summary.Status,
		Results:   report.Results,
		Summary:   report.Summary,
		Duration:  time.Since(startTime).Seconds(),
	}, nil
}

// selectAccounts keeps the accounts named in usernames, in that order.
func selectAccounts(all []checkin.Account, usernames []string) ([]checkin.Account, error) {
	if len(usernames) == 0 {
		return all, nil
	}
	byName := make(map[string]checkin.Account, len(all))
	for _, a := range all {
		byName[a.Username] = a
	}
	selected := make([]checkin.Account, 0, len(usernames))
	for _, name := range usernames {
		a, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown account %q", name)
		}
		selected = append(selected, a)
	}
	return selected, nil
}

func main() {
	cleanup, err := logging.Init(logging.Options{Level: os.Getenv("CHECKIN_LOG_LEVEL")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.Info("check-in lambda starting")
	lambda.Start(HandleRequest)
}

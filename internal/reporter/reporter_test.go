package reporter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreamup/checkin-agent/internal/agent"
	"github.com/dreamup/checkin-agent/internal/captcha"
	"github.com/dreamup/checkin-agent/internal/checkin"
)

func TestReportBuilderSummary(t *testing.T) {
	tests := []struct {
		name        string
		results     []checkin.Result
		attempts    []captcha.AttemptReport
		wantStatus  string
		wantPoints  int
		wantRate    float64
		wantFailed  int
		wantSuccess int
	}{
		{
			name:       "no accounts",
			wantStatus: "failed",
		},
		{
			name: "all succeed",
			results: []checkin.Result{
				{Username: "a", Status: checkin.StatusSuccess, Points: 1000},
				{Username: "b", Status: checkin.StatusSuccess, Points: 3000},
			},
			attempts:    []captcha.AttemptReport{{Number: 1}, {Number: 2, Solved: true}},
			wantStatus:  "passed",
			wantPoints:  4000,
			wantRate:    0.5,
			wantSuccess: 2,
		},
		{
			name: "partial",
			results: []checkin.Result{
				{Username: "a", Status: checkin.StatusSuccess, Points: 1000},
				{Username: "b", Status: checkin.StatusCaptchaFailed, Points: 99},
			},
			wantStatus:  "partial",
			wantPoints:  1000,
			wantFailed:  1,
			wantSuccess: 1,
		},
		{
			name:       "all fail",
			results:    []checkin.Result{{Username: "a", Status: checkin.StatusLoginFailed}},
			wantStatus: "failed",
			wantFailed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewReportBuilder()
			for _, r := range tt.results {
				rb.AddResult(r)
			}
			for _, a := range tt.attempts {
				rb.AddAttempt(a)
			}
			rb.AddMetadata("trigger", "test")

			report := rb.Build()
			s := report.Summary
			if s.Status != tt.wantStatus || s.TotalPoints != tt.wantPoints || s.CaptchaSolveRate != tt.wantRate {
				t.Errorf("summary = %+v", s)
			}
			if len(s.FailedAccounts) != tt.wantFailed || s.Succeeded != tt.wantSuccess {
				t.Errorf("failed = %v, succeeded = %d", s.FailedAccounts, s.Succeeded)
			}
			if report.ReportID == "" || report.Metadata["trigger"] != "test" {
				t.Errorf("report = %+v", report)
			}
		})
	}
}

func TestReportSaveAndLoad(t *testing.T) {
	rb := NewReportBuilder()
	rb.AddResult(checkin.Result{Username: "alice", Status: checkin.StatusSuccess, Points: 4200})
	rb.AddAttempt(captcha.AttemptReport{ID: "att-1", Number: 1, Solved: true})
	report := rb.Build()

	path, err := report.SaveToDir(t.TempDir())
	if err != nil {
		t.Fatalf("SaveToDir: %v", err)
	}
	if !strings.Contains(filepath.Base(path), report.ReportID[:8]) {
		t.Errorf("filename %s does not carry the report id", path)
	}

	loaded, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if loaded.ReportID != report.ReportID || len(loaded.Results) != 1 || loaded.Results[0].Points != 4200 {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Attempts) != 1 || loaded.Attempts[0].ID != "att-1" {
		t.Errorf("attempts = %+v", loaded.Attempts)
	}
}

// fakeS3 records uploads and fails the first failures calls.
type fakeS3 struct {
	failures int
	calls    int
	objects  map[string]string
	types    map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
		f.types = make(map[string]string)
	}
	key := aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func newTestUploader(client *fakeS3) *S3Uploader {
	u := NewS3UploaderWithClient(client, "bucket", "eu-west-1")
	u.retry = agent.RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffFactor:   1,
		RetryableErrors: []agent.ErrorCategory{agent.ErrorCategoryStorage},
	}
	u.now = func() time.Time { return time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC) }
	return u
}

func TestUploadReport(t *testing.T) {
	client := &fakeS3{failures: 1}
	u := newTestUploader(client)

	report := NewReportBuilder().Build()
	url, err := u.UploadReport(context.Background(), report)
	if err != nil {
		t.Fatalf("UploadReport: %v", err)
	}

	key := "reports/" + report.ReportID + "/report.json"
	if url != "https://bucket.s3.eu-west-1.amazonaws.com/"+key || url != u.GetReportURL(report.ReportID) {
		t.Errorf("url = %s", url)
	}
	if client.calls != 2 {
		t.Errorf("PutObject calls = %d, want 2 (one retry)", client.calls)
	}
	if !strings.Contains(client.objects[key], report.ReportID) || client.types[key] != "application/json" {
		t.Errorf("uploaded %q as %s", client.objects[key], client.types[key])
	}
}

func TestUploadGivesUp(t *testing.T) {
	client := &fakeS3{failures: 10}
	u := newTestUploader(client)

	_, err := u.UploadBytes(context.Background(), []byte("x"), "k", "text/plain")
	if err == nil {
		t.Fatal("expected error")
	}
	if agent.CategoryOf(err) != agent.ErrorCategoryStorage {
		t.Errorf("category = %s, want storage", agent.CategoryOf(err))
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 3", client.calls)
	}
}

func TestArchiveSamples(t *testing.T) {
	ws, err := captcha.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{ws.Background(), ws.Piece(0)} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	client := &fakeS3{}
	u := newTestUploader(client)
	var sink captcha.SampleSink = u

	if err := sink.Archive(context.Background(), "att-42", ws.Files()); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(client.objects) != 2 {
		t.Fatalf("objects = %v", client.objects)
	}
	key := "samples/2025-03-01/att-42/" + filepath.Base(ws.Background())
	if client.objects[key] != filepath.Base(ws.Background()) || client.types[key] != "image/jpeg" {
		t.Errorf("missing or wrong %s: %v", key, client.objects)
	}
}

func TestUploadScreenshotFromMemory(t *testing.T) {
	client := &fakeS3{}
	u := newTestUploader(client)
	shot := &agent.Screenshot{
		Context:   agent.ContextEarn,
		Timestamp: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Data:      []byte("png"),
	}

	url, err := u.UploadScreenshot(context.Background(), shot, "rep-1")
	if err != nil {
		t.Fatalf("UploadScreenshot: %v", err)
	}
	if !strings.HasSuffix(url, "reports/rep-1/screenshots/earn_20250301_080000.png") {
		t.Errorf("url = %s", url)
	}
}

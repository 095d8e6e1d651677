package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamup/checkin-agent/internal/captcha"
	"github.com/dreamup/checkin-agent/internal/checkin"
)

// Report represents the outcome of one check-in run over all accounts
type Report struct {
	// ReportID is a unique identifier for this report
	ReportID string `json:"report_id"`
	// Timestamp is when the run started
	Timestamp time.Time `json:"timestamp"`
	// Duration is how long the run took
	Duration time.Duration `json:"duration_ms"`
	// Results holds one entry per account
	Results []checkin.Result `json:"results"`
	// Attempts lists every challenge attempt made during the run
	Attempts []captcha.AttemptReport `json:"captcha_attempts,omitempty"`
	// Summary provides a high-level overview
	Summary *Summary `json:"summary"`
	// Metadata contains additional information
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary provides a high-level run overview
type Summary struct {
	// Status is the overall run status (passed, partial, failed)
	Status string `json:"status"`
	// Accounts is the number of accounts processed
	Accounts int `json:"accounts"`
	// Succeeded counts accounts that checked in
	Succeeded int `json:"succeeded"`
	// TotalPoints sums the balances read after check-in
	TotalPoints int `json:"total_points"`
	// CaptchaAttempts counts solve attempts across all challenges
	CaptchaAttempts int `json:"captcha_attempts"`
	// CaptchaSolveRate is solved attempts over all attempts
	CaptchaSolveRate float64 `json:"captcha_solve_rate"`
	// FailedAccounts maps username to failure status
	FailedAccounts map[string]checkin.Status `json:"failed_accounts,omitempty"`
}

// ReportBuilder collects results while a run is in progress. It is safe
// for concurrent use.
type ReportBuilder struct {
	mu        sync.Mutex
	startTime time.Time
	results   []checkin.Result
	attempts  []captcha.AttemptReport
	metadata  map[string]string
}

// NewReportBuilder creates a new report builder
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{
		startTime: time.Now(),
		metadata:  make(map[string]string),
	}
}

// AddResult records one account's outcome
func (rb *ReportBuilder) AddResult(r checkin.Result) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.results = append(rb.results, r)
}

// AddAttempt records one challenge attempt. Its signature fits
// captcha.Solver.OnAttempt.
func (rb *ReportBuilder) AddAttempt(a captcha.AttemptReport) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.attempts = append(rb.attempts, a)
}

// AddMetadata adds a metadata key-value pair
func (rb *ReportBuilder) AddMetadata(key, value string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.metadata[key] = value
}

// Build constructs the final report
func (rb *ReportBuilder) Build() *Report {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	results := append([]checkin.Result(nil), rb.results...)
	attempts := append([]captcha.AttemptReport(nil), rb.attempts...)
	metadata := make(map[string]string, len(rb.metadata))
	for k, v := range rb.metadata {
		metadata[k] = v
	}

	return &Report{
		ReportID:  uuid.New().String(),
		Timestamp: rb.startTime,
		Duration:  time.Since(rb.startTime),
		Results:   results,
		Attempts:  attempts,
		Summary:   buildSummary(results, attempts),
		Metadata:  metadata,
	}
}

// buildSummary constructs the run summary
func buildSummary(results []checkin.Result, attempts []captcha.AttemptReport) *Summary {
	summary := &Summary{
		Accounts:        len(results),
		CaptchaAttempts: len(attempts),
		FailedAccounts:  make(map[string]checkin.Status),
	}

	for _, r := range results {
		if r.Succeeded() {
			summary.Succeeded++
			summary.TotalPoints += r.Points
		} else {
			summary.FailedAccounts[r.Username] = r.Status
		}
	}

	solved := 0
	for _, a := range attempts {
		if a.Solved {
			solved++
		}
	}
	if len(attempts) > 0 {
		summary.CaptchaSolveRate = float64(solved) / float64(len(attempts))
	}

	// Determine overall status
	switch {
	case summary.Accounts > 0 && summary.Succeeded == summary.Accounts:
		summary.Status = "passed"
	case summary.Succeeded > 0:
		summary.Status = "partial"
	default:
		summary.Status = "failed"
	}

	return summary
}

// SaveToFile saves the report to a JSON file
func (r *Report) SaveToFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}

	return nil
}

// SaveToDir saves the report into dir under a timestamped name. An empty
// dir means the system temp directory.
func (r *Report) SaveToDir(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	filename := fmt.Sprintf("checkin_report_%s_%s.json",
		r.Timestamp.Format("20060102_150405"),
		r.ReportID[:8],
	)
	path := filepath.Join(dir, filename)

	if err := r.SaveToFile(path); err != nil {
		return "", err
	}

	return path, nil
}

// LoadReport reads a report previously written by SaveToFile
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}

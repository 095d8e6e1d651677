package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamup/checkin-agent/internal/app"
	"github.com/dreamup/checkin-agent/internal/checkin"
	"github.com/dreamup/checkin-agent/internal/db"
)

// Executor runs a check-in job. *app.App implements it.
type Executor interface {
	Execute(ctx context.Context, job app.Job) (*app.Outcome, error)
}

// RunRequest represents a check-in submission
type RunRequest struct {
	// Usernames limits the job to these configured accounts; empty means all
	Usernames []string `json:"usernames,omitempty"`
	// Upload sends the report to S3
	Upload bool `json:"upload"`
}

// RunResponse represents the submission response
type RunResponse struct {
	JobID  string   `json:"jobId"`
	RunIDs []string `json:"runIds"`
	Status string   `json:"status"`
}

// Server manages the API and job execution. One job runs at a time.
type Server struct {
	ctx      context.Context
	exec     Executor
	store    *db.Database
	accounts []checkin.Account

	// gate is held for the whole lifetime of a running job
	gate sync.Mutex
	wg   sync.WaitGroup
}

// NewServer creates a server whose jobs stop when ctx is cancelled
func NewServer(ctx context.Context, exec Executor, store *db.Database, accounts []checkin.Account) *Server {
	return &Server{
		ctx:      ctx,
		exec:     exec,
		store:    store,
		accounts: accounts,
	}
}

// Routes returns the HTTP handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("POST /api/runs", s.corsMiddleware(s.handleRunSubmit))
	mux.HandleFunc("GET /api/runs", s.corsMiddleware(s.handleRunList))
	mux.HandleFunc("GET /api/runs/{id}", s.corsMiddleware(s.handleRunStatus))
	mux.HandleFunc("GET /api/reports/{id}", s.corsMiddleware(s.handleReport))
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	return mux
}

// Wait blocks until the running job, if any, has finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// CORS middleware
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// Health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"version":  version,
		"accounts": len(s.accounts),
		"time":     time.Now(),
	})
}

// Submit a new check-in job
func (s *Server) handleRunSubmit(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}

	accounts, err := s.selectAccounts(req.Usernames)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.gate.TryLock() {
		http.Error(w, "A check-in job is already running", http.StatusConflict)
		return
	}

	jobID := uuid.New().String()
	runIDs := make(map[string]string, len(accounts))
	resp := RunResponse{JobID: jobID, Status: db.StatusPending}
	for _, acct := range accounts {
		id := uuid.New().String()
		if err := s.store.CreateRun(id, acct.Username, db.StatusPending); err != nil {
			s.gate.Unlock()
			http.Error(w, fmt.Sprintf("Failed to record run: %v", err), http.StatusInternalServerError)
			return
		}
		runIDs[acct.Username] = id
		resp.RunIDs = append(resp.RunIDs, id)
	}

	job := app.Job{
		Accounts: accounts,
		RunIDs:   runIDs,
		Metadata: map[string]string{"trigger": "api", "job_id": jobID},
		Upload:   req.Upload,
	}

	// Start execution in background; the gate is released when it ends
	s.wg.Add(1)
	go s.executeJob(jobID, job)

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) selectAccounts(usernames []string) ([]checkin.Account, error) {
	if len(usernames) == 0 {
		if len(s.accounts) == 0 {
			return nil, fmt.Errorf("no accounts configured")
		}
		return s.accounts, nil
	}
	byName := make(map[string]checkin.Account, len(s.accounts))
	for _, a := range s.accounts {
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

// Execute a job
func (s *Server) executeJob(jobID string, job app.Job) {
	defer s.wg.Done()
	defer s.gate.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("check-in job panicked", "job_id", jobID, "panic", r)
			s.failRuns(job.RunIDs, fmt.Sprintf("panic: %v", r))
		}
	}()

	slog.Info("starting check-in job", "job_id", jobID, "accounts", len(job.Accounts))
	out, err := s.exec.Execute(s.ctx, job)
	if err != nil {
		slog.Error("check-in job failed", "job_id", jobID, "error", err)
		s.failRuns(job.RunIDs, err.Error())
		return
	}
	slog.Info("check-in job finished", "job_id", jobID, "report_id", out.Report.ReportID,
		"status", out.Report.Summary.Status)
}

// failRuns marks runs that never completed as errored
func (s *Server) failRuns(runIDs map[string]string, message string) {
	for _, id := range runIDs {
		run, err := s.store.GetRun(id)
		if err != nil || run == nil || run.CompletedAt != nil {
			continue
		}
		if err := s.store.CompleteRun(id, string(checkin.StatusError), 0, 0, message, "", nil); err != nil {
			slog.Warn("failed to mark run as failed", "run_id", id, "error", err)
		}
	}
}

// List runs
func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	runs, err := s.store.ListRuns(status, limit, 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	for i := range runs {
		runs[i].ReportData = ""
	}
	writeJSON(w, http.StatusOK, runs)
}

// Get run status
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	run.ReportData = ""
	writeJSON(w, http.StatusOK, run)
}

// Get report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRunsByReportID(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load report: %v", err), http.StatusInternalServerError)
		return
	}
	if len(runs) == 0 || runs[0].ReportData == "" {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(runs[0].ReportData))
}

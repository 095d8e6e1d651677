package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses used before a check-in result is known. Finished runs carry
// the check-in status instead.
const (
	StatusPending = "pending"
	StatusRunning = "running"
)

// Database wraps SQLite connection
type Database struct {
	db *sql.DB
}

// RunRecord represents one account's check-in run in the database
type RunRecord struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Status          string     `json:"status"`
	Points          int        `json:"points"`
	CaptchaAttempts int        `json:"captchaAttempts"`
	Message         string     `json:"message,omitempty"`
	ReportID        string     `json:"reportId,omitempty"`
	ReportData      string     `json:"reportData,omitempty"` // JSON string
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

// initSchema creates the necessary tables
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		status TEXT NOT NULL,
		points INTEGER DEFAULT 0,
		captcha_attempts INTEGER DEFAULT 0,
		message TEXT,
		report_id TEXT,
		report_data TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_username ON runs(username);
	CREATE INDEX IF NOT EXISTS idx_runs_report_id ON runs(report_id);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateRun inserts a new run record
func (d *Database) CreateRun(id, username, status string) error {
	query := `
		INSERT INTO runs (id, username, status, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := d.db.Exec(query, id, username, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create run %s: %w", id, err)
	}
	return nil
}

// UpdateRunStatus updates the status of a run
func (d *Database) UpdateRunStatus(id, status string) error {
	query := `UPDATE runs SET status = ? WHERE id = ?`
	_, err := d.db.Exec(query, status, id)
	return err
}

// CompleteRun marks a run as complete with its final outcome. reportData is
// stored as JSON.
func (d *Database) CompleteRun(id, status string, points, captchaAttempts int, message, reportID string, reportData any) error {
	reportJSON, err := json.Marshal(reportData)
	if err != nil {
		return fmt.Errorf("failed to marshal report data: %w", err)
	}

	query := `
		UPDATE runs
		SET status = ?, points = ?, captcha_attempts = ?, message = ?, report_id = ?, report_data = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := d.db.Exec(query, status, points, captchaAttempts, message, reportID, string(reportJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const runColumns = `id, username, status, points, captcha_attempts, message, report_id, report_data, created_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var run RunRecord
	var message, reportID, reportData sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(
		&run.ID,
		&run.Username,
		&run.Status,
		&run.Points,
		&run.CaptchaAttempts,
		&message,
		&reportID,
		&reportData,
		&run.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Message = message.String
	run.ReportID = reportID.String
	run.ReportData = reportData.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID. A missing run returns nil, nil.
func (d *Database) GetRun(id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(d.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRunsByReportID returns every run that contributed to a report
func (d *Database) ListRunsByReportID(reportID string) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE report_id = ? ORDER BY created_at ASC`
	return d.query(query, reportID)
}

// ListRuns retrieves runs newest first with optional status filtering
func (d *Database) ListRuns(status string, limit, offset int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return d.query(query, args...)
}

func (d *Database) query(query string, args ...any) ([]RunRecord, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// CountRuns returns the total number of runs
func (d *Database) CountRuns(status string) (int, error) {
	query := `SELECT COUNT(*) FROM runs WHERE 1=1`
	args := []any{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	var count int
	err := d.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

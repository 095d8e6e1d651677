package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrorCategory represents the type of error
type ErrorCategory string

const (
	// ErrorCategoryBrowser for browser-related errors
	ErrorCategoryBrowser ErrorCategory = "browser"
	// ErrorCategoryNetwork for network/connectivity errors
	ErrorCategoryNetwork ErrorCategory = "network"
	// ErrorCategoryTimeout for timeout errors
	ErrorCategoryTimeout ErrorCategory = "timeout"
	// ErrorCategoryCaptcha for challenges that could not be solved
	ErrorCategoryCaptcha ErrorCategory = "captcha"
	// ErrorCategoryStorage for S3/storage errors
	ErrorCategoryStorage ErrorCategory = "storage"
	// ErrorCategoryUnknown for uncategorized errors
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// CategorizedError wraps an error with category and retry info
type CategorizedError struct {
	Category  ErrorCategory
	Original  error
	Retryable bool
	Message   string
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Original == nil {
		return fmt.Sprintf("[%s] %s", e.Category, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Original)
}

// Unwrap implements error unwrapping
func (e *CategorizedError) Unwrap() error {
	return e.Original
}

func newCategorized(cat ErrorCategory, retryable bool, message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  cat,
		Original:  err,
		Retryable: retryable,
		Message:   message,
	}
}

// NewBrowserError creates a browser-related error
func NewBrowserError(message string, err error) *CategorizedError {
	return newCategorized(ErrorCategoryBrowser, true, message, err)
}

// NewNetworkError creates a network-related error
func NewNetworkError(message string, err error) *CategorizedError {
	return newCategorized(ErrorCategoryNetwork, true, message, err)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, err error) *CategorizedError {
	return newCategorized(ErrorCategoryTimeout, true, message, err)
}

// NewCaptchaError creates an error for an unsolved challenge. The solver
// already spent its own attempts, so it is not retried again.
func NewCaptchaError(message string, err error) *CategorizedError {
	return newCategorized(ErrorCategoryCaptcha, false, message, err)
}

// NewStorageError creates a storage error
func NewStorageError(message string, err error) *CategorizedError {
	return newCategorized(ErrorCategoryStorage, true, message, err)
}

// CategoryOf returns the category of the first CategorizedError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	return ErrorCategoryUnknown
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor spreads each delay by +/- JitterFactor/2
	JitterFactor    float64
	RetryableErrors []ErrorCategory
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
		RetryableErrors: []ErrorCategory{
			ErrorCategoryBrowser,
			ErrorCategoryNetwork,
			ErrorCategoryTimeout,
		},
	}
}

// StorageRetryConfig retries S3 uploads
func StorageRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.RetryableErrors = []ErrorCategory{ErrorCategoryStorage, ErrorCategoryNetwork}
	return cfg
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err, config) {
			return err
		}

		if attempt < config.MaxAttempts-1 {
			delay := calculateDelay(attempt, config)
			slog.Debug("retrying after error", "attempt", attempt+1, "max", config.MaxAttempts, "delay", delay, "error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// shouldRetry determines if an error is retryable
func shouldRetry(err error, config RetryConfig) bool {
	var catErr *CategorizedError
	if !errors.As(err, &catErr) {
		// Unknown errors are not retryable by default
		return false
	}

	if !catErr.Retryable {
		return false
	}

	for _, category := range config.RetryableErrors {
		if catErr.Category == category {
			return true
		}
	}
	return false
}

// calculateDelay calculates retry delay with exponential backoff and jitter
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay)

	for i := 0; i < attempt; i++ {
		delay *= config.BackoffFactor
	}

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.JitterFactor > 0 {
		delay += delay * config.JitterFactor * (rand.Float64() - 0.5)
	}
	return time.Duration(delay)
}

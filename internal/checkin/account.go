package checkin

import (
	"fmt"
	"strings"
	"time"
)

// Account is one set of login credentials.
type Account struct {
	Username string
	Password string
}

// ParseAccounts parses credentials written as "name#password". Each value
// may hold several accounts joined with '&'. The password is everything
// after the first '#'.
func ParseAccounts(values []string) ([]Account, error) {
	var accounts []Account
	for _, v := range values {
		for _, entry := range strings.Split(v, "&") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			name, pass, ok := strings.Cut(entry, "#")
			name = strings.TrimSpace(name)
			if !ok || name == "" || pass == "" {
				return nil, fmt.Errorf("invalid account entry %q: expected name#password", redact(entry))
			}
			accounts = append(accounts, Account{Username: name, Password: pass})
		}
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	return accounts, nil
}

// redact keeps the name part of an entry so errors never echo a password.
func redact(entry string) string {
	if name, _, ok := strings.Cut(entry, "#"); ok {
		return name + "#***"
	}
	return entry
}

// Status is the outcome of one account's check-in.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusLoginFailed   Status = "login_failed"
	StatusCaptchaFailed Status = "captcha_failed"
	StatusEarnFailed    Status = "earn_failed"
	StatusError         Status = "error"
)

// PointsPerYuan converts a point balance into its currency value.
const PointsPerYuan = 2000

// Result records what happened for one account.
type Result struct {
	Username        string        `json:"username"`
	Status          Status        `json:"status"`
	Points          int           `json:"points"`
	CaptchaSolved   bool          `json:"captcha_solved"`
	CaptchaAttempts int           `json:"captcha_attempts"`
	Message         string        `json:"message,omitempty"`
	Screenshot      string        `json:"screenshot,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// Value is the approximate currency value of the point balance.
func (r Result) Value() float64 {
	return float64(r.Points) / PointsPerYuan
}

// Succeeded reports whether the check-in went through.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// ScreenshotContext represents the step of the run when a screenshot was taken
type ScreenshotContext string

const (
	// ContextLogin is taken after submitting the login form
	ContextLogin ScreenshotContext = "login"
	// ContextCaptcha is taken when a challenge could not be solved
	ContextCaptcha ScreenshotContext = "captcha"
	// ContextEarn is taken when the reward page misbehaves
	ContextEarn ScreenshotContext = "earn"
)

// Screenshot represents a captured screenshot with metadata
type Screenshot struct {
	// Filepath is the local path to the screenshot file
	Filepath string `json:"filepath,omitempty"`
	// Context indicates when the screenshot was taken
	Context ScreenshotContext `json:"context"`
	// Timestamp records when the screenshot was captured
	Timestamp time.Time `json:"timestamp"`
	// Data contains the raw PNG image bytes
	Data []byte `json:"-"`
}

// CaptureScreenshot captures the visible viewport as PNG
func CaptureScreenshot(ctx context.Context, screenshotContext ScreenshotContext) (*Screenshot, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, NewBrowserError("failed to capture screenshot", err)
	}

	return &Screenshot{
		Context:   screenshotContext,
		Timestamp: time.Now(),
		Data:      buf,
	}, nil
}

// SaveTo writes the screenshot into dir with a unique filename. An empty
// dir means the system temp directory.
func (s *Screenshot) SaveTo(dir string) error {
	if dir == "" {
		dir = os.TempDir()
	}

	filename := fmt.Sprintf("screenshot_%s_%s_%s.png",
		s.Context,
		s.Timestamp.Format("20060102_150405"),
		uuid.New().String()[:8],
	)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, s.Data, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot to %s: %w", path, err)
	}

	s.Filepath = path
	return nil
}

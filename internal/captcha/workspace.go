package captcha

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace holds the fixed temp file names reused by every attempt. Each
// attempt overwrites the previous attempt's files, so one workspace must not
// be shared by solvers running at the same time.
type Workspace struct {
	Dir string
}

// NewWorkspace creates dir (or a fresh temp dir when dir is empty).
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "checkin-captcha-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create captcha workspace: %w", err)
		}
		return &Workspace{Dir: d}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create captcha workspace %s: %w", dir, err)
	}
	return &Workspace{Dir: dir}, nil
}

func (w *Workspace) Background() string  { return filepath.Join(w.Dir, "captcha.jpg") }
func (w *Workspace) Instruction() string { return filepath.Join(w.Dir, "sprite.jpg") }
func (w *Workspace) Scratch() string     { return filepath.Join(w.Dir, "temp_spec.jpg") }

// Piece returns the path of sprite piece i (0-based).
func (w *Workspace) Piece(i int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("sprite_%d.jpg", i+1))
}

// Files lists the workspace files that currently exist, keyed by base name.
func (w *Workspace) Files() map[string]string {
	files := make(map[string]string)
	candidates := []string{w.Background(), w.Instruction(), w.Scratch()}
	for i := 0; i < PieceCount; i++ {
		candidates = append(candidates, w.Piece(i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			files[filepath.Base(p)] = p
		}
	}
	return files
}

// Remove deletes the workspace directory.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

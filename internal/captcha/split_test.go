package captcha

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitSprite(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sprite := ws.Instruction()
	writeJPEG(t, sprite, 92, 30,
		color.RGBA{R: 255, A: 255}, color.RGBA{G: 255, A: 255}, color.RGBA{B: 255, A: 255})

	pieces, err := SplitSprite(ws, sprite)
	if err != nil {
		t.Fatalf("SplitSprite: %v", err)
	}
	if len(pieces) != PieceCount {
		t.Fatalf("got %d pieces, want %d", len(pieces), PieceCount)
	}

	for i, p := range pieces {
		if p.Index != i {
			t.Errorf("piece %d has index %d", i, p.Index)
		}
		if p.Path != ws.Piece(i) {
			t.Errorf("piece %d path = %s, want %s", i, p.Path, ws.Piece(i))
		}
		w, h, err := imageSize(p.Path)
		if err != nil {
			t.Fatalf("piece %d: %v", i, err)
		}
		// 92/3 = 30, the two trailing columns are dropped
		if w != 30 || h != 30 {
			t.Errorf("piece %d is %dx%d, want 30x30", i, w, h)
		}
		if p.Bounds.Min.X != i*30 {
			t.Errorf("piece %d starts at x=%d, want %d", i, p.Bounds.Min.X, i*30)
		}
	}

	// the middle of the first slice should still be dominated by red
	img, err := readImage(pieces[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(15, 15).RGBA()
	if r < g || r < b {
		t.Errorf("piece 0 center = (%d,%d,%d), want red dominant", r>>8, g>>8, b>>8)
	}
}

func TestSplitSpriteTooNarrow(t *testing.T) {
	ws, _ := NewWorkspace(t.TempDir())
	writeJPEG(t, ws.Instruction(), 2, 30)

	_, err := SplitSprite(ws, ws.Instruction())
	if KindOf(err) != KindSplitFailed {
		t.Errorf("kind = %s, want %s", KindOf(err), KindSplitFailed)
	}
}

func TestSplitSpriteUndecodable(t *testing.T) {
	ws, _ := NewWorkspace(t.TempDir())
	if err := os.WriteFile(ws.Instruction(), []byte("<html>not an image</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := SplitSprite(ws, ws.Instruction())
	if KindOf(err) != KindSplitFailed {
		t.Errorf("kind = %s, want %s", KindOf(err), KindSplitFailed)
	}
}

func TestWorkspaceFiles(t *testing.T) {
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "nested", "ws"))
	if err != nil {
		t.Fatal(err)
	}
	writeJPEG(t, ws.Background(), 10, 10)

	files := ws.Files()
	if len(files) != 1 || files["captcha.jpg"] != ws.Background() {
		t.Errorf("Files() = %v, want only captcha.jpg", files)
	}

	if err := ws.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after Remove: %v", err)
	}
}

func TestNewWorkspaceTemp(t *testing.T) {
	ws, err := NewWorkspace("")
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Remove()
	if ws.Dir == "" {
		t.Fatal("empty workspace dir")
	}
	if got := filepath.Base(ws.Piece(2)); got != "sprite_3.jpg" {
		t.Errorf("Piece(2) = %s, want sprite_3.jpg", got)
	}
}

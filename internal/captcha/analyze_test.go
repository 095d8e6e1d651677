package captcha

import (
	"context"
	"errors"
	"image/color"
	"reflect"
	"testing"
)

func newPreviewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	writeJPEG(t, ws.Background(), 300, 200, color.RGBA{R: 200, G: 180, B: 90, A: 255})
	writeJPEG(t, ws.Instruction(), 90, 30,
		color.RGBA{R: 255, A: 255}, color.RGBA{G: 255, A: 255}, color.RGBA{B: 255, A: 255})
	return ws
}

func TestPreviewReportsImageSpaceClicks(t *testing.T) {
	ws := newPreviewWorkspace(t)

	rep, err := Preview(context.Background(), &fakeDetector{boxes: testBoxes}, &tableMatcher{scores: testScores}, ws)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	want := []ClickPoint{{X: 30, Y: 30}, {X: 140, Y: 120}, {X: 80, Y: 40}}
	if !reflect.DeepEqual(rep.Clicks, want) {
		t.Errorf("clicks = %v, want %v", rep.Clicks, want)
	}
	if len(rep.Boxes) != len(testBoxes) || len(rep.Candidates) != PieceCount {
		t.Errorf("boxes = %d, candidates = %d", len(rep.Boxes), len(rep.Candidates))
	}
}

func TestPreviewDropsInvalidBoxes(t *testing.T) {
	ws := newPreviewWorkspace(t)
	det := &fakeDetector{boxes: []BoundingBox{{XMin: 5, YMin: 5, XMax: 5, YMax: 20}, {XMin: 9, YMin: 9, XMax: 1, YMax: 1}}}
	m := &tableMatcher{}

	rep, err := Preview(context.Background(), det, m, ws)
	if KindOf(err) != KindEmptyDetection {
		t.Fatalf("err = %v, want empty detection", err)
	}
	if rep.Kind != KindEmptyDetection || len(rep.Boxes) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if m.calls != 0 {
		t.Errorf("matcher called %d times", m.calls)
	}
}

func TestPreviewDetectorFailure(t *testing.T) {
	ws := newPreviewWorkspace(t)
	_, err := Preview(context.Background(), &fakeDetector{err: errors.New("model missing")}, &tableMatcher{}, ws)
	if KindOf(err) != KindUnexpected {
		t.Errorf("err = %v, want unexpected", err)
	}
}

package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// analyze splits the sprite, detects regions on the background and picks
// one distinct region per piece. Boxes and selected candidates are recorded
// on rep as they become known.
func analyze(ctx context.Context, det Detector, planner *Planner, ws *Workspace, rep *AttemptReport) ([]MatchCandidate, error) {
	pieces, err := SplitSprite(ws, ws.Instruction())
	if err != nil {
		return nil, err
	}

	bg, err := os.ReadFile(ws.Background())
	if err != nil {
		return nil, newError(KindUnexpected, "failed to read background", err)
	}
	boxes, err := det.Detect(ctx, bg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindUnexpected, "region detection failed", err)
	}
	boxes = validBoxes(boxes)
	rep.Boxes = boxes
	if len(boxes) == 0 {
		return nil, newError(KindEmptyDetection, "no candidate regions detected", nil)
	}
	slog.Info("candidate regions detected", "count", len(boxes))

	cands, err := planner.BestMatches(ws.Background(), pieces, boxes)
	if err != nil {
		return nil, newError(KindUnexpected, "matching failed", err)
	}
	selected, err := SelectDistinct(cands, PieceCount)
	rep.Candidates = selected
	if err != nil {
		return nil, err
	}
	return selected, nil
}

func validBoxes(boxes []BoundingBox) []BoundingBox {
	out := boxes[:0:0]
	for _, b := range boxes {
		if b.Valid() {
			out = append(out, b)
		}
	}
	return out
}

// Preview runs detection and matching on the background and sprite already
// in ws without touching a page. Clicks are reported in image pixels.
func Preview(ctx context.Context, det Detector, m Matcher, ws *Workspace) (AttemptReport, error) {
	rep := AttemptReport{Number: 1}
	selected, err := analyze(ctx, det, NewPlanner(m, ws), ws, &rep)
	if err != nil {
		rep.Kind, rep.Err = KindOf(err), err.Error()
		return rep, err
	}

	w, h, err := imageSize(ws.Background())
	if err != nil {
		err = fmt.Errorf("failed to read background size: %w", err)
		rep.Kind, rep.Err = KindOf(err), err.Error()
		return rep, err
	}
	rep.Clicks = Plan(selected, ws.Background(), float64(w), float64(h))
	return rep, nil
}

package captcha

import (
	"fmt"
	"log/slog"
	"sort"
)

// Planner turns detected regions and sprite pieces into click points.
type Planner struct {
	matcher Matcher
	ws      *Workspace
}

// NewPlanner creates a planner scoring crops with m. Crops are written to
// the workspace scratch file.
func NewPlanner(m Matcher, ws *Workspace) *Planner {
	return &Planner{matcher: m, ws: ws}
}

// BestMatches scores every piece against every box and keeps each piece's
// best-scoring box. A piece whose every box scores 0 contributes nothing.
func (p *Planner) BestMatches(backgroundPath string, pieces []SpritePiece, boxes []BoundingBox) ([]MatchCandidate, error) {
	bg, err := readImage(backgroundPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read background: %w", err)
	}
	bounds := bg.Bounds()

	results := make([]MatchCandidate, 0, len(pieces))
	for _, piece := range pieces {
		best := MatchCandidate{Piece: piece.Index}
		found := false

		for _, box := range boxes {
			r := box.Rect().Intersect(bounds)
			if r.Empty() {
				continue
			}
			// the crop is re-cut for every pair so the matcher always reads a
			// freshly written scratch file
			if err := writeCrop(bg, r, p.ws.Scratch()); err != nil {
				return nil, fmt.Errorf("failed to write region crop %s: %w", box, err)
			}

			score := p.matcher.Similarity(piece.Path, p.ws.Scratch())
			if score > best.Score {
				best.Score = score
				best.Box = box
				found = true
			}
		}

		if found {
			slog.Debug("best region for piece", "piece", piece.Index+1, "box", best.Box.String(), "score", best.Score)
			results = append(results, best)
		} else {
			slog.Debug("no region matched piece", "piece", piece.Index+1)
		}
	}
	return results, nil
}

// SelectDistinct walks candidates from highest to lowest score and accepts a
// candidate only when its box has not been claimed yet, until n boxes are
// accepted. Fewer than n distinct boxes is KindInsufficientMatches.
func SelectDistinct(cands []MatchCandidate, n int) ([]MatchCandidate, error) {
	sorted := make([]MatchCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	seen := make(map[BoundingBox]bool, n)
	selected := make([]MatchCandidate, 0, n)
	for _, c := range sorted {
		if seen[c.Box] {
			continue
		}
		seen[c.Box] = true
		selected = append(selected, c)
		if len(selected) == n {
			return selected, nil
		}
	}
	return selected, newError(KindInsufficientMatches,
		fmt.Sprintf("only %d distinct regions for %d pieces", len(selected), n), nil)
}

// MapToPage scales a box center from image pixels to the rendered element's
// coordinate space, truncating toward zero.
func MapToPage(box BoundingBox, imgW, imgH int, elemW, elemH float64) ClickPoint {
	cx, cy := box.Center()
	return ClickPoint{
		X: int(cx * elemW / float64(imgW)),
		Y: int(cy * elemH / float64(imgH)),
	}
}

// Plan maps the selected candidates onto the element, in selection order.
// The background's decoded size is used when readable, otherwise the
// DefaultImageWidth x DefaultImageHeight fallback.
func Plan(selected []MatchCandidate, backgroundPath string, elemW, elemH float64) []ClickPoint {
	imgW, imgH, err := imageSize(backgroundPath)
	if err != nil || imgW == 0 || imgH == 0 {
		slog.Warn("cannot read background size, using fallback",
			"width", DefaultImageWidth, "height", DefaultImageHeight, "error", err)
		imgW, imgH = DefaultImageWidth, DefaultImageHeight
	}

	clicks := make([]ClickPoint, 0, len(selected))
	for _, c := range selected {
		clicks = append(clicks, MapToPage(c.Box, imgW, imgH, elemW, elemH))
	}
	return clicks
}

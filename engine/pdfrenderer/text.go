package pdfrenderer

import (
	"math"

	"github.com/drummonds/pageview/engine"
	"github.com/ledongthuc/pdf"
)

// Gaps are measured in fractions of the font size
const (
	baselineTolerance = 0.2
	joinGap           = 0.15 // closer than this continues the word
	spaceGap          = 1.0  // closer than this continues the run after a space
)

// mergeTextRuns joins the per-glyph output of the parser into runs that
// share a baseline and font
func mergeTextRuns(texts []pdf.Text) []engine.TextItem {
	var items []engine.TextItem
	var run *engine.TextItem
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if run != nil && continuesRun(*run, t) {
			gap := t.X - (run.X + run.Width)
			if gap > joinGap*t.FontSize {
				run.Str += " "
			}
			run.Str += t.S
			run.Width = t.X + t.W - run.X
			continue
		}
		items = append(items, engine.TextItem{
			Str:      t.S,
			X:        t.X,
			Y:        t.Y,
			Width:    t.W,
			FontSize: t.FontSize,
			FontName: trimmedFont(t.Font),
		})
		run = &items[len(items)-1]
	}
	return items
}

func continuesRun(run engine.TextItem, t pdf.Text) bool {
	if trimmedFont(t.Font) != run.FontName || t.FontSize != run.FontSize {
		return false
	}
	if math.Abs(t.Y-run.Y) > baselineTolerance*t.FontSize {
		return false
	}
	gap := t.X - (run.X + run.Width)
	return gap > -joinGap*t.FontSize && gap < spaceGap*t.FontSize
}

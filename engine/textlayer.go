package engine

import (
	"context"
	"strings"
)

// textLayerCheckEvery is how many items are laid out between cancellation checks
const textLayerCheckEvery = 64

// DefaultTextLayer positions text items over the page bitmap. Page space
// has its origin at the bottom-left, the overlay at the top-left.
type DefaultTextLayer struct{}

// RenderTextLayer implements TextLayerRenderer
func (DefaultTextLayer) RenderTextLayer(ctx context.Context, content TextContent, viewport Viewport) (*TextFragment, error) {
	scale := viewport.Scale
	if scale <= 0 {
		scale = 1
	}
	fragment := &TextFragment{Spans: make([]TextSpan, 0, len(content.Items))}
	for i, item := range content.Items {
		if i%textLayerCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if strings.TrimSpace(item.Str) == "" {
			continue
		}
		fontSize := item.FontSize * scale
		fragment.Spans = append(fragment.Spans, TextSpan{
			Text:     item.Str,
			Left:     item.X * scale,
			Top:      viewport.Height - item.Y*scale - fontSize,
			Width:    item.Width * scale,
			FontSize: fontSize,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fragment, nil
}

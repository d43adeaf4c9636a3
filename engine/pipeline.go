package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// renderRun carries one pipeline run through its stages
type renderRun struct {
	req       RenderRequest
	page      Page
	viewport  Viewport
	bitmap    *Bitmap
	content   TextContent
	committed bool
}

// current reports whether the run still owns the scheduler. Continuations
// of superseded runs must not touch shared state.
func (s *Scheduler) current(run *renderRun) bool {
	return s.state.Rendering && s.state.Active.ID == run.req.ID
}

// foreground reports whether the active run may draw on the surface
func (s *Scheduler) foreground() bool {
	return !s.state.SuppressForeground
}

// superseded reports whether a newer navigation is waiting
func (s *Scheduler) superseded() bool {
	return s.state.Pending != nil
}

func (s *Scheduler) renderPage(pageNumber int, lazy, prerender bool) {
	if pageNumber < 1 || pageNumber > s.doc.PageCount() {
		Logger.Warn("Ignoring render request", "page", pageNumber, "pages", s.doc.PageCount(), "error", ErrPageOutOfRange)
		return
	}
	req := RenderRequest{
		ID:          s.newRunID(),
		PageNumber:  pageNumber,
		ZoomFactor:  s.zoomFactor(),
		Lazy:        lazy,
		IsPrerender: prerender,
	}
	s.state.Rendering = true
	s.state.SuppressForeground = prerender
	s.state.Active = req
	s.state.interrupted = false
	s.runs++
	Logger.Debug("Rendering page", "run", req.ID, "page", pageNumber, "zoom", req.ZoomFactor, "prerender", prerender, "lazy", lazy)

	if entry, ok := s.cache.Lookup(pageNumber, req.ZoomFactor); ok {
		Logger.Debug("Cache hit", "run", req.ID, "page", pageNumber, "zoom", req.ZoomFactor)
		if s.foreground() {
			s.apply(entry)
		}
		s.settle(req, s.foreground())
		return
	}

	run := &renderRun{req: req}
	doc := s.doc
	s.spawn(func() func() {
		page, err := doc.Page(s.ctx, pageNumber)
		return func() { s.onPage(run, page, err) }
	})
}

// apply shows a cached entry on the surface
func (s *Scheduler) apply(entry *CacheEntry) {
	s.surface.Draw(entry.Bitmap)
	s.surface.ReplaceOverlay(entry.Overlay)
	s.state.CurrentZoomFactor = entry.ZoomFactor
}

func (s *Scheduler) onPage(run *renderRun, page Page, err error) {
	if !s.current(run) {
		return
	}
	if err != nil {
		s.fail(run, fmt.Errorf("fetch page %d: %w", run.req.PageNumber, err))
		return
	}
	if s.handoff() {
		return
	}
	run.page = page
	run.viewport = page.Viewport(run.req.ZoomFactor / 100)
	run.bitmap = NewBitmap(run.viewport, s.pixelRatio)

	if s.foreground() {
		// lay out at the new size without waiting for pixels
		if run.req.ZoomFactor != s.state.CurrentZoomFactor {
			s.surface.ResizeLogical(run.viewport.Width, run.viewport.Height)
		}
		s.state.CurrentZoomFactor = run.req.ZoomFactor
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.state.cancelRaster = cancel
	s.spawn(func() func() {
		err := page.Render(ctx, run.bitmap, run.viewport)
		return func() {
			cancel()
			s.onRasterized(run, err)
		}
	})
}

func (s *Scheduler) onRasterized(run *renderRun, err error) {
	if !s.current(run) {
		return
	}
	s.state.cancelRaster = nil
	if err != nil {
		s.fail(run, fmt.Errorf("rasterize page %d: %w", run.req.PageNumber, err))
		return
	}
	if s.handoff() {
		return
	}
	s.commit(run)

	s.spawn(func() func() {
		content, err := run.page.TextContent(s.ctx)
		return func() { s.onTextContent(run, content, err) }
	})
}

func (s *Scheduler) onTextContent(run *renderRun, content TextContent, err error) {
	if !s.current(run) {
		return
	}
	if err != nil {
		s.fail(run, fmt.Errorf("extract text for page %d: %w", run.req.PageNumber, err))
		return
	}
	if s.handoff() {
		return
	}
	s.commit(run)
	run.content = content

	ctx, cancel := context.WithCancel(s.ctx)
	s.state.cancelText = cancel
	s.spawn(func() func() {
		fragment, err := s.textLayer.RenderTextLayer(ctx, run.content, run.viewport)
		return func() {
			cancel()
			s.onTextLayer(run, fragment, err)
		}
	})
}

func (s *Scheduler) onTextLayer(run *renderRun, fragment *TextFragment, err error) {
	if !s.current(run) {
		return
	}
	s.state.cancelText = nil
	if err != nil {
		s.fail(run, fmt.Errorf("render text layer for page %d: %w", run.req.PageNumber, err))
		return
	}

	overlay := s.surface.Overlay().CloneContainer()
	overlay.Width = run.bitmap.Width
	overlay.Height = run.bitmap.Height
	overlay.Append(fragment)
	if s.foreground() && !s.superseded() {
		s.commit(run)
		s.surface.ReplaceOverlay(overlay)
	}

	s.cache.Insert(&CacheEntry{
		PageNumber: run.req.PageNumber,
		ZoomFactor: run.req.ZoomFactor,
		Bitmap:     run.bitmap,
		Overlay:    overlay,
	})
	Logger.Debug("Page rendered", "run", run.req.ID, "page", run.req.PageNumber, "zoom", run.req.ZoomFactor, "cached", s.cache.Len())
	s.settle(run.req, s.foreground())
}

// commit draws the run's bitmap on the surface once, if the run is in the
// foreground. Called after every stage so a run promoted from prerender
// still lands.
func (s *Scheduler) commit(run *renderRun) {
	if !s.foreground() || run.committed || s.superseded() {
		return
	}
	s.surface.Draw(run.bitmap)
	s.state.CurrentZoomFactor = run.req.ZoomFactor
	run.committed = true
}

// fail ends the run without caching anything. Cancellation is expected
// when a run is superseded and is not reported as a failure.
func (s *Scheduler) fail(run *renderRun, err error) {
	if isCanceled(err) {
		s.cancellations++
		Logger.Debug("Render canceled", "run", run.req.ID, "page", run.req.PageNumber, "zoom", run.req.ZoomFactor)
	} else {
		s.failures++
		Logger.Error("Render failed", "run", run.req.ID, "page", run.req.PageNumber, "zoom", run.req.ZoomFactor, "prerender", run.req.IsPrerender, "error", err)
	}
	s.settle(run.req, false)
}

// formatProperties encodes document metadata the way the host displays it
func formatProperties(info map[string]string) (string, error) {
	if info == nil {
		info = map[string]string{}
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

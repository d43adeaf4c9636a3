// Package surface provides an in-memory visible page slot that a host can
// read while the scheduler draws on it.
package surface

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pageview/engine"
)

// ImageSurface implements engine.Surface on an opaque image
type ImageSurface struct {
	mu      sync.RWMutex
	canvas  *image.NRGBA
	width   float64 // logical size
	height  float64
	overlay *engine.TextOverlay
	draws   int
	resizes int
}

// New creates an empty surface
func New() *ImageSurface {
	return &ImageSurface{canvas: imaging.New(1, 1, color.White)}
}

// ResizeLogical implements engine.Surface
func (s *ImageSurface) ResizeLogical(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
	s.resizes++
}

// Draw implements engine.Surface. The pixels are copied so the cache keeps
// ownership of the bitmap.
func (s *ImageSurface) Draw(bitmap *engine.Bitmap) {
	if bitmap == nil || bitmap.Image == nil {
		return
	}
	bounds := bitmap.Image.Bounds()
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	canvas = imaging.Overlay(canvas, bitmap.Image, image.Pt(0, 0), 1.0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvas = canvas
	s.width = bitmap.Width
	s.height = bitmap.Height
	s.draws++
}

// Overlay implements engine.Surface
func (s *ImageSurface) Overlay() *engine.TextOverlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlay
}

// ReplaceOverlay implements engine.Surface. The previous overlay is dropped.
func (s *ImageSurface) ReplaceOverlay(overlay *engine.TextOverlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = overlay
}

// Snapshot returns a copy of the canvas. A positive width scales it down
// preserving the aspect ratio.
func (s *ImageSurface) Snapshot(width int) image.Image {
	s.mu.RLock()
	canvas := s.canvas
	s.mu.RUnlock()
	if width > 0 && width < canvas.Bounds().Dx() {
		return imaging.Resize(canvas, width, 0, imaging.Lanczos)
	}
	return imaging.Clone(canvas)
}

// OverlaySnapshot returns a copy of the current text overlay
func (s *ImageSurface) OverlaySnapshot() engine.TextOverlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.overlay == nil {
		return engine.TextOverlay{Width: s.width, Height: s.height}
	}
	overlay := *s.overlay
	overlay.Spans = append([]engine.TextSpan(nil), s.overlay.Spans...)
	return overlay
}

// Info describes the surface for hosts
type Info struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PixelWidth   int     `json:"pixelWidth"`
	PixelHeight  int     `json:"pixelHeight"`
	Draws        int     `json:"draws"`
	LogicalSizes int     `json:"logicalResizes"`
}

// Info returns the current sizes and counters
func (s *ImageSurface) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Width:        s.width,
		Height:       s.height,
		PixelWidth:   s.canvas.Bounds().Dx(),
		PixelHeight:  s.canvas.Bounds().Dy(),
		Draws:        s.draws,
		LogicalSizes: s.resizes,
	}
}

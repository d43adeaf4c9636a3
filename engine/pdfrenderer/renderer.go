package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Backend names accepted by NewRasterizer
const (
	BackendPDFium = "pdfium"
	BackendFitz   = "fitz"
)

// ErrUnknownBackend is returned for a backend name NewRasterizer does not know
var ErrUnknownBackend = errors.New("unknown render backend")

// pointsPerInch converts PDF user space to DPI
const pointsPerInch = 72.0

// Rasterizer draws the pages of one opened PDF file. Page indexes start at 0.
type Rasterizer interface {
	PageCount() int

	// PageSize returns the page size in points
	PageSize(index int) (width, height float64, err error)

	// RenderPage draws the page at the given DPI into target, resampling
	// when the backend's output size differs from the target
	RenderPage(ctx context.Context, index int, dpi float64, target *image.RGBA) error

	// Close cleans up any resources used by the rasterizer
	Close() error
}

// NewRasterizer opens filename with the named backend (pure Go PDFium by default)
func NewRasterizer(backend string, filename string) (Rasterizer, error) {
	switch backend {
	case "", BackendPDFium:
		return NewPDFiumRenderer(filename)
	case BackendFitz:
		return NewFitzRenderer(filename)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// drawInto copies src onto target, resizing it to fit exactly
func drawInto(target *image.RGBA, src image.Image) {
	bounds := target.Bounds()
	if src.Bounds().Dx() != bounds.Dx() || src.Bounds().Dy() != bounds.Dy() {
		resized := imaging.Resize(src, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
		draw.Draw(target, bounds, resized, image.Point{}, draw.Src)
		return
	}
	draw.Draw(target, bounds, src, src.Bounds().Min, draw.Src)
}

func checkIndex(index, pageCount int) error {
	if index < 0 || index >= pageCount {
		return fmt.Errorf("page index %d of %d: out of range", index, pageCount)
	}
	return nil
}

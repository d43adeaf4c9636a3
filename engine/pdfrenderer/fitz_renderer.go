package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements Rasterizer using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
	mu  sync.Mutex
	doc *fitz.Document
}

// NewFitzRenderer opens filename with MuPDF
func NewFitzRenderer(filename string) (*FitzRenderer, error) {
	doc, err := fitz.New(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	Logger.Debug("Opened PDF with MuPDF", "fileName", filename, "pages", doc.NumPage())
	return &FitzRenderer{doc: doc}, nil
}

// PageCount implements Rasterizer
func (r *FitzRenderer) PageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return 0
	}
	return r.doc.NumPage()
}

// PageSize implements Rasterizer. MuPDF reports bounds in points.
func (r *FitzRenderer) PageSize(index int) (float64, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return 0, 0, fmt.Errorf("fitz renderer is closed")
	}
	if err := checkIndex(index, r.doc.NumPage()); err != nil {
		return 0, 0, err
	}
	bounds, err := r.doc.Bound(index)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get bounds of page %d: %w", index, err)
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

// RenderPage implements Rasterizer
func (r *FitzRenderer) RenderPage(ctx context.Context, index int, dpi float64, target *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return fmt.Errorf("fitz renderer is closed")
	}
	if err := checkIndex(index, r.doc.NumPage()); err != nil {
		return err
	}
	img, err := r.doc.ImageDPI(index, dpi)
	if err != nil {
		return fmt.Errorf("unable to render page %d: %w", index, err)
	}
	drawInto(target, img)
	return nil
}

// Close releases the MuPDF document
func (r *FitzRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return nil
	}
	err := r.doc.Close()
	r.doc = nil
	return err
}

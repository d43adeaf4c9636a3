package engine

import "context"

// Opener loads a document from a URI
type Opener interface {
	Open(ctx context.Context, uri string) (Document, error)
}

// Document is an opened paginated document. Pages are numbered from 1.
type Document interface {
	PageCount() int
	Page(ctx context.Context, pageNumber int) (Page, error)
	Metadata(ctx context.Context) (map[string]string, error)
	Close() error
}

// Page is one page of a document
type Page interface {
	// Viewport returns the page size at the given scale (1 is 100%)
	Viewport(scale float64) Viewport
	// Render rasterizes the page into target. It returns ctx.Err() once
	// ctx is canceled, as soon as the backend allows.
	Render(ctx context.Context, target *Bitmap, viewport Viewport) error
	TextContent(ctx context.Context) (TextContent, error)
}

// TextLayerRenderer turns extracted text into positioned overlay spans
type TextLayerRenderer interface {
	RenderTextLayer(ctx context.Context, content TextContent, viewport Viewport) (*TextFragment, error)
}

// Host is the application embedding the viewer. Its methods are called
// from the scheduler goroutine and must be safe for that.
type Host interface {
	Page() int
	ZoomLevelIndex() int
	SetPageCount(n int)
	SetDocumentProperties(properties string)
}

// Surface is the single visible page slot
type Surface interface {
	// ResizeLogical changes the displayed size without touching pixels
	ResizeLogical(width, height float64)
	// Draw resizes the surface to the bitmap and copies its pixels
	Draw(bitmap *Bitmap)
	Overlay() *TextOverlay
	ReplaceOverlay(overlay *TextOverlay)
}

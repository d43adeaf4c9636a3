package engine

import (
	"image"

	"github.com/oklog/ulid/v2"
)

// RenderRequest describes one pipeline run for a page at a zoom factor
type RenderRequest struct {
	ID          ulid.ULID `json:"id"`
	PageNumber  int       `json:"pageNumber"`
	ZoomFactor  float64   `json:"zoomFactor"` // percent, 100 is actual size
	Lazy        bool      `json:"lazy"`
	IsPrerender bool      `json:"isPrerender"`
}

// sameTarget reports whether the request targets the given page and zoom
func (r RenderRequest) sameTarget(pageNumber int, zoomFactor float64) bool {
	return r.PageNumber == pageNumber && r.ZoomFactor == zoomFactor
}

// PendingRequest is a navigation that arrived while a run was active.
// The page itself is read from the host at handoff time.
type PendingRequest struct {
	Lazy bool `json:"lazy"`
}

// Viewport is the size of a page at a given scale in logical units
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// Bitmap is a rendered page target. Image is sized in device pixels while
// Width and Height hold the logical (display) size.
type Bitmap struct {
	Image  *image.RGBA
	Width  float64
	Height float64
}

// NewBitmap allocates a target for the viewport scaled by the device pixel ratio
func NewBitmap(viewport Viewport, ratio float64) *Bitmap {
	if ratio <= 0 {
		ratio = 1
	}
	w := max(int(viewport.Width*ratio), 1)
	h := max(int(viewport.Height*ratio), 1)
	return &Bitmap{
		Image:  image.NewRGBA(image.Rect(0, 0, w, h)),
		Width:  viewport.Width,
		Height: viewport.Height,
	}
}

// PixelRatio returns device pixels per logical unit along the x axis
func (b *Bitmap) PixelRatio() float64 {
	if b == nil || b.Image == nil || b.Width <= 0 {
		return 1
	}
	return float64(b.Image.Bounds().Dx()) / b.Width
}

// Release drops the pixel buffer
func (b *Bitmap) Release() {
	if b != nil {
		b.Image = nil
	}
}

// TextItem is a run of text in page space (origin bottom-left, points)
type TextItem struct {
	Str      string  `json:"str"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	FontSize float64 `json:"fontSize"`
	FontName string  `json:"fontName,omitempty"`
}

// TextContent is the extracted text of one page
type TextContent struct {
	Items []TextItem `json:"items"`
}

// TextSpan is a positioned piece of selectable text in viewport space
// (origin top-left, logical units)
type TextSpan struct {
	Text     string  `json:"text"`
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Width    float64 `json:"width"`
	FontSize float64 `json:"fontSize"`
}

// TextFragment is an offscreen text layer waiting to be attached to an overlay
type TextFragment struct {
	Spans []TextSpan `json:"spans"`
}

// TextOverlay holds the selectable text drawn over a page bitmap
type TextOverlay struct {
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Spans  []TextSpan `json:"spans"`
}

// CloneContainer copies the overlay attributes without its children.
// A nil overlay clones to an empty one.
func (o *TextOverlay) CloneContainer() *TextOverlay {
	if o == nil {
		return &TextOverlay{}
	}
	return &TextOverlay{Width: o.Width, Height: o.Height}
}

// Append moves the fragment's spans into the overlay
func (o *TextOverlay) Append(fragment *TextFragment) {
	if fragment == nil {
		return
	}
	o.Spans = append(o.Spans, fragment.Spans...)
	fragment.Spans = nil
}

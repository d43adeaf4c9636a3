package pdfrenderer

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/drummonds/pageview/engine"
	"github.com/ledongthuc/pdf"
)

// Opener opens local PDF files for the scheduler
type Opener struct {
	Backend string
}

// NewOpener returns an opener rendering with the named backend
func NewOpener(backend string) *Opener {
	return &Opener{Backend: backend}
}

// Open implements engine.Opener. It accepts plain paths and file:// URIs.
func (o *Opener) Open(ctx context.Context, uri string) (engine.Document, error) {
	path, err := DocumentPath(uri)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("unable to access PDF file: %w", err)
	}

	raster, err := NewRasterizer(o.Backend, path)
	if err != nil {
		return nil, err
	}
	file, reader, err := pdf.Open(path)
	if err != nil {
		raster.Close()
		Logger.Error("Unable to open PDF", "fileName", filepath.Base(path), "error", err)
		return nil, fmt.Errorf("unable to parse PDF: %w", err)
	}
	return &Document{raster: raster, file: file, reader: reader}, nil
}

// DocumentPath maps a document URI to a local file path
func DocumentPath(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("%w: empty", engine.ErrUnsupportedURI)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // single letters are drive names
		return filepath.FromSlash(uri), nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedURI, uri)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedURI, uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// Document implements engine.Document. Pixels come from the Rasterizer,
// text and metadata from the pure Go PDF parser.
type Document struct {
	mu     sync.Mutex
	raster Rasterizer
	file   *os.File
	reader *pdf.Reader
	closed bool
}

// PageCount implements engine.Document
func (d *Document) PageCount() int {
	return d.raster.PageCount()
}

// Page implements engine.Document
func (d *Document) Page(ctx context.Context, pageNumber int) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageNumber < 1 || pageNumber > d.PageCount() {
		return nil, fmt.Errorf("page %d: %w", pageNumber, engine.ErrPageOutOfRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, engine.ErrNoDocument
	}
	width, height, err := d.raster.PageSize(pageNumber - 1)
	if err != nil {
		return nil, err
	}
	return &page{doc: d, number: pageNumber, width: width, height: height}, nil
}

// Metadata implements engine.Document using the trailer Info dictionary
func (d *Document) Metadata(ctx context.Context) (info map[string]string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, engine.ErrNoDocument
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered reading PDF metadata", "panic", r)
			err = fmt.Errorf("read metadata: %v", r)
		}
	}()
	return infoDictionary(d.reader.Trailer().Key("Info")), nil
}

func infoDictionary(dict pdf.Value) map[string]string {
	info := map[string]string{}
	if dict.Kind() != pdf.Dict {
		return info
	}
	for _, key := range dict.Keys() {
		value := dict.Key(key)
		switch value.Kind() {
		case pdf.String:
			info[key] = value.Text()
		case pdf.Name:
			info[key] = value.Name()
		case pdf.Null:
		default:
			info[key] = value.String()
		}
	}
	return info
}

// Close implements engine.Document
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	rasterErr := d.raster.Close()
	if err := d.file.Close(); err != nil {
		return err
	}
	return rasterErr
}

// page implements engine.Page
type page struct {
	doc    *Document
	number int
	width  float64 // points
	height float64
}

func (p *page) Viewport(scale float64) engine.Viewport {
	return engine.Viewport{Width: p.width * scale, Height: p.height * scale, Scale: scale}
}

func (p *page) Render(ctx context.Context, target *engine.Bitmap, viewport engine.Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dpi := pointsPerInch * viewport.Scale * target.PixelRatio()
	p.doc.mu.Lock()
	closed := p.doc.closed
	p.doc.mu.Unlock()
	if closed {
		return engine.ErrNoDocument
	}
	if err := p.doc.raster.RenderPage(ctx, p.number-1, dpi, target.Image); err != nil {
		return err
	}
	// the backend could not be interrupted; drop the result if nobody wants it
	return ctx.Err()
}

func (p *page) TextContent(ctx context.Context) (content engine.TextContent, err error) {
	if err := ctx.Err(); err != nil {
		return content, err
	}
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.closed {
		return content, engine.ErrNoDocument
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered extracting PDF text", "page", p.number, "panic", r)
			err = fmt.Errorf("extract text: %v", r)
		}
	}()
	pdfPage := p.doc.reader.Page(p.number)
	if pdfPage.V.IsNull() {
		return content, fmt.Errorf("page %d: %w", p.number, engine.ErrPageOutOfRange)
	}
	content.Items = mergeTextRuns(pdfPage.Content().Text)
	return content, nil
}

// trimmedFont drops the subset prefix ("ABCDEF+Helvetica")
func trimmedFont(font string) string {
	if i := strings.IndexByte(font, '+'); i == 6 {
		return font[i+1:]
	}
	return font
}

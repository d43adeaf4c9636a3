package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// pdfiumInstanceTimeout is how long to wait for a worker from the pool
const pdfiumInstanceTimeout = 30 * time.Second

// PDFiumRenderer implements Rasterizer using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	mu        sync.Mutex
	pool      pdfium.Pool
	instance  pdfium.Pdfium
	document  references.FPDF_DOCUMENT
	pageCount int
}

// NewPDFiumRenderer opens filename in a single-worker PDFium WebAssembly pool
func NewPDFiumRenderer(filename string) (*PDFiumRenderer, error) {
	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	// One worker is enough: the scheduler never renders two pages at once
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(pdfiumInstanceTimeout)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	doc, err := instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCountResp, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		pool.Close()
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	Logger.Debug("Opened PDF with PDFium", "fileName", filename, "pages", pageCountResp.PageCount)
	return &PDFiumRenderer{
		pool:      pool,
		instance:  instance,
		document:  doc.Document,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// PageCount implements Rasterizer
func (r *PDFiumRenderer) PageCount() int {
	return r.pageCount
}

// PageSize implements Rasterizer
func (r *PDFiumRenderer) PageSize(index int) (float64, float64, error) {
	if err := checkIndex(index, r.pageCount); err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return 0, 0, fmt.Errorf("PDFium renderer is closed")
	}
	size, err := r.instance.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{
		Document: r.document,
		Index:    index,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	return size.Width, size.Height, nil
}

// RenderPage implements Rasterizer. PDFium cannot abort a page mid-render,
// so ctx is only checked before the call.
func (r *PDFiumRenderer) RenderPage(ctx context.Context, index int, dpi float64, target *image.RGBA) error {
	if err := checkIndex(index, r.pageCount); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return fmt.Errorf("PDFium renderer is closed")
	}

	pageRender, err := r.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(dpi + 0.5),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: r.document,
				Index:    index,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// the image lives in WebAssembly memory until Cleanup
	drawInto(target, pageRender.Result.Image)
	pageRender.Cleanup()
	return nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance != nil {
		if _, err := r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
			Document: r.document,
		}); err != nil {
			Logger.Warn("Unable to close PDFium document", "error", err)
		}
		r.instance = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	return nil
}

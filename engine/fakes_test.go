package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

var errTestOpen = errors.New("cannot open test document")

type fakeHost struct {
	mu         sync.Mutex
	page       int
	zoomIndex  int
	pageCount  int
	properties string
}

func (h *fakeHost) set(page, zoomIndex int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.page = page
	h.zoomIndex = zoomIndex
}

func (h *fakeHost) Page() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page
}

func (h *fakeHost) ZoomLevelIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.zoomIndex
}

func (h *fakeHost) SetPageCount(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pageCount = n
}

func (h *fakeHost) SetDocumentProperties(properties string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.properties = properties
}

func (h *fakeHost) snapshot() (int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pageCount, h.properties
}

// fakeSurface records every mutation. Bitmaps identify their page through
// the red channel of the first pixel.
type fakeSurface struct {
	mu      sync.Mutex
	ops     []string
	drawn   []int
	logical [][2]float64
	overlay *TextOverlay
	shown   []string // first span of every overlay put on the surface
}

func (f *fakeSurface) ResizeLogical(width, height float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "resize")
	f.logical = append(f.logical, [2]float64{width, height})
}

func (f *fakeSurface) Draw(bitmap *Bitmap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "draw")
	f.drawn = append(f.drawn, int(bitmap.Image.Pix[0]))
}

func (f *fakeSurface) Overlay() *TextOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlay
}

func (f *fakeSurface) ReplaceOverlay(overlay *TextOverlay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "overlay")
	f.overlay = overlay
	text := ""
	if overlay != nil && len(overlay.Spans) > 0 {
		text = overlay.Spans[0].Text
	}
	f.shown = append(f.shown, text)
}

func (f *fakeSurface) overlaysShown() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.shown...)
}

func (f *fakeSurface) logicalSizes() [][2]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]float64(nil), f.logical...)
}

func (f *fakeSurface) drawnPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.drawn...)
}

func (f *fakeSurface) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeSurface) overlayText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlay == nil || len(f.overlay.Spans) == 0 {
		return ""
	}
	return f.overlay.Spans[0].Text
}

type fakePage struct {
	number    int
	renderErr error
	textErr   error
	gate      chan struct{} // when set, Render waits for it to close
	started   chan int

	mu       sync.Mutex
	renders  int
	canceled bool
}

func newFakePage(number int) *fakePage {
	return &fakePage{number: number, started: make(chan int, 16)}
}

func (p *fakePage) Viewport(scale float64) Viewport {
	return Viewport{Width: 200 * scale, Height: 300 * scale, Scale: scale}
}

func (p *fakePage) Render(ctx context.Context, target *Bitmap, viewport Viewport) error {
	p.mu.Lock()
	p.renders++
	p.mu.Unlock()
	p.started <- p.number
	if p.gate != nil {
		<-p.gate
	}
	if err := ctx.Err(); err != nil {
		p.mu.Lock()
		p.canceled = true
		p.mu.Unlock()
		return err
	}
	if p.renderErr != nil {
		return p.renderErr
	}
	target.Image.Pix[0] = uint8(p.number)
	return nil
}

func (p *fakePage) TextContent(ctx context.Context) (TextContent, error) {
	if p.textErr != nil {
		return TextContent{}, p.textErr
	}
	return TextContent{Items: []TextItem{
		{Str: fmt.Sprintf("page %d", p.number), X: 10, Y: 20, Width: 50, FontSize: 12},
	}}, nil
}

func (p *fakePage) renderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renders
}

func (p *fakePage) wasCanceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

type fakeDocument struct {
	pages    []*fakePage
	metadata map[string]string

	// when gatedPage is set, fetching it signals fetching and waits for the gate
	gatedPage int
	pageGate  chan struct{}
	fetching  chan int

	mu        sync.Mutex
	requested map[int]int
	closed    bool
}

func newFakeDocument(pageCount int) *fakeDocument {
	doc := &fakeDocument{
		metadata:  map[string]string{"Title": "Test"},
		requested: map[int]int{},
	}
	for i := 1; i <= pageCount; i++ {
		doc.pages = append(doc.pages, newFakePage(i))
	}
	return doc
}

func (d *fakeDocument) page(n int) *fakePage {
	return d.pages[n-1]
}

func (d *fakeDocument) PageCount() int {
	return len(d.pages)
}

func (d *fakeDocument) Page(ctx context.Context, pageNumber int) (Page, error) {
	d.mu.Lock()
	d.requested[pageNumber]++
	d.mu.Unlock()
	if d.pageGate != nil && pageNumber == d.gatedPage {
		d.fetching <- pageNumber
		<-d.pageGate
	}
	if pageNumber < 1 || pageNumber > len(d.pages) {
		return nil, ErrPageOutOfRange
	}
	return d.pages[pageNumber-1], nil
}

func (d *fakeDocument) Metadata(ctx context.Context) (map[string]string, error) {
	return d.metadata, nil
}

func (d *fakeDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// gatePage makes fetching pageNumber block until the returned gate is closed
func (d *fakeDocument) gatePage(pageNumber int) chan struct{} {
	d.gatedPage = pageNumber
	d.pageGate = make(chan struct{})
	d.fetching = make(chan int, 4)
	return d.pageGate
}

func (d *fakeDocument) waitFetching(t *testing.T) {
	t.Helper()
	select {
	case <-d.fetching:
	case <-time.After(testTimeout):
		t.Fatalf("Fetch of page %d never started", d.gatedPage)
	}
}

func (d *fakeDocument) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDocument) requests(pageNumber int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested[pageNumber]
}

type fakeOpener struct {
	doc Document
	err error
}

func (o fakeOpener) Open(ctx context.Context, uri string) (Document, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

// gatedTextLayer lays out text like DefaultTextLayer but holds the page
// whose first item is target until gate is closed
type gatedTextLayer struct {
	target       string
	ignoreCancel bool // finish the layout even when ctx was canceled
	gate         chan struct{}
	started      chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func newGatedTextLayer(target string) *gatedTextLayer {
	return &gatedTextLayer{target: target, gate: make(chan struct{}), started: make(chan struct{}, 4)}
}

func (g *gatedTextLayer) RenderTextLayer(ctx context.Context, content TextContent, viewport Viewport) (*TextFragment, error) {
	if len(content.Items) > 0 && content.Items[0].Str == g.target {
		g.started <- struct{}{}
		<-g.gate
		g.mu.Lock()
		g.ctxErr = ctx.Err()
		g.mu.Unlock()
		if g.ignoreCancel {
			return DefaultTextLayer{}.RenderTextLayer(context.Background(), content, viewport)
		}
	}
	return DefaultTextLayer{}.RenderTextLayer(ctx, content, viewport)
}

func (g *gatedTextLayer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(testTimeout):
		t.Fatalf("Text layer for %q never started", g.target)
	}
}

func (g *gatedTextLayer) contextErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctxErr
}

// startScheduler runs a scheduler until the test ends
func startScheduler(t *testing.T, opener Opener, host Host, surface Surface) *Scheduler {
	t.Helper()
	return startSchedulerWith(t, opener, host, surface, Options{})
}

// startSchedulerWith is startScheduler with a custom text layer
func startSchedulerWith(t *testing.T, opener Opener, host Host, surface Surface, opts Options) *Scheduler {
	t.Helper()
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	opts.ZoomLevels = []float64{50, 75, 100, 125, 150}
	opts.MaxCached = 6
	s := NewScheduler(opener, host, surface, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("Scheduler did not settle: %v", err)
	}
}

func waitStarted(t *testing.T, p *fakePage) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(testTimeout):
		t.Fatalf("Rasterization of page %d never started", p.number)
	}
}

func stats(t *testing.T, s *Scheduler) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	return st
}

func load(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.Load(ctx, "test.pdf"); err != nil {
		t.Fatalf("Failed to load document: %v", err)
	}
}

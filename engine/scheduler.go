package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// DefaultZoomLevels are the zoom factors used when none are configured
var DefaultZoomLevels = []float64{50, 75, 100, 125, 150}

// Options configures a Scheduler
type Options struct {
	ZoomLevels       []float64 // percentages, indexed by Host.ZoomLevelIndex
	MaxCached        int
	DevicePixelRatio float64
	TextLayer        TextLayerRenderer
}

// SchedulerState is everything the scheduler knows about the run in progress
type SchedulerState struct {
	Rendering          bool
	Pending            *PendingRequest
	Active             RenderRequest
	SuppressForeground bool
	CurrentZoomFactor  float64

	cancelRaster context.CancelFunc
	cancelText   context.CancelFunc
	interrupted  bool // a stage task of the active run was canceled
	prerenders   []int
}

// Stats is a point-in-time view of the scheduler
type Stats struct {
	Loaded            bool          `json:"loaded"`
	PageCount         int           `json:"pageCount"`
	Rendering         bool          `json:"rendering"`
	Pending           bool          `json:"pending"`
	Active            RenderRequest `json:"active"`
	Prerender         bool          `json:"prerender"`
	CurrentZoomFactor float64       `json:"currentZoomFactor"`
	Cache             CacheStats    `json:"cache"`
	CachedKeys        []CacheKey    `json:"cachedKeys"`
	Runs              int           `json:"runs"`
	Failures          int           `json:"failures"`
	Cancellations     int           `json:"cancellations"`
}

// Scheduler coalesces navigation into render pipeline runs. All of its
// state is owned by the goroutine executing Run; the exported methods post
// work onto that goroutine.
type Scheduler struct {
	opener     Opener
	host       Host
	surface    Surface
	textLayer  TextLayerRenderer
	zoomLevels []float64
	pixelRatio float64
	cache      *Cache

	ctx           context.Context
	continuations chan func()
	started       chan struct{}
	stopped       chan struct{}
	startOnce     sync.Once

	doc         Document
	state       SchedulerState
	inflight    int
	idleWaiters []chan struct{}
	entropy     *ulid.MonotonicEntropy

	runs          int
	failures      int
	cancellations int
}

// NewScheduler creates a scheduler. Run must be called before any other method
// has an effect.
func NewScheduler(opener Opener, host Host, surface Surface, opts Options) *Scheduler {
	zoomLevels := opts.ZoomLevels
	if len(zoomLevels) == 0 {
		zoomLevels = DefaultZoomLevels
	}
	maxCached := opts.MaxCached
	if maxCached <= 0 {
		maxCached = DefaultMaxCached
	}
	ratio := opts.DevicePixelRatio
	if ratio <= 0 {
		ratio = 1
	}
	textLayer := opts.TextLayer
	if textLayer == nil {
		textLayer = DefaultTextLayer{}
	}
	now := time.Now()
	return &Scheduler{
		opener:        opener,
		host:          host,
		surface:       surface,
		textLayer:     textLayer,
		zoomLevels:    append([]float64(nil), zoomLevels...),
		pixelRatio:    ratio,
		cache:         NewCache(maxCached),
		continuations: make(chan func(), 64),
		started:       make(chan struct{}),
		stopped:       make(chan struct{}),
		entropy:       ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0),
	}
}

// Run executes continuations until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.ctx = ctx
		close(s.started)
	})
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			s.cancelTasks()
			if s.doc != nil {
				if err := s.doc.Close(); err != nil {
					Logger.Warn("Unable to close document", "error", err)
				}
			}
			return ctx.Err()
		case fn := <-s.continuations:
			fn()
			s.notifyIdle()
		}
	}
}

// post queues fn onto the event loop. It reports false if the loop is gone.
func (s *Scheduler) post(fn func()) bool {
	select {
	case s.continuations <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

// spawn runs task off the loop and posts the continuation it returns.
// Only call from the loop.
func (s *Scheduler) spawn(task func() func()) {
	s.inflight++
	go func() {
		next := task()
		s.post(func() {
			s.inflight--
			next()
		})
	}()
}

// call runs fn on the loop and waits for it to finish
func (s *Scheduler) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case <-s.started:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !s.post(func() { fn(); close(done) }) {
		return ErrSchedulerStopped
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load opens the document, reports it to the host and renders the host's
// current page. Open failures are returned; everything after is asynchronous.
// If ctx ends before the loop takes the document, it is closed and not installed.
func (s *Scheduler) Load(ctx context.Context, uri string) error {
	Logger.Info("Opening document", "uri", uri)
	doc, err := s.opener.Open(ctx, uri)
	if err != nil {
		Logger.Error("Unable to open document", "uri", uri, "error", err)
		return fmt.Errorf("open document %s: %w", uri, err)
	}

	var owner atomic.Int32 // loadPending, then loadInstalled or loadAbandoned
	err = s.call(ctx, func() {
		if !owner.CompareAndSwap(loadPending, loadInstalled) {
			return
		}
		s.install(doc, uri)
	})
	if err == nil {
		return nil
	}
	if !owner.CompareAndSwap(loadPending, loadAbandoned) {
		// the loop took it before ctx ended
		return nil
	}
	Logger.Warn("Document load abandoned", "uri", uri, "error", err)
	if closeErr := doc.Close(); closeErr != nil {
		Logger.Warn("Unable to close abandoned document", "uri", uri, "error", closeErr)
	}
	return err
}

// Ownership of a document handed from Load to the loop
const (
	loadPending int32 = iota
	loadInstalled
	loadAbandoned
)

// install replaces the current document and starts rendering the host's page
func (s *Scheduler) install(doc Document, uri string) {
	if s.doc != nil {
		s.cancelTasks()
		if err := s.doc.Close(); err != nil {
			Logger.Warn("Unable to close previous document", "error", err)
		}
	}
	s.doc = doc
	s.state = SchedulerState{}
	s.cache = NewCache(s.cache.Capacity())
	s.host.SetPageCount(doc.PageCount())
	Logger.Info("Document opened", "uri", uri, "pages", doc.PageCount())
	s.spawn(func() func() {
		info, err := doc.Metadata(s.ctx)
		return func() { s.reportMetadata(doc, info, err) }
	})
	s.renderPage(s.host.Page(), false, false)
}

// OnNavigate is called whenever the host's page or zoom selection changes
func (s *Scheduler) OnNavigate(lazy bool) {
	select {
	case <-s.started:
	default:
		Logger.Warn("Navigation before scheduler started, ignoring")
		return
	}
	s.post(func() { s.onNavigate(lazy) })
}

// WaitIdle blocks until no run is active and no collaborator call is in flight
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	if err := s.call(ctx, func() { s.idleWaiters = append(s.idleWaiters, idle) }); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-s.stopped:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scheduler and cache state
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.call(ctx, func() {
		stats = Stats{
			Loaded:            s.doc != nil,
			Rendering:         s.state.Rendering,
			Pending:           s.state.Pending != nil,
			Active:            s.state.Active,
			Prerender:         s.state.SuppressForeground,
			CurrentZoomFactor: s.state.CurrentZoomFactor,
			Cache:             s.cache.Stats(),
			CachedKeys:        s.cache.Keys(),
			Runs:              s.runs,
			Failures:          s.failures,
			Cancellations:     s.cancellations,
		}
		if s.doc != nil {
			stats.PageCount = s.doc.PageCount()
		}
	})
	return stats, err
}

// ZoomLevels returns the configured zoom factors
func (s *Scheduler) ZoomLevels() []float64 {
	return append([]float64(nil), s.zoomLevels...)
}

func (s *Scheduler) notifyIdle() {
	if s.state.Rendering || s.inflight > 0 || len(s.idleWaiters) == 0 {
		return
	}
	for _, w := range s.idleWaiters {
		close(w)
	}
	s.idleWaiters = nil
}

func (s *Scheduler) reportMetadata(doc Document, info map[string]string, err error) {
	if doc != s.doc {
		return
	}
	if err != nil {
		Logger.Error("Unable to read document metadata", "error", err)
		return
	}
	properties, err := formatProperties(info)
	if err != nil {
		Logger.Error("Unable to encode document metadata", "error", err)
		return
	}
	s.host.SetDocumentProperties(properties)
}

// zoomFactor resolves the host's zoom index, clamping it to the list
func (s *Scheduler) zoomFactor() float64 {
	index := s.host.ZoomLevelIndex()
	if index < 0 || index >= len(s.zoomLevels) {
		clamped := min(max(index, 0), len(s.zoomLevels)-1)
		Logger.Warn("Zoom level index out of range, clamping", "index", index, "clamped", clamped)
		index = clamped
	}
	return s.zoomLevels[index]
}

func (s *Scheduler) onNavigate(lazy bool) {
	if s.doc == nil {
		Logger.Debug("Navigation without a document, ignoring")
		return
	}
	if !s.state.Rendering {
		s.renderPage(s.host.Page(), lazy, false)
		return
	}

	if s.state.Active.sameTarget(s.host.Page(), s.zoomFactor()) {
		// already on its way; make sure it lands on the surface
		s.state.SuppressForeground = false
		if !s.state.interrupted {
			// nothing was canceled yet, so the active run can still finish
			s.state.Pending = nil
		}
		return
	}

	s.state.Pending = &PendingRequest{Lazy: lazy}
	if s.cancelTasks() {
		s.state.interrupted = true
	}
}

// cancelTasks signals the active stage task, if any. It reports whether
// anything was canceled.
func (s *Scheduler) cancelTasks() bool {
	canceled := false
	if s.state.cancelRaster != nil {
		s.state.cancelRaster()
		s.state.cancelRaster = nil
		canceled = true
	}
	if s.state.cancelText != nil {
		s.state.cancelText()
		s.state.cancelText = nil
		canceled = true
	}
	return canceled
}

// handoff starts the pending request, if any, in place of whatever the
// current run would do next
func (s *Scheduler) handoff() bool {
	if s.state.Pending == nil {
		return false
	}
	lazy := s.state.Pending.Lazy
	s.state.Rendering = false
	s.state.Pending = nil
	s.state.prerenders = nil
	s.renderPage(s.host.Page(), lazy, false)
	return true
}

// settle ends the active run and decides what runs next
func (s *Scheduler) settle(req RenderRequest, queueNeighbours bool) {
	s.state.Rendering = false
	s.state.cancelRaster = nil
	s.state.cancelText = nil
	if s.handoff() {
		return
	}
	if queueNeighbours {
		s.state.prerenders = s.state.prerenders[:0]
		if next := req.PageNumber + 1; next <= s.doc.PageCount() {
			s.state.prerenders = append(s.state.prerenders, next)
		}
		if prev := req.PageNumber - 1; prev >= 1 {
			s.state.prerenders = append(s.state.prerenders, prev)
		}
	}
	s.nextPrerender()
}

func (s *Scheduler) nextPrerender() {
	for len(s.state.prerenders) > 0 && !s.state.Rendering {
		pageNumber := s.state.prerenders[0]
		s.state.prerenders = s.state.prerenders[1:]
		s.renderPage(pageNumber, false, true)
	}
}

func (s *Scheduler) newRunID() ulid.ULID {
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		return ulid.Make()
	}
	return id
}

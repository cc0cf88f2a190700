package service

import (
	"context"
	"sync"
	"time"

	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/feed"
	"github.com/zfogg/sidechain/lazyload/internal/fetch"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"go.uber.org/zap"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// SessionOptions controls a simulated scroll through a feed.
type SessionOptions struct {
	ViewportWidth  float64
	ViewportHeight float64
	RootMargin     float64
	// Step is how far each tick scrolls; zero scrolls one viewport height.
	Step     float64
	Interval time.Duration
	// NoObserver loads eagerly in feed order.
	NoObserver bool
	// ProxyURL, when set, is retried once for images that fail directly.
	ProxyURL        string
	DefaultPriority lazyload.Priority
	// OnScroll is called after every viewport move.
	OnScroll func(visible lazyload.Rect, stats lazyload.Stats)
}

// Result is the outcome for one feed image.
type Result struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	State       string `json:"state"`
	Proxied     bool   `json:"proxied"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Bytes       int    `json:"bytes"`
}

type Report struct {
	Results    []Result       `json:"results"`
	Stats      lazyload.Stats `json:"stats"`
	Duration   time.Duration  `json:"duration_ns"`
	PageHeight float64        `json:"page_height"`
}

// Count returns how many results ended in state.
func (r *Report) Count(state string) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

type sessionEntry struct {
	ticket  *lazyload.Ticket
	proxied bool
}

// Session drives one loader over one laid-out feed.
type Session struct {
	opts     SessionOptions
	loader   *lazyload.Loader
	viewport *lazyload.Viewport
	items    []feed.Item

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSession lays out m and creates a loader for it. loaderOpts come from
// Runtime.LoaderOptions or, in tests, are built by hand.
func NewSession(f lazyload.Fetcher, m *feed.Manifest, opts SessionOptions, loaderOpts ...lazyload.Option) *Session {
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = m.Viewport.Width
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = m.Viewport.Height
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.Step <= 0 {
		opts.Step = opts.ViewportHeight
	}

	s := &Session{
		opts:    opts,
		items:   m.Layout(opts.ViewportWidth),
		entries: make(map[string]*sessionEntry),
	}

	if !opts.NoObserver {
		s.viewport = lazyload.NewViewport(opts.ViewportWidth, opts.ViewportHeight, opts.RootMargin)
		loaderOpts = append(loaderOpts, lazyload.WithDetector(s.viewport))
	}
	s.loader = lazyload.New(f, loaderOpts...)
	return s
}

// Loader exposes the session's scheduler.
func (s *Session) Loader() *lazyload.Loader { return s.loader }

// Viewport returns nil when the session loads eagerly.
func (s *Session) Viewport() *lazyload.Viewport { return s.viewport }

// Run enqueues every image, scrolls to the bottom of the page, then waits
// for the queue to drain. The loader is closed on return.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	defer s.loader.Close()
	start := time.Now()

	for _, it := range s.items {
		s.enqueue(it, it.URL, false)
	}

	pageHeight := feed.Height(s.items)
	if s.viewport != nil {
		if err := s.scroll(ctx, pageHeight); err != nil {
			return s.report(start, pageHeight), err
		}
	}

	if err := s.loader.Wait(ctx); err != nil {
		return s.report(start, pageHeight), err
	}
	return s.report(start, pageHeight), nil
}

func (s *Session) enqueue(it feed.Item, url string, proxied bool) {
	priority := it.Priority
	if priority == 0 {
		priority = s.opts.DefaultPriority
	}

	entry := &sessionEntry{proxied: proxied}
	opts := lazyload.LoadOptions{Priority: priority}
	if !proxied && s.opts.ProxyURL != "" && !fetch.IsProxied(s.opts.ProxyURL, url) {
		opts.OnError = func(err error) {
			logger.Log.Info("Retrying image through proxy",
				logger.WithElementID(it.Image.ID()),
				logger.WithURL(url),
				zap.String("kind", string(loaderrors.KindOf(err))),
			)
			s.enqueue(it, fetch.ProxyURL(s.opts.ProxyURL, url), true)
		}
	}

	// Record the entry before Enqueue: cached URLs complete synchronously.
	s.mu.Lock()
	s.entries[it.Image.ID()] = entry
	s.mu.Unlock()

	ticket := s.loader.Enqueue(it.Image, url, opts)

	s.mu.Lock()
	entry.ticket = ticket
	s.mu.Unlock()
}

// scroll walks the viewport down the page one step per interval and finally
// grows it over the whole page so off-axis images are revealed too.
func (s *Session) scroll(ctx context.Context, pageHeight float64) error {
	var ticker *time.Ticker
	if s.opts.Interval > 0 {
		ticker = time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
	}

	s.notify()
	for s.viewport.Bounds().Y+s.opts.ViewportHeight < pageHeight {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.viewport.ScrollBy(0, s.opts.Step)
		s.notify()
	}

	width, height := s.pageExtent()
	s.viewport.ScrollTo(0, 0)
	s.viewport.Resize(width, height)
	s.notify()
	return nil
}

func (s *Session) notify() {
	if s.opts.OnScroll != nil {
		s.opts.OnScroll(s.viewport.Bounds(), s.loader.Stats())
	}
}

func (s *Session) pageExtent() (float64, float64) {
	w, h := s.opts.ViewportWidth, s.opts.ViewportHeight
	for _, it := range s.items {
		b := it.Image.Bounds()
		if b.X+b.Width > w {
			w = b.X + b.Width
		}
		if b.Y+b.Height > h {
			h = b.Y + b.Height
		}
	}
	return w, h
}

func (s *Session) report(start time.Time, pageHeight float64) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := &Report{
		Results:    make([]Result, 0, len(s.items)),
		Stats:      s.loader.Stats(),
		Duration:   time.Since(start),
		PageHeight: pageHeight,
	}
	for _, it := range s.items {
		entry := s.entries[it.Image.ID()]
		res := Result{
			ID:     it.Image.ID(),
			URL:    it.URL,
			Source: it.Image.Source(),
		}
		if entry != nil && entry.ticket != nil {
			res.State = entry.ticket.State().String()
			res.Proxied = entry.proxied
			if err := entry.ticket.Err(); err != nil {
				loadErr := loaderrors.Categorize(err)
				res.ErrorKind = string(loadErr.Kind)
				res.Error = err.Error()
				res.Suggestion = loadErr.Suggestion
			}
		}
		if r := it.Image.Resource(); r != nil {
			res.ContentType = r.ContentType
			res.Width, res.Height = r.Width, r.Height
			res.Bytes = r.Size()
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

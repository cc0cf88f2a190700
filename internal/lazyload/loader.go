package lazyload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultDispatchDelay separates a completion from the next dispatch pass so
// bursts of completions do not monopolize the host.
const DefaultDispatchDelay = 50 * time.Millisecond

const tracerName = "github.com/zfogg/sidechain/lazyload"

// Option configures a Loader.
type Option func(*Loader)

// WithMaxConcurrent caps in-flight fetches. Values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxActive = n
		}
	}
}

// WithDispatchDelay sets the pause between a completion and the next
// dispatch pass. Zero dispatches inline.
func WithDispatchDelay(d time.Duration) Option {
	return func(l *Loader) {
		if d >= 0 {
			l.delay = d
		}
	}
}

// WithLoadedSet replaces the in-memory loaded-set.
func WithLoadedSet(s LoadedSet) Option {
	return func(l *Loader) {
		if s != nil {
			l.loaded = s
		}
	}
}

// WithDetector enables viewport promotion. Without a detector the loader
// loads eagerly in enqueue order.
func WithDetector(d IntersectionDetector) Option {
	return func(l *Loader) { l.detector = d }
}

// WithListener registers an event listener.
func WithListener(li Listener) Option {
	return func(l *Loader) {
		if li != nil {
			l.listeners = append(l.listeners, li)
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loader) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// Stats is a point-in-time snapshot of the loader.
type Stats struct {
	Queued    int    `json:"queued"`
	Active    int    `json:"active"`
	MaxActive int    `json:"max_active"`
	Watching  int    `json:"watching"`
	Enqueued  uint64 `json:"enqueued"`
	Loaded    uint64 `json:"loaded"`
	Errored   uint64 `json:"errored"`
	CacheHits uint64 `json:"cache_hits"`
	Replaced  uint64 `json:"replaced"`
	Promoted  uint64 `json:"promoted"`
	Canceled  uint64 `json:"canceled"`
}

// Loader is a lazy image scheduler. Create one per page or session; loaders
// share no state with each other.
type Loader struct {
	fetcher   Fetcher
	loaded    LoadedSet
	detector  IntersectionDetector
	observer  *observer
	listeners []Listener
	log       *zap.Logger
	tracer    trace.Tracer
	maxActive int
	delay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	queue      *queue
	loading    map[string]*item  // element id -> in-flight item
	latest     map[string]string // element id -> newest ticket id
	active     int
	settling   int
	closed     bool
	idle       chan struct{}
	idleClosed bool
	stats      Stats
}

// New creates a loader that fetches through f.
func New(f Fetcher, opts ...Option) *Loader {
	ctx, cancel := context.WithCancel(context.Background())

	l := &Loader{
		fetcher:   f,
		loaded:    NewMemorySet(),
		log:       logger.Log,
		tracer:    otel.Tracer(tracerName),
		maxActive: MaxConcurrentLoads,
		delay:     DefaultDispatchDelay,
		ctx:       ctx,
		cancel:    cancel,
		queue:     newQueue(),
		loading:   make(map[string]*item),
		latest:    make(map[string]string),
		idle:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	close(l.idle)
	l.idleClosed = true
	l.observer = newObserver(l.detector, l.promote)

	if !l.observer.available() {
		l.log.Info("Intersection detection unavailable, loading images eagerly")
	}

	return l
}

// Enqueue requests a load of url into el. It never blocks on the network:
// a loaded-set hit completes synchronously, anything else is queued.
// Enqueueing an element that already has a queued request replaces it.
func (l *Loader) Enqueue(el Element, url string, opts LoadOptions) *Ticket {
	if el == nil || url == "" {
		return l.reject(el, url, opts)
	}

	t := newTicket(el.ID(), url)
	if l.loaded.Has(url) {
		return l.serveCached(el, t, opts)
	}

	el.SetClass(ClassLoaded, false)
	el.SetClass(ClassPending, true)

	id := el.ID()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		el.SetClass(ClassPending, false)
		t.resolve(StateCanceled, ErrClosed)
		return t
	}

	// A second request for what is already downloading joins that load.
	if inflight, ok := l.loading[id]; ok && inflight.url == url && l.latest[id] == inflight.ticket.ID {
		inflight.addCallbacks(opts)
		l.mu.Unlock()
		return inflight.ticket
	}

	it := &item{
		ticket:   t,
		element:  el,
		url:      url,
		priority: opts.Priority.Clamp(),
		state:    StatePending,
	}
	it.addCallbacks(opts)

	// Replacements keep the viewport signal of the item they replace; the
	// observer has already unwatched that element.
	if prev, ok := l.queue.get(id); ok && prev.observed() {
		it.promote()
	}
	if !l.observer.available() {
		it.promote()
	}
	t.setState(it.state)

	replaced := l.queue.push(it)
	l.latest[id] = t.ID
	l.stats.Enqueued++
	var replacedEv Event
	if replaced != nil {
		replaced.state = StateReplaced
		l.stats.Replaced++
		replacedEv = l.eventLocked(EventReplaced, replaced)
	}
	ev := l.eventLocked(EventEnqueued, it)
	l.updateIdleLocked()
	l.mu.Unlock()

	if replaced != nil {
		replaced.ticket.resolve(StateReplaced, ErrReplaced)
		l.emit(replacedEv)
	}
	l.emit(ev)
	l.log.Debug("Image queued",
		logger.WithElementID(id),
		logger.WithURL(url),
		zap.Int("priority", int(it.priority)),
		zap.Bool("replaced", replaced != nil),
	)

	if !it.observed() {
		l.observer.watch(el)
	}
	l.dispatch()
	return t
}

func (l *Loader) reject(el Element, url string, opts LoadOptions) *Ticket {
	id := ""
	if el != nil {
		id = el.ID()
	}
	t := newTicket(id, url)
	err := fmt.Errorf("%w: element and url are required", ErrInvalidRequest)
	t.resolve(StateErrored, err)
	if opts.OnError != nil {
		opts.OnError(err)
	}
	return t
}

// serveCached completes a request for a URL that already loaded.
func (l *Loader) serveCached(el Element, t *Ticket, opts LoadOptions) *Ticket {
	id := el.ID()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.resolve(StateCanceled, ErrClosed)
		return t
	}
	replaced, ok := l.queue.remove(id)
	delete(l.latest, id)
	l.stats.CacheHits++
	var replacedEv Event
	if ok {
		replaced.state = StateReplaced
		l.stats.Replaced++
		replacedEv = l.eventLocked(EventReplaced, replaced)
	}
	ev := Event{
		Kind:      EventCacheHit,
		TicketID:  t.ID,
		ElementID: id,
		URL:       t.URL,
		Priority:  opts.Priority.Clamp(),
		Active:    l.active,
		Queued:    l.queue.Len(),
		Time:      time.Now(),
	}
	l.updateIdleLocked()
	l.mu.Unlock()

	if ok {
		replaced.ticket.resolve(StateReplaced, ErrReplaced)
		l.observer.unwatch(el)
		l.emit(replacedEv)
	}

	el.SetSource(t.URL)
	el.SetClass(ClassPending, false)
	el.SetClass(ClassLoaded, true)
	t.resolve(StateLoaded, nil)
	l.emit(ev)

	if opts.OnLoad != nil {
		opts.OnLoad()
	}
	return t
}

// promote is the observer callback.
func (l *Loader) promote(el Element) {
	l.mu.Lock()
	it, ok := l.queue.promote(el.ID())
	var ev Event
	if ok {
		it.ticket.setState(StateObserved)
		l.stats.Promoted++
		ev = l.eventLocked(EventPromoted, it)
	}
	l.mu.Unlock()

	if !ok {
		return
	}
	l.emit(ev)
	l.dispatch()
}

// dispatch starts queued loads while there is headroom.
func (l *Loader) dispatch() {
	l.mu.Lock()
	var started []*item
	var events []Event
	for !l.closed && l.active < l.maxActive {
		it, ok := l.queue.pop()
		if !ok {
			break
		}
		l.active++
		it.state = StateLoading
		it.ticket.setState(StateLoading)
		l.loading[it.elementID()] = it
		// under the lock so a concurrent cache hit cannot be overwritten
		it.element.SetSource(it.url)
		l.wg.Add(1)
		started = append(started, it)
		events = append(events, l.eventLocked(EventDispatched, it))
	}
	l.mu.Unlock()

	for i, it := range started {
		l.observer.unwatch(it.element)
		l.emit(events[i])
		go l.load(it)
	}
}

func (l *Loader) load(it *item) {
	defer l.wg.Done()

	ctx, span := l.tracer.Start(l.ctx, "lazyload.load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lazyload.url", it.url),
			attribute.String("lazyload.element_id", it.elementID()),
			attribute.Int("lazyload.priority", int(it.priority)),
		),
	)

	start := time.Now()
	res, err := l.fetch(ctx, it.url)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("lazyload.bytes", res.Size()))
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	l.finish(it, res, err, elapsed)
}

// fetch isolates fetcher panics so a broken resource cannot take the
// concurrency slot with it.
func (l *Loader) fetch(ctx context.Context, url string) (res *Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("fetcher panic: %v", r)
		}
	}()

	res, err = l.fetcher.Fetch(ctx, url)
	if err == nil && res == nil {
		res = &Resource{URL: url}
	}
	return res, err
}

func (l *Loader) finish(it *item, res *Resource, err error, elapsed time.Duration) {
	id := it.elementID()
	if err == nil {
		l.loaded.Add(it.url)
	} else {
		err = fmt.Errorf("%w: %s: %w", ErrLoadFailed, it.url, err)
	}

	l.mu.Lock()
	l.active--
	if l.loading[id] == it {
		delete(l.loading, id)
	}
	current := l.latest[id] == it.ticket.ID
	if current {
		delete(l.latest, id)
	}
	kind := EventLoaded
	if err == nil {
		it.state = StateLoaded
		l.stats.Loaded++
	} else {
		it.state = StateErrored
		l.stats.Errored++
		kind = EventErrored
	}
	onLoad, onError := it.onLoad, it.onError
	ev := l.eventLocked(kind, it)
	ev.Duration = elapsed
	ev.Bytes = res.Size()
	ev.Err = err
	l.settling++
	l.mu.Unlock()

	if err == nil {
		if current {
			it.element.SetClass(ClassPending, false)
			it.element.SetClass(ClassLoaded, true)
			if sink, ok := it.element.(ResourceSink); ok {
				sink.SetResource(res)
			}
		}
		it.ticket.resolve(StateLoaded, nil)
		l.log.Debug("Image loaded",
			logger.WithElementID(id),
			logger.WithURL(it.url),
			logger.WithDuration(elapsed),
			zap.Int("bytes", res.Size()),
		)
	} else {
		if current {
			it.element.SetClass(ClassLoaded, false)
			it.element.SetClass(ClassPending, true)
		}
		it.ticket.resolve(StateErrored, err)
		l.log.Warn("Image load failed",
			logger.WithElementID(id),
			logger.WithURL(it.url),
			logger.WithDuration(elapsed),
			zap.Error(err),
		)
	}
	l.emit(ev)

	if err == nil {
		for _, fn := range onLoad {
			fn()
		}
	} else {
		for _, fn := range onError {
			fn(err)
		}
	}

	l.mu.Lock()
	l.settling--
	l.updateIdleLocked()
	l.mu.Unlock()

	l.scheduleDispatch()
}

func (l *Loader) scheduleDispatch() {
	if l.delay <= 0 {
		l.dispatch()
		return
	}
	time.AfterFunc(l.delay, l.dispatch)
}

// Wait blocks until nothing is queued or loading, or ctx ends.
func (l *Loader) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels queued requests and in-flight fetches and waits for the
// fetch goroutines to return. It must not be called from a callback.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pending := l.queue.drain()
	events := make([]Event, 0, len(pending))
	for _, it := range pending {
		it.state = StateCanceled
		l.stats.Canceled++
		events = append(events, l.eventLocked(EventCanceled, it))
	}
	l.updateIdleLocked()
	l.mu.Unlock()

	for i, it := range pending {
		it.ticket.resolve(StateCanceled, ErrClosed)
		l.observer.unwatch(it.element)
		l.emit(events[i])
	}

	l.cancel()
	l.wg.Wait()

	l.log.Debug("Loader closed", zap.Int("canceled", len(pending)))
	return nil
}

// Stats returns a snapshot of queue depth, load slots and counters.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	s := l.stats
	s.Queued = l.queue.Len()
	s.Active = l.active
	s.MaxActive = l.maxActive
	l.mu.Unlock()

	s.Watching = l.observer.count()
	return s
}

// State returns the state of the newest request for an element and whether
// the loader still tracks one.
func (l *Loader) State(elementID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if it, ok := l.queue.get(elementID); ok {
		return it.state, true
	}
	if it, ok := l.loading[elementID]; ok {
		return it.state, true
	}
	return 0, false
}

func (l *Loader) eventLocked(kind EventKind, it *item) Event {
	return Event{
		Kind:      kind,
		TicketID:  it.ticket.ID,
		ElementID: it.elementID(),
		URL:       it.url,
		Priority:  it.priority,
		Active:    l.active,
		Queued:    l.queue.Len(),
		Time:      time.Now(),
	}
}

func (l *Loader) emit(ev Event) {
	for _, li := range l.listeners {
		li.HandleEvent(ev)
	}
}

func (l *Loader) updateIdleLocked() {
	busy := l.queue.Len() > 0 || l.active > 0 || l.settling > 0
	switch {
	case busy && l.idleClosed:
		l.idle = make(chan struct{})
		l.idleClosed = false
	case !busy && !l.idleClosed:
		close(l.idle)
		l.idleClosed = true
	}
}

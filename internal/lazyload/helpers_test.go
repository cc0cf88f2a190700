package lazyload

import (
	"context"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// gateFetcher blocks each fetch until the test releases its URL.
type gateFetcher struct {
	mu      sync.Mutex
	gates   map[string]chan error
	started chan string
}

func newGateFetcher() *gateFetcher {
	return &gateFetcher{
		gates:   make(map[string]chan error),
		started: make(chan string, 256),
	}
}

func (f *gateFetcher) gate(url string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[url]
	if !ok {
		g = make(chan error, 1)
		f.gates[url] = g
	}
	return g
}

func (f *gateFetcher) Fetch(ctx context.Context, url string) (*Resource, error) {
	f.started <- url
	select {
	case err := <-f.gate(url):
		if err != nil {
			return nil, err
		}
		return &Resource{URL: url, ContentType: "image/png", Data: []byte(url)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gateFetcher) release(url string, err error) {
	f.gate(url) <- err
}

func (f *gateFetcher) nextStarted(t *testing.T) string {
	t.Helper()
	select {
	case url := <-f.started:
		return url
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a fetch to start")
		return ""
	}
}

func (f *gateFetcher) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case url := <-f.started:
		t.Fatalf("unexpected fetch of %s", url)
	case <-time.After(50 * time.Millisecond):
	}
}

// manualDetector fires only when the test says so.
type manualDetector struct {
	mu      sync.Mutex
	targets map[string]func()
}

func newManualDetector() *manualDetector {
	return &manualDetector{targets: make(map[string]func())}
}

func (d *manualDetector) Observe(el Element, fn func()) {
	d.mu.Lock()
	d.targets[el.ID()] = fn
	d.mu.Unlock()
}

func (d *manualDetector) Unobserve(el Element) {
	d.mu.Lock()
	delete(d.targets, el.ID())
	d.mu.Unlock()
}

// fire reports whether the element was still observed.
func (d *manualDetector) fire(id string) bool {
	d.mu.Lock()
	fn, ok := d.targets[id]
	d.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func (d *manualDetector) observing(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.targets[id]
	return ok
}

// eventLog records every event a loader emits.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofKind(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func img(id string) *Image {
	return NewImage(id, Rect{Width: 100, Height: 100})
}

func waitIdle(t *testing.T, l *Loader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("loader did not go idle: %v", err)
	}
}

func waitTicket(t *testing.T, tk *Ticket) error {
	t.Helper()
	select {
	case <-tk.Done():
		return tk.Err()
	case <-time.After(waitTimeout):
		t.Fatalf("ticket %s for %s never resolved", tk.ID, tk.URL)
		return nil
	}
}

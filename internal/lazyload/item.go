package lazyload

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLoadFailed wraps every fetch failure delivered to OnError.
	ErrLoadFailed = errors.New("lazyload: resource load failed")

	// ErrInvalidRequest is reported for a nil element or an empty URL.
	ErrInvalidRequest = errors.New("lazyload: invalid load request")

	// ErrReplaced resolves tickets whose element was enqueued again before dispatch.
	ErrReplaced = errors.New("lazyload: request replaced")

	// ErrClosed resolves tickets still queued when the loader shuts down.
	ErrClosed = errors.New("lazyload: loader closed")
)

// MaxConcurrentLoads is the default cap on in-flight fetches.
const MaxConcurrentLoads = 3

// Priority orders queued requests; 1 is the most urgent.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityNormal  Priority = 3
	PriorityLow     Priority = 4
	PriorityLowest  Priority = 5
)

// Clamp maps zero to PriorityNormal and everything else into [1, 5].
func (p Priority) Clamp() Priority {
	switch {
	case p == 0:
		return PriorityNormal
	case p < PriorityHighest:
		return PriorityHighest
	case p > PriorityLowest:
		return PriorityLowest
	}
	return p
}

// State is the lifecycle position of a load request.
type State int

const (
	StatePending State = iota
	StateObserved
	StateLoading
	StateLoaded
	StateErrored
	StateReplaced
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateObserved:
		return "observed"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	case StateReplaced:
		return "replaced"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Queued reports whether the state is one a queued item can be in.
func (s State) Queued() bool {
	return s == StatePending || s == StateObserved
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateLoaded
}

// Resource is the result of a successful fetch.
type Resource struct {
	URL         string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Size returns the payload length in bytes.
func (r *Resource) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// Fetcher downloads a resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Resource, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*Resource, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Resource, error) {
	return f(ctx, url)
}

// LoadOptions configures one Enqueue call. OnLoad and OnError are optional;
// at most one of them runs, at most once.
type LoadOptions struct {
	Priority Priority
	OnLoad   func()
	OnError  func(err error)
}

// item is one queued or in-flight request.
type item struct {
	ticket   *Ticket
	element  Element
	url      string
	priority Priority
	state    State
	seq      uint64
	index    int
	onLoad   []func()
	onError  []func(error)
}

func (it *item) observed() bool { return it.state == StateObserved }

func (it *item) elementID() string { return it.element.ID() }

// promote moves a pending item to observed with the highest priority. It
// reports false when the item was not pending, which makes repeated
// intersection signals no-ops.
func (it *item) promote() bool {
	if it.state != StatePending {
		return false
	}
	it.state = StateObserved
	it.priority = PriorityHighest
	return true
}

func (it *item) addCallbacks(opts LoadOptions) {
	if opts.OnLoad != nil {
		it.onLoad = append(it.onLoad, opts.OnLoad)
	}
	if opts.OnError != nil {
		it.onError = append(it.onError, opts.OnError)
	}
}

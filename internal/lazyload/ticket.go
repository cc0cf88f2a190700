package lazyload

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Ticket tracks one Enqueue call. It resolves exactly once.
type Ticket struct {
	ID        string
	URL       string
	ElementID string

	once  sync.Once
	done  chan struct{}
	mu    sync.RWMutex
	state State
	err   error
}

func newTicket(elementID, url string) *Ticket {
	return &Ticket{
		ID:        uuid.New().String(),
		URL:       url,
		ElementID: elementID,
		done:      make(chan struct{}),
		state:     StatePending,
	}
}

// Done is closed when the ticket reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// State returns the current state of the request.
func (t *Ticket) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err returns the failure for errored, replaced and canceled tickets.
func (t *Ticket) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Wait blocks until the ticket resolves or ctx ends.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) setState(s State) {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = s
	}
	t.mu.Unlock()
}

func (t *Ticket) resolve(s State, err error) bool {
	resolved := false
	t.once.Do(func() {
		t.mu.Lock()
		t.state = s
		t.err = err
		t.mu.Unlock()
		close(t.done)
		resolved = true
	})
	return resolved
}

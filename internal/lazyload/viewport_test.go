package lazyload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRect_Intersects(t *testing.T) {
	base := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	tests := []struct {
		name string
		o    Rect
		want bool
	}{
		{"overlap", Rect{X: 50, Y: 50, Width: 100, Height: 100}, true},
		{"contained", Rect{X: 10, Y: 10, Width: 10, Height: 10}, true},
		{"touching edge", Rect{X: 100, Y: 0, Width: 10, Height: 10}, true},
		{"zero height on edge", Rect{X: 0, Y: 100, Width: 10}, true},
		{"below", Rect{X: 0, Y: 101, Width: 10, Height: 10}, false},
		{"left", Rect{X: -20, Y: 0, Width: 10, Height: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Intersects(tt.o))
			assert.Equal(t, tt.want, tt.o.Intersects(base))
		})
	}
}

func TestRect_Expand(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}.Expand(5)
	assert.Equal(t, Rect{X: 5, Y: 15, Width: 110, Height: 60}, r)
}

func TestViewport_ObserveFiresWhenAlreadyVisible(t *testing.T) {
	v := NewViewport(800, 600, 0)
	fired := 0
	v.Observe(NewImage("a", Rect{Y: 100, Width: 10, Height: 10}), func() { fired++ })
	assert.Equal(t, 1, fired)
}

func TestViewport_RootMarginPromotesAhead(t *testing.T) {
	v := NewViewport(800, 600, 200)
	near := NewImage("near", Rect{Y: 750, Width: 10, Height: 10})
	far := NewImage("far", Rect{Y: 900, Width: 10, Height: 10})

	var got []string
	v.Observe(near, func() { got = append(got, "near") })
	v.Observe(far, func() { got = append(got, "far") })
	assert.Equal(t, []string{"near"}, got)
	assert.Equal(t, 2, v.Watching())
}

func TestViewport_ScrollAndResize(t *testing.T) {
	v := NewViewport(800, 600, 0)
	el := NewImage("a", Rect{Y: 2000, Width: 10, Height: 10})
	fired := 0
	v.Observe(el, func() { fired++ })
	require.Equal(t, 0, fired)

	v.ScrollBy(0, 600)
	assert.Equal(t, 0, fired)
	assert.Equal(t, Rect{Y: 600, Width: 800, Height: 600}, v.Bounds())

	v.Resize(800, 1400)
	assert.Equal(t, 1, fired)

	v.ScrollTo(0, 0)
	v.Resize(800, 600)
	v.Unobserve(el)
	v.ScrollTo(0, 1990)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, v.Watching())
}

func TestViewport_DrivesLoader(t *testing.T) {
	f := newGateFetcher()
	v := NewViewport(800, 600, 0)
	l := newTestLoader(t, f, WithDetector(v), WithMaxConcurrent(1))

	l.Enqueue(img("blocker"), "blocker", LoadOptions{})
	f.nextStarted(t)

	top := NewImage("top", Rect{Y: 10, Width: 10, Height: 10})
	bottom := NewImage("bottom", Rect{Y: 5000, Width: 10, Height: 10})
	bt := l.Enqueue(bottom, "bottom", LoadOptions{Priority: PriorityHighest})
	tt := l.Enqueue(top, "top", LoadOptions{Priority: PriorityLowest})

	assert.Equal(t, StatePending, bt.State())
	assert.Equal(t, StateObserved, tt.State())
	assert.Equal(t, 1, v.Watching())

	f.release("blocker", nil)
	assert.Equal(t, "top", f.nextStarted(t))

	v.ScrollTo(0, 4800)
	assert.Equal(t, StateObserved, bt.State())
	assert.Equal(t, 0, v.Watching())

	f.release("top", nil)
	assert.Equal(t, "bottom", f.nextStarted(t))
	f.release("bottom", nil)
	waitIdle(t, l)
}

func TestTicket_WaitRespectsContext(t *testing.T) {
	tk := newTicket("a", "u")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tk.Wait(ctx), context.DeadlineExceeded)

	assert.True(t, tk.resolve(StateLoaded, nil))
	assert.False(t, tk.resolve(StateErrored, ErrLoadFailed))
	assert.NoError(t, tk.Wait(context.Background()))
	assert.Equal(t, StateLoaded, tk.State())

	tk.setState(StateLoading)
	assert.Equal(t, StateLoaded, tk.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "observed", StateObserved.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.True(t, StateObserved.Queued())
	assert.False(t, StateLoading.Queued())
	assert.True(t, StateCanceled.Terminal())
	assert.False(t, StateObserved.Terminal())
}

func TestMemorySet(t *testing.T) {
	s := NewMemorySet()
	assert.False(t, s.Has("a"))
	s.Add("a")
	s.Add("a")
	assert.True(t, s.Has("a"))
	assert.Equal(t, 1, s.Len())
}

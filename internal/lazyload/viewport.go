package lazyload

import "sync"

// DefaultRootMargin is how far ahead of the visible area loads are promoted.
const DefaultRootMargin = 200

// IntersectionDetector reports when an element nears the viewport. fn may be
// called more than once and from any goroutine; the loader keeps only the
// first signal per element.
type IntersectionDetector interface {
	Observe(el Element, fn func())
	Unobserve(el Element)
}

type viewportTarget struct {
	el Element
	fn func()
}

// Viewport is an IntersectionDetector over a scrollable page. The observed
// region is the visible rectangle grown by the root margin.
type Viewport struct {
	mu      sync.Mutex
	visible Rect
	margin  float64
	targets map[string]viewportTarget
}

// NewViewport creates a viewport of the given size scrolled to the origin.
func NewViewport(width, height, margin float64) *Viewport {
	return &Viewport{
		visible: Rect{Width: width, Height: height},
		margin:  margin,
		targets: make(map[string]viewportTarget),
	}
}

// Bounds returns the visible rectangle.
func (v *Viewport) Bounds() Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Observe watches el. If el already intersects, fn runs before Observe returns.
func (v *Viewport) Observe(el Element, fn func()) {
	v.mu.Lock()
	v.targets[el.ID()] = viewportTarget{el: el, fn: fn}
	hit := v.visible.Expand(v.margin).Intersects(el.Bounds())
	v.mu.Unlock()

	if hit {
		fn()
	}
}

func (v *Viewport) Unobserve(el Element) {
	v.mu.Lock()
	delete(v.targets, el.ID())
	v.mu.Unlock()
}

// Watching returns the number of observed elements.
func (v *Viewport) Watching() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.targets)
}

// ScrollTo moves the top-left corner of the visible area.
func (v *Viewport) ScrollTo(x, y float64) {
	v.mu.Lock()
	v.visible.X, v.visible.Y = x, y
	v.mu.Unlock()
	v.check()
}

// ScrollBy moves the visible area by a delta.
func (v *Viewport) ScrollBy(dx, dy float64) {
	v.mu.Lock()
	v.visible.X += dx
	v.visible.Y += dy
	v.mu.Unlock()
	v.check()
}

// Resize changes the visible area size.
func (v *Viewport) Resize(width, height float64) {
	v.mu.Lock()
	v.visible.Width, v.visible.Height = width, height
	v.mu.Unlock()
	v.check()
}

// check fires callbacks for intersecting targets outside the lock, since
// callbacks call back into Unobserve.
func (v *Viewport) check() {
	v.mu.Lock()
	region := v.visible.Expand(v.margin)
	var fire []func()
	for _, t := range v.targets {
		if region.Intersects(t.el.Bounds()) {
			fire = append(fire, t.fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

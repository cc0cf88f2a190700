package lazyload

import (
	"sort"
	"sync"
)

// CSS state classes applied to elements.
const (
	ClassPending = "lazy-load"
	ClassLoaded  = "lazy-loaded"
)

// Rect is an axis-aligned box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Intersects reports whether r and o overlap. Touching edges count as an
// intersection so that zero-height placeholders still trigger.
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.X+o.Width && o.X <= r.X+r.Width &&
		r.Y <= o.Y+o.Height && o.Y <= r.Y+r.Height
}

// Expand grows r by margin on every side.
func (r Rect) Expand(margin float64) Rect {
	return Rect{
		X:      r.X - margin,
		Y:      r.Y - margin,
		Width:  r.Width + 2*margin,
		Height: r.Height + 2*margin,
	}
}

// Element is the UI node an image is loaded into. The loader holds a
// non-owning reference and identifies elements by ID. Implementations must be
// safe for use from multiple goroutines.
type Element interface {
	ID() string
	Bounds() Rect
	SetSource(url string)
	SetClass(name string, on bool)
}

// ResourceSink is implemented by elements that want the fetched bytes.
type ResourceSink interface {
	SetResource(res *Resource)
}

// Image is an in-memory Element used by the CLI, the HTTP service and tests.
type Image struct {
	mu       sync.RWMutex
	id       string
	bounds   Rect
	src      string
	classes  map[string]bool
	resource *Resource
}

// NewImage creates an image element at the given position.
func NewImage(id string, bounds Rect) *Image {
	return &Image{
		id:      id,
		bounds:  bounds,
		classes: make(map[string]bool),
	}
}

func (i *Image) ID() string { return i.id }

func (i *Image) Bounds() Rect {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bounds
}

// Move repositions the element, e.g. after a layout change.
func (i *Image) Move(bounds Rect) {
	i.mu.Lock()
	i.bounds = bounds
	i.mu.Unlock()
}

func (i *Image) SetSource(url string) {
	i.mu.Lock()
	i.src = url
	i.mu.Unlock()
}

func (i *Image) SetClass(name string, on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if on {
		i.classes[name] = true
	} else {
		delete(i.classes, name)
	}
}

func (i *Image) SetResource(res *Resource) {
	i.mu.Lock()
	i.resource = res
	i.mu.Unlock()
}

// Source returns the current source URL.
func (i *Image) Source() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.src
}

// HasClass reports whether the class is applied.
func (i *Image) HasClass(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.classes[name]
}

// Classes returns the applied classes in sorted order.
func (i *Image) Classes() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.classes))
	for c := range i.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Resource returns the last resource delivered to the element, if any.
func (i *Image) Resource() *Resource {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.resource
}

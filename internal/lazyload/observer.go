package lazyload

import "sync"

// observer wraps a detector with fire-once semantics per element.
type observer struct {
	detector IntersectionDetector
	promote  func(Element)

	mu       sync.Mutex
	watching map[string]Element
}

func newObserver(detector IntersectionDetector, promote func(Element)) *observer {
	return &observer{
		detector: detector,
		promote:  promote,
		watching: make(map[string]Element),
	}
}

// available reports whether viewport detection is possible at all.
func (o *observer) available() bool {
	return o.detector != nil
}

func (o *observer) watch(el Element) {
	if !o.available() {
		return
	}
	o.mu.Lock()
	if _, ok := o.watching[el.ID()]; ok {
		o.mu.Unlock()
		return
	}
	o.watching[el.ID()] = el
	o.mu.Unlock()

	o.detector.Observe(el, func() { o.fire(el) })

	// An unwatch that ran before Observe registered the target left nothing
	// to remove; drop the registration it missed.
	o.mu.Lock()
	_, still := o.watching[el.ID()]
	o.mu.Unlock()
	if !still {
		o.detector.Unobserve(el)
	}
}

func (o *observer) unwatch(el Element) {
	if !o.available() {
		return
	}
	o.mu.Lock()
	_, ok := o.watching[el.ID()]
	delete(o.watching, el.ID())
	o.mu.Unlock()

	if ok {
		o.detector.Unobserve(el)
	}
}

func (o *observer) fire(el Element) {
	o.mu.Lock()
	_, ok := o.watching[el.ID()]
	delete(o.watching, el.ID())
	o.mu.Unlock()
	if !ok {
		return
	}

	o.detector.Unobserve(el)
	o.promote(el)
}

func (o *observer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.watching)
}

package lazyload

import "sync"

// LoadedSet remembers URLs that finished loading. Membership is permanent
// for the lifetime of the set.
type LoadedSet interface {
	Has(url string) bool
	Add(url string)
}

// MemorySet is the in-process LoadedSet.
type MemorySet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewMemorySet() *MemorySet {
	return &MemorySet{urls: make(map[string]struct{})}
}

func (s *MemorySet) Has(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.urls[url]
	return ok
}

func (s *MemorySet) Add(url string) {
	s.mu.Lock()
	s.urls[url] = struct{}{}
	s.mu.Unlock()
}

// Len returns the number of URLs in the set.
func (s *MemorySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

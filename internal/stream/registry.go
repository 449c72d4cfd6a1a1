package stream

import (
	"sort"
	"sync"
)

// registry maps consumer IDs to sinks. The fan-out loop walks it on every
// chunk while attach/detach mutate it from decoder goroutines.
type registry struct {
	mu    sync.RWMutex
	sinks map[string]*Sink
}

func newRegistry() *registry {
	return &registry{sinks: make(map[string]*Sink)}
}

// add stores s under its ID and returns the sink it replaced, if any.
func (r *registry) add(s *Sink) *Sink {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sinks[s.ID()]
	r.sinks[s.ID()] = s
	if old == s {
		return nil
	}
	return old
}

// remove deletes s only if it is still the sink registered under its ID.
// It reports whether anything was removed and how many sinks remain.
func (r *registry) remove(s *Sink) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sinks[s.ID()]
	if !ok || cur != s {
		return false, len(r.sinks)
	}
	delete(r.sinks, s.ID())
	return true, len(r.sinks)
}

// each calls fn for every registered sink while holding the read lock, so
// no sink is attached or detached part way through a chunk.
func (r *registry) each(fn func(*Sink)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sinks {
		fn(s)
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *registry) ids() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

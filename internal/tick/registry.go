package tick

import (
	"runtime/debug"
)

// Registry is the participant set. Insertion order is the iteration order.
//
// Removal leaves a hole in entries; holes are compacted on the next
// Snapshot, which walks every entry anyway.
type Registry struct {
	entries []Tickable
	index   map[Tickable]int
	holes   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make([]Tickable, 0, 64),
		index:   make(map[Tickable]int, 64),
	}
}

// Register adds p if absent. Duplicates and nil are ignored.
func (r *Registry) Register(p Tickable) {
	if p == nil {
		return
	}
	if _, ok := r.index[p]; ok {
		return
	}
	r.index[p] = len(r.entries)
	r.entries = append(r.entries, p)
}

// Unregister removes p if present.
func (r *Registry) Unregister(p Tickable) {
	if p == nil {
		return
	}
	i, ok := r.index[p]
	if !ok {
		return
	}
	delete(r.index, p)
	r.entries[i] = nil
	r.holes++
}

// Contains reports whether p is currently registered.
func (r *Registry) Contains(p Tickable) bool {
	if p == nil {
		return false
	}
	_, ok := r.index[p]
	return ok
}

// Clear removes every participant.
func (r *Registry) Clear() {
	clear(r.entries)
	r.entries = r.entries[:0]
	clear(r.index)
	r.holes = 0
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	return len(r.index)
}

// Snapshot appends every eligible participant to dst[:0] in registry order.
// A panicking IsEligible counts as ineligible and is passed to onPanic.
func (r *Registry) Snapshot(dst []Tickable, onPanic func(Tickable, error)) []Tickable {
	r.compact()
	dst = dst[:0]
	for _, p := range r.entries {
		if eligible(p, onPanic) {
			dst = append(dst, p)
		}
	}
	return dst
}

func (r *Registry) compact() {
	if r.holes == 0 {
		return
	}
	live := r.entries[:0]
	for _, p := range r.entries {
		if p == nil {
			continue
		}
		r.index[p] = len(live)
		live = append(live, p)
	}
	clear(r.entries[len(live):])
	r.entries = live
	r.holes = 0
}

func eligible(p Tickable, onPanic func(Tickable, error)) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			if onPanic != nil {
				onPanic(p, &PanicError{Value: v, Stack: debug.Stack()})
			}
		}
	}()
	return p.IsEligible()
}

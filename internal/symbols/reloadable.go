package symbols

import (
	"sync"
)

// Resolver looks up target addresses.
type Resolver interface {
	Lookup(addr uint32) Result
}

// Reloadable holds the current Set and allows it to be replaced while
// lookups are in flight. With nothing loaded every lookup is Unknown,
// apart from EXC_RETURN classification.
type Reloadable struct {
	mu      sync.RWMutex
	current *Set
}

// NewReloadable returns a Reloadable holding initial, which may be nil.
func NewReloadable(initial *Set) *Reloadable {
	return &Reloadable{current: initial}
}

// Swap replaces the current set and returns the old one.
func (r *Reloadable) Swap(s *Set) *Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current
	r.current = s
	return old
}

// Current returns the loaded set, or nil.
func (r *Reloadable) Current() *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Loaded reports whether a set is loaded.
func (r *Reloadable) Loaded() bool {
	return r.Current() != nil
}

// Lookup resolves addr against the current set.
func (r *Reloadable) Lookup(addr uint32) Result {
	s := r.Current()
	if s == nil {
		if class, ok := Classify(addr); ok {
			return Result{Addr: addr, Function: class.String(), Class: class}
		}
		return unknown(addr)
	}
	return s.Lookup(addr)
}

var (
	_ Resolver = (*Set)(nil)
	_ Resolver = (*Reloadable)(nil)
)

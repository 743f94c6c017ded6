package dmx

import "sync"

// Registry holds the universes referenced during a send cycle, keyed by
// UniverseKey.
type Registry struct {
	mu        sync.Mutex
	universes []*Universe
	byKey     map[UniverseKey]*Universe
}

// NewRegistry конструктор.
func NewRegistry() *Registry {
	return &Registry{byKey: map[UniverseKey]*Universe{}}
}

// Get looks up a universe, creating it when create is set.
// Returns nil if it does not exist and create is false.
func (r *Registry) Get(net, subnet, universe int, create bool) *Universe {
	key := Key(net, subnet, universe)

	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.byKey[key]; ok {
		return u
	}
	if !create {
		return nil
	}

	u := NewUniverse(net, subnet, universe)
	r.universes = append(r.universes, u)
	r.byKey[key] = u
	return u
}

// Update runs fn on the universe under the registry lock, creating the
// universe on demand. Universes are only read or written through Update
// and Range once more than one goroutine is involved.
func (r *Registry) Update(net, subnet, universe int, fn func(u *Universe)) {
	key := Key(net, subnet, universe)

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byKey[key]
	if !ok {
		u = NewUniverse(net, subnet, universe)
		r.universes = append(r.universes, u)
		r.byKey[key] = u
	}
	fn(u)
}

// Clear drops all universes and their dirty state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.universes = nil
	r.byKey = map[UniverseKey]*Universe{}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.universes)
}

// Range calls fn for every universe while holding the registry lock.
// Iteration stops when fn returns false.
func (r *Registry) Range(fn func(u *Universe) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.universes {
		if !fn(u) {
			return
		}
	}
}

package b43

import "sync"

// Registry hands out device indices. Share one Registry among the devices
// of a system so their indices are unique.
type Registry struct {
	mu   sync.Mutex
	next int
}

// Register returns the next free index, starting at zero.
func (r *Registry) Register() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.next
	r.next++
	return idx
}

// Len returns how many indices were handed out.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

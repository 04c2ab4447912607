// Package registry keeps a process-local mapping from symbolic names to
// URLs. Entries are discovered by scanning the host page markup, see Bind.
package registry

import "sync"

// Registry maps names to URLs. The zero value is not usable; call New.
type Registry struct {
	mu   sync.RWMutex
	urls map[string]string
}

func New() *Registry {
	return &Registry{urls: make(map[string]string)}
}

// Add stores url under name, replacing any previous value. It performs no
// validation; callers decide what is worth registering.
func (r *Registry) Add(name, url string) {
	r.mu.Lock()
	r.urls[name] = url
	r.mu.Unlock()
}

// Get returns the URL registered under name.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.urls[name]
	return url, ok
}

// Size reports the number of distinct names.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.urls)
}

package backend

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotRegistered is returned for an id the registry does not know.
var ErrNotRegistered = errors.New("backend not registered")

// Registry holds the running sources by id. It is safe for concurrent use; backends are
// stopped outside the lock so a slow shutdown never blocks status reads.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds b. Ids must be unique.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return errors.New("cannot register a nil backend")
	}

	id := b.GetID()
	if id == "" {
		return errors.New("cannot register a backend without an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; exists {
		return errors.Errorf("backend %s is already registered", id)
	}

	r.backends[id] = b
	return nil
}

// Unregister removes the backend and stops it. The backend is gone from the registry even
// when Stop fails.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	b, exists := r.backends[id]
	delete(r.backends, id)
	r.mu.Unlock()

	if !exists {
		return errors.Wrap(ErrNotRegistered, id)
	}

	return errors.Wrapf(b.Stop(), "failed to stop backend %s", id)
}

// Get returns the backend registered under id, or nil.
func (r *Registry) Get(id string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.backends[id]
}

// List returns the registered backends ordered by name.
func (r *Registry) List() []Backend {
	r.mu.RLock()
	backends := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.RUnlock()

	sort.Slice(backends, func(i, j int) bool {
		return backends[i].GetName() < backends[j].GetName()
	})
	return backends
}

// UnregisterAll empties the registry and stops every backend concurrently, so shutdown waits
// for the slowest in-flight poll rather than for all of them in turn. The first Stop error
// is returned.
func (r *Registry) UnregisterAll() error {
	r.mu.Lock()
	backends := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.backends = make(map[string]Backend)
	r.mu.Unlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, b := range backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			if err := b.Stop(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "failed to stop backend %s", b.GetID())
				}
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	return firstErr
}

// Count returns the number of registered backends.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.backends)
}

// Snapshot is a point-in-time view of one registered backend.
type Snapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status Status `json:"status"`
}

// Snapshots returns the status of every registered backend, ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	backends := r.List()

	snapshots := make([]Snapshot, 0, len(backends))
	for _, b := range backends {
		snapshots = append(snapshots, Snapshot{
			ID:     b.GetID(),
			Name:   b.GetName(),
			Type:   b.GetType(),
			Status: b.GetStatus(),
		})
	}

	return snapshots
}

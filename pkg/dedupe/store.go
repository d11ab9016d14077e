package dedupe

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCapacity rejects non-positive store capacities.
var ErrInvalidCapacity = errors.New("invalid dedupe capacity")

// Store is a bounded, insertion-ordered set of event keys. It guarantees
// at-most-once processing per distinct key: Add reports whether a key is
// novel, and once the number of live keys exceeds the capacity the
// earliest-inserted surviving key is evicted first. Eviction is strict
// FIFO; lookups do not refresh a key's position.
type Store struct {
	mutex    sync.Mutex
	capacity int
	members  map[string]struct{}
	order    []string
}

// NewStore validates the capacity and returns an empty Store.
func NewStore(capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	return &Store{
		capacity: capacity,
		members:  make(map[string]struct{}),
	}, nil
}

// Add records key and reports whether it was novel. An empty key carries no
// identity: it is always treated as novel and is never stored, so it cannot
// collide and never consumes capacity.
func (store *Store) Add(key string) bool {
	if key == "" {
		return true
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, seen := store.members[key]; seen {
		return false
	}
	store.members[key] = struct{}{}
	store.order = append(store.order, key)
	for len(store.members) > store.capacity {
		oldest := store.order[0]
		store.order = store.order[1:]
		delete(store.members, oldest)
	}
	return true
}

// Has reports membership without recording anything.
func (store *Store) Has(key string) bool {
	if key == "" {
		return false
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	_, seen := store.members[key]
	return seen
}

// Size returns the number of live keys.
func (store *Store) Size() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.members)
}

// Reset discards every recorded key, keeping the configured capacity.
func (store *Store) Reset() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.members = make(map[string]struct{})
	store.order = nil
}

package syncutil

import (
	"fmt"
	"sync"
)

// KeyedMutex provides mutual exclusion per key, so operations on independent
// entities can proceed in parallel while operations on the same entity
// serialize. Entries are reference counted and removed once unused.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*keyedEntry{}}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	entry, ok := km.entries[key]
	if !ok {
		entry = &keyedEntry{}
		km.entries[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}

// LockID is a convenience for integer entity ids.
func (km *KeyedMutex) LockID(kind string, id int) func() {
	return km.Lock(fmt.Sprintf("%s:%d", kind, id))
}

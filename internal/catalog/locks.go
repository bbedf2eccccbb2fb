package catalog

import (
	"sync"

	"github.com/google/uuid"
)

// entityLocks serializes updates per entity id. Updates to different ids
// proceed in parallel; version arithmetic is not safe under concurrent
// unserialized writers to the same id.
type entityLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[uuid.UUID]*entityLock)}
}

// lock acquires the exclusive lock for id and returns its unlock function.
func (el *entityLocks) lock(id uuid.UUID) func() {
	el.mu.Lock()
	l, ok := el.locks[id]
	if !ok {
		l = &entityLock{}
		el.locks[id] = l
	}
	l.refs++
	el.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		el.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(el.locks, id)
		}
		el.mu.Unlock()
	}
}

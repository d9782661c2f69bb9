package rbac

import (
	"sync"

	"github.com/google/uuid"
)

// roleLocks hands out one mutex per role id and forgets it once unused.
type roleLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*roleLock
}

type roleLock struct {
	sync.Mutex
	refs int
}

func newRoleLocks() *roleLocks {
	return &roleLocks{locks: make(map[uuid.UUID]*roleLock)}
}

// lock blocks until the role's mutex is held and returns its release func.
func (l *roleLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &roleLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

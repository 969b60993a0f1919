package engine

import (
	"sync"

	"levelkit/core"
)

// memberLocks serializes work per member. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type memberLocks struct {
	mu    sync.Mutex
	locks map[core.MemberKey]*memberLock
}

type memberLock struct {
	mu   sync.Mutex
	refs int
}

func newMemberLocks() *memberLocks {
	return &memberLocks{locks: make(map[core.MemberKey]*memberLock)}
}

// Lock acquires the lock for m and returns its release func.
func (l *memberLocks) Lock(m core.MemberKey) func() {
	l.mu.Lock()
	ml, ok := l.locks[m]
	if !ok {
		ml = &memberLock{}
		l.locks[m] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()
	return func() {
		ml.mu.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, m)
		}
		l.mu.Unlock()
	}
}

func (l *memberLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

package pipeline

import "sync"

// userLocks hands out one mutex per user id. Locks are never removed; the
// user population is small and a stale mutex is a few dozen bytes.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{m: map[string]*sync.Mutex{}}
}

func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.m[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.m[userID] = lock
	}
	return lock
}

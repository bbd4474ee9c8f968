package session

import (
	"context"
	"sync"
)

// userLock is a mutex whose acquisition honours context cancellation.
type userLock struct {
	ch   chan struct{}
	refs int // guarded by lockTable.mu
}

// lockTable hands out one lock per username. Entries are reference counted
// and removed once no caller holds or waits on them, so the table only grows
// with concurrent users.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*userLock)}
}

// acquire blocks until the lock for username is held or ctx is done. The
// returned function releases it.
func (t *lockTable) acquire(ctx context.Context, username string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[username]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		t.locks[username] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(username, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			t.release(username, l)
		})
	}, nil
}

func (t *lockTable) release(username string, l *userLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, username)
	}
}

func (t *lockTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

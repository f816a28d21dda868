package ingest

import (
	"context"
	"sync"
)

// promptLocks serializes the commit stage per prompt id. Entries live only
// while someone holds or waits for them.
type promptLocks struct {
	mu    sync.Mutex
	locks map[string]*promptLock
}

type promptLock struct {
	slot chan struct{}
	refs int
}

func newPromptLocks() *promptLocks {
	return &promptLocks{locks: make(map[string]*promptLock)}
}

// acquire blocks until the lock for id is held or ctx is done. The returned
// func releases it.
func (l *promptLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &promptLock{slot: make(chan struct{}, 1)}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.slot <- struct{}{}:
		return func() {
			<-pl.slot
			l.forget(id, pl)
		}, nil
	case <-ctx.Done():
		l.forget(id, pl)
		return nil, ctx.Err()
	}
}

func (l *promptLocks) forget(id string, pl *promptLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, id)
	}
}

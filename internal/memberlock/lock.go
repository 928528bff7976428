// Package memberlock serializes attendance transitions per member.
package memberlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when the lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("member lock not acquired")

// Locker grants exclusive access to one member's timeline.
type Locker interface {
	Lock(ctx context.Context, memberID int64) (unlock func(), err error)
}

// Local is an in-process keyed mutex. Different members never contend.
type Local struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[int64]*entry)}
}

// Lock blocks until the member's lock is free or ctx is done.
func (l *Local) Lock(ctx context.Context, memberID int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[memberID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[memberID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(memberID, e)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(memberID, e)
		})
	}, nil
}

func (l *Local) release(memberID int64, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, memberID)
	}
	l.mu.Unlock()
}

// size is the number of members with a held or awaited lock.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Package session serializes per-user work and manages live flow and focus
// sessions with version-checked writes.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("session manager closed")

type userLock struct {
	ch   chan struct{}
	refs int
}

// Locker is a keyed mutex: one holder per user id, any number of users in parallel.
type Locker struct {
	mu     sync.Mutex
	locks  map[int64]*userLock
	closed bool
	active sync.WaitGroup
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*userLock)}
}

// Lock blocks until the user's critical section is free or ctx is done.
// The returned func releases it and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.active.Add(1)
	l.mu.Unlock()

	select {
	case ul.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.ch
			l.release(userID, ul)
		})
	}, nil
}

func (l *Locker) release(userID int64, ul *userLock) {
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
	l.active.Done()
}

// Close rejects new Lock calls and waits for current holders and waiters to finish.
func (l *Locker) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.active.Wait()
}

package rastersync

import (
	"sync"
	"time"
)

// dateLocks serializes work on one date while leaving other dates free.
// Entries are reference counted and dropped when the last holder unlocks.
type dateLocks struct {
	mu    sync.Mutex
	locks map[time.Time]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

func newDateLocks() *dateLocks {
	return &dateLocks{locks: make(map[time.Time]*dateLock)}
}

// lock acquires the lock for day and returns its release func.
func (d *dateLocks) lock(day time.Time) func() {
	d.mu.Lock()
	l, ok := d.locks[day]
	if !ok {
		l = &dateLock{}
		d.locks[day] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, day)
		}
		d.mu.Unlock()
	}
}

func (d *dateLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}

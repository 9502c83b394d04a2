package fanout

import (
	"time"
)

// timedLock is a mutex whose acquisition gives up after a deadline.
// A one-slot channel is the semaphore; holding the slot is holding the lock.
type timedLock struct {
	sem       chan struct{}
	timeout   time.Duration
	onTimeout func(op string, waited time.Duration)
}

func newTimedLock(timeout time.Duration, onTimeout func(op string, waited time.Duration)) *timedLock {
	return &timedLock{
		sem:       make(chan struct{}, 1),
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// lock acquires the lock for op. On timeout the handler runs and
// ErrLockTimeout is returned without the lock held.
func (l *timedLock) lock(op string) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-timer.C:
		if l.onTimeout != nil {
			l.onTimeout(op, l.timeout)
		}
		return ErrLockTimeout
	}
}

func (l *timedLock) unlock() {
	<-l.sem
}

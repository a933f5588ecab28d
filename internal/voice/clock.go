package voice

import "time"

// Clock is the call clock: a monotonic time since the clock was created,
// plus cancellable timers.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct {
	origin time.Time
}

// NewRealClock returns a Clock whose zero is the moment of creation.
func NewRealClock() Clock {
	return realClock{origin: time.Now()}
}

func (c realClock) Now() time.Duration {
	return time.Since(c.origin)
}

func (c realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

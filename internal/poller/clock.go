package poller

import "time"

// Clock abstracts the time source so cadence-driven behavior can be tested
// without real sleeps. Production code uses SystemClock; tests substitute a
// fake that delivers ticks and fires callbacks on demand.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
	AfterFunc(d time.Duration, fn func()) Timer
}

// Ticker abstracts time.Ticker.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Timer is a pending callback that can be cancelled. Stop reports whether
// the call was prevented from firing.
type Timer interface {
	Stop() bool
}

// SystemClock returns a Clock backed by the system time.
func SystemClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Ticker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}

package clicker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source of the engine.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// task runs fn every interval on its own goroutine until stopped
type task struct {
	stop chan struct{}
	once sync.Once
}

func startTask(clock Clock, interval time.Duration, fn func()) *task {
	t := &task{stop: make(chan struct{})}
	// Ticker is created before returning so fake clocks see it registered
	ticker := clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.Chan():
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

// Stop ends the task without waiting for a running tick. Safe on nil and
// from inside fn.
func (t *task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

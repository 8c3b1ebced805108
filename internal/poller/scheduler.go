package poller

import (
	"sync"
	"time"
)

// Scheduler runs named repeating jobs: one short initial delay, then a fixed
// period. Scheduling an existing name replaces the previous job, which is how
// a changed poll interval takes effect.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]chan struct{}
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]chan struct{})}
}

// Schedule arms (or re-arms) the named job. fn runs once after initialDelay
// and then every period until Cancel. fn is called on the job's own
// goroutine; long-running work should spawn.
func (s *Scheduler) Schedule(name string, initialDelay, period time.Duration, fn func()) {
	s.Cancel(name)

	stop := make(chan struct{})
	s.mu.Lock()
	s.timers[name] = stop
	s.mu.Unlock()

	go func() {
		delay := time.NewTimer(initialDelay)
		defer delay.Stop()
		select {
		case <-delay.C:
		case <-stop:
			return
		}
		fn()

		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

// Cancel disarms the named job. Cancelling an unknown name is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.timers[name]; ok {
		close(stop)
		delete(s.timers, name)
	}
}

// CancelAll disarms every job; used on shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, stop := range s.timers {
		close(stop)
		delete(s.timers, name)
	}
}

package poller

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_fires_after_initial_delay(t *testing.T) {
	s := NewScheduler()
	defer s.CancelAll()

	var runs int32
	s.Schedule("job", 5*time.Millisecond, time.Hour, func() {
		atomic.AddInt32(&runs, 1)
	})

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never fired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_cancel_stops_job(t *testing.T) {
	s := NewScheduler()

	var runs int32
	s.Schedule("job", 5*time.Millisecond, 5*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	})
	s.Cancel("job")

	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&runs); n > 1 {
		t.Errorf("cancelled job kept running, %d runs", n)
	}
}

func TestScheduler_reschedule_replaces_job(t *testing.T) {
	s := NewScheduler()
	defer s.CancelAll()

	var first, second int32
	s.Schedule("job", time.Hour, time.Hour, func() { atomic.AddInt32(&first, 1) })
	s.Schedule("job", 5*time.Millisecond, time.Hour, func() { atomic.AddInt32(&second, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&second) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("replacement job never fired")
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&first) != 0 {
		t.Error("replaced job should never fire")
	}
}

func TestScheduler_cancel_unknown_is_noop(t *testing.T) {
	s := NewScheduler()
	s.Cancel("missing")
	s.CancelAll()
}

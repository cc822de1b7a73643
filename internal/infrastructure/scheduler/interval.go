package scheduler

import (
	"context"
	"sync"
	"time"

	"NewsDigest/internal/ports"
)

// IntervalScheduler fires a job on a fixed interval, optionally aligned to
// the interval boundary in a location.
type IntervalScheduler struct {
	interval time.Duration
	location *time.Location
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; a nil location means UTC.
func NewIntervalScheduler(interval time.Duration, location *time.Location) *IntervalScheduler {
	if location == nil {
		location = time.UTC
	}
	return &IntervalScheduler{interval: interval, location: location, now: time.Now}
}

// NextRun returns the first interval boundary strictly after t.
func (s *IntervalScheduler) NextRun(t time.Time) time.Time {
	local := t.In(s.location)
	if s.interval <= 0 {
		return local
	}
	_, offset := local.Zone()
	shift := time.Duration(offset) * time.Second
	return local.Add(shift).Truncate(s.interval).Add(s.interval).Add(-shift).In(s.location)
}

// Start begins ticking: the job runs at each boundary until ctx ends or Stop.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || s.interval <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		for {
			timer := time.NewTimer(time.Until(s.NextRun(s.now())))
			select {
			case t := <-timer.C:
				job(t)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job to return.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package tracker

import (
	"context"
	"sync"
	"time"
)

// DefaultRefreshRate is the display refresh rate FrameScheduler aligns to.
const DefaultRefreshRate = 60

// Scheduler paces the loop. Next blocks until the next cycle may start and
// is only called after the previous cycle has completed, so cycles never
// overlap. It returns the context's error when the loop should stop.
type Scheduler interface {
	Next(ctx context.Context) error
}

// FrameScheduler ticks on a fixed refresh grid, like a browser's animation
// frame callback: a request made between two refreshes fires on the next one.
// A cycle slower than a frame simply skips the refreshes it overran.
type FrameScheduler struct {
	interval time.Duration
	epoch    time.Time
	now      func() time.Time
}

// NewFrameScheduler creates a scheduler for a display refreshing at hz.
// Non-positive rates use DefaultRefreshRate.
func NewFrameScheduler(hz float64) *FrameScheduler {
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	return &FrameScheduler{
		interval: time.Duration(float64(time.Second) / hz),
		epoch:    time.Now(),
		now:      time.Now,
	}
}

// Interval returns the refresh period.
func (s *FrameScheduler) Interval() time.Duration {
	return s.interval
}

// Next waits for the next refresh boundary.
func (s *FrameScheduler) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// untilNext returns the time left until the first refresh strictly after now.
func (s *FrameScheduler) untilNext() time.Duration {
	elapsed := s.now().Sub(s.epoch)
	if elapsed < 0 {
		return s.interval
	}
	frames := elapsed/s.interval + 1
	return frames*s.interval - elapsed
}

// ImmediateScheduler starts the next cycle as soon as the previous one ends.
type ImmediateScheduler struct{}

// Next returns immediately unless ctx is done.
func (ImmediateScheduler) Next(ctx context.Context) error {
	return ctx.Err()
}

// ManualScheduler releases one cycle per Tick. It is meant for tests and for
// driving the loop from an external clock.
type ManualScheduler struct {
	ticks chan struct{}
	once  sync.Once
	done  chan struct{}
}

// NewManualScheduler creates a ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		ticks: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Tick blocks until the loop asks for its next cycle, which means the
// previous cycle has completed. It returns false once the scheduler is closed.
func (s *ManualScheduler) Tick() bool {
	select {
	case s.ticks <- struct{}{}:
		return true
	case <-s.done:
		return false
	}
}

// TickTimeout is Tick with a deadline; it returns false if the loop did not
// ask for a cycle within d.
func (s *ManualScheduler) TickTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case s.ticks <- struct{}{}:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		return false
	}
}

// Close unblocks pending and future Tick calls.
func (s *ManualScheduler) Close() {
	s.once.Do(func() { close(s.done) })
}

// Next waits for a Tick.
func (s *ManualScheduler) Next(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return context.Canceled
	case <-s.ticks:
		return nil
	}
}

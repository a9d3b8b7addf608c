package chrono

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// API is the source of time for every component that waits or stamps things.
//
// note: fault injection point
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type StandardImpl struct {
	clock clockwork.Clock
}

func NewStandardImpl() StandardImpl {
	return StandardImpl{clock: clockwork.NewRealClock()}
}

func (s StandardImpl) Now() time.Time {
	return s.clock.Now().UTC()
}

func (s StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake never blocks, sleeping advances its clock and records the duration.
type Fake struct {
	clock *clockwork.FakeClock

	mutex  sync.Mutex
	sleeps []time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{clock: clockwork.NewFakeClockAt(start)}
}

func (f *Fake) Now() time.Time {
	return f.clock.Now().UTC()
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	f.mutex.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mutex.Unlock()

	f.clock.Advance(d)
	return nil
}

func (f *Fake) Advance(d time.Duration) {
	f.clock.Advance(d)
}

// Sleeps returns every duration passed to Sleep in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Package fake implements a fake encoder tick source. It stands in for real
// tick counting hardware in tests and demos, optionally advancing its count
// in the background as if the wheel were spinning at a constant rate.
package fake

import (
	"context"
	"sync"
	"time"

	"go.viam.com/utils"

	"github.com/ocebotics/diffdrive/wheel"
)

const updateRate = 10 * time.Millisecond

// TickSource keeps a fake encoder tick count.
type TickSource struct {
	mu    sync.Mutex
	ticks int64
	speed float64 // ticks per second

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

var _ wheel.TickSource = (*TickSource)(nil)

// New returns a stopped fake tick source starting at zero.
func New() *TickSource {
	return &TickSource{}
}

// Start runs a background worker that advances the count at the configured
// speed until Close is called.
func (s *TickSource) Start(ctx context.Context) {
	cancelCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			if !utils.SelectContextOrWait(cancelCtx, updateRate) {
				return
			}
			s.mu.Lock()
			s.ticks += int64(s.speed * updateRate.Seconds())
			s.mu.Unlock()
		}
	}, s.activeBackgroundWorkers.Done)
}

// TicksCount returns the current fake tick count.
func (s *TickSource) TicksCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, nil
}

// SetSpeed sets how fast the fake wheel is spinning, in ticks per second.
func (s *TickSource) SetSpeed(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = speed
}

// SetTicks pins the count to an exact value.
func (s *TickSource) SetTicks(ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = ticks
}

// Close stops the background worker if one was started.
func (s *TickSource) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.activeBackgroundWorkers.Wait()
}

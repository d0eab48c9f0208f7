// Package wheel models one driven wheel of a differential-drive base and
// derives its kinematic state from raw encoder ticks.
package wheel

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// TickSource reports the raw encoder tick count accumulated since an
// arbitrary reference. Counts decrease when the wheel turns in reverse.
// How the ticks are counted (interrupt line, quadrature decoder, separate
// counter process) is up to the implementation; the wheel does not care.
type TickSource interface {
	TicksCount(ctx context.Context) (int64, error)
}

// Wheel holds the per-wheel state published to the control loop: angular
// position, angular velocity, and the most recently commanded velocity.
//
// Wheel is not safe for concurrent use. The control cycle that updates it is
// serialized by the caller.
type Wheel struct {
	name        string
	ticksPerRev int
	radsPerTick float64
	ticks       TickSource

	position float64 // radians, unnormalized
	velocity float64 // radians/second
	command  float64 // radians/second, requested
}

// New sets up a wheel with its identity and encoder resolution. The
// resolution must be positive; it divides every angle calculation.
func New(name string, countsPerRev int, ticks TickSource) (*Wheel, error) {
	if countsPerRev <= 0 {
		return nil, errors.Errorf("wheel %q: encoder counts per revolution must be positive, got %d", name, countsPerRev)
	}
	if ticks == nil {
		return nil, errors.Errorf("wheel %q: need a tick source", name)
	}
	return &Wheel{
		name:        name,
		ticksPerRev: countsPerRev,
		radsPerTick: 2 * math.Pi / float64(countsPerRev),
		ticks:       ticks,
	}, nil
}

// Update recomputes position and velocity from the current raw tick count.
// Position is always derived from the absolute count rather than integrated
// incrementally, so it carries no accumulated integration error; velocity is
// the backward difference over elapsed. No filtering is applied.
//
// elapsed must be strictly positive; the caller supplying the cycle period
// guarantees that.
func (w *Wheel) Update(ctx context.Context, elapsed time.Duration) error {
	ticks, err := w.ticks.TicksCount(ctx)
	if err != nil {
		return errors.Wrapf(err, "wheel %q: reading encoder", w.name)
	}

	prev := w.position
	w.position = float64(ticks) * w.radsPerTick
	w.velocity = (w.position - prev) / elapsed.Seconds()
	return nil
}

// Name returns the wheel's stable identifier.
func (w *Wheel) Name() string {
	return w.name
}

// Position returns the accumulated angular position in radians. Negative
// ticks give negative positions; nothing wraps at ±2π.
func (w *Wheel) Position() float64 {
	return w.position
}

// Velocity returns the last estimated angular velocity in radians/second.
func (w *Wheel) Velocity() float64 {
	return w.velocity
}

// SetVelocityCommand records the requested angular velocity. The value is
// stored as-is; nothing actuates it until motor output is wired up.
func (w *Wheel) SetVelocityCommand(radPerSec float64) {
	w.command = radPerSec
}

// VelocityCommand returns the most recently requested angular velocity.
func (w *Wheel) VelocityCommand() float64 {
	return w.command
}

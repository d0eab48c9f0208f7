// Package diffbot bridges a two-wheeled drive base to the pigpio daemon. It
// owns the staged lifecycle that gates all pin access and runs the per-cycle
// position/velocity estimation for both wheels on behalf of an external
// fixed-period scheduler.
//
// All entry points are synchronous and non-reentrant; the scheduler driving
// the cycle is responsible for serializing calls. A blocked daemon call
// blocks the whole control cycle.
package diffbot

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ocebotics/diffdrive/pigpiod"
	"github.com/ocebotics/diffdrive/wheel"
)

// DriveHardware is the capability contract a host scheduler drives. It is
// exactly the staged lifecycle plus the two halves of the periodic cycle,
// independent of any particular host runtime.
type DriveHardware interface {
	Initialize(ctx context.Context, cfg *Config) error
	Configure(ctx context.Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Read(ctx context.Context, elapsed time.Duration) error
	Write(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var _ DriveHardware = (*DiffBot)(nil)

// PinController is what the lifecycle needs from the daemon link: pin
// direction setup during configure and connection release during shutdown.
// Encoder ticks deliberately do not flow through it; see wheel.TickSource.
type PinController interface {
	SetPinMode(pin uint32, mode pigpiod.Mode) error
	Connected() bool
	Close() error
}

// A Dialer opens a connection to the pin daemon. Dial failures are terminal
// for the initialize transition; dialers must not retry.
type Dialer func(ctx context.Context, addr string, logger golog.Logger) (PinController, error)

func defaultDialer(ctx context.Context, addr string, logger golog.Logger) (PinController, error) {
	return pigpiod.Dial(ctx, addr, logger)
}

// Option configures a DiffBot.
type Option func(*DiffBot)

// WithDialer replaces how the daemon connection is opened.
func WithDialer(dial Dialer) Option {
	return func(db *DiffBot) {
		db.dial = dial
	}
}

// DiffBot is the drive hardware bridge. It owns exactly two wheels and the
// single daemon connection shared between the configure and shutdown stages.
type DiffBot struct {
	logger golog.Logger
	dial   Dialer

	leftTicks  wheel.TickSource
	rightTicks wheel.TickSource

	state State
	cfg   *Config
	link  PinController
	left  *wheel.Wheel
	right *wheel.Wheel
}

// New returns an unconfigured DiffBot reading encoder ticks from the two
// given sources. No hardware is touched until Initialize.
func New(leftTicks, rightTicks wheel.TickSource, logger golog.Logger, opts ...Option) *DiffBot {
	db := &DiffBot{
		logger:     logger,
		dial:       defaultDialer,
		leftTicks:  leftTicks,
		rightTicks: rightTicks,
		state:      StateUnconfigured,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// State returns the current lifecycle stage.
func (db *DiffBot) State() State {
	return db.state
}

// fail records a failed transition; the errored stage is terminal until a
// fresh initialize or a shutdown.
func (db *DiffBot) fail(err error) error {
	db.state = StateErrored
	return err
}

// Initialize opens the daemon link, builds both wheels from the config, and
// validates the declared joint interfaces. Any failure releases a dialed
// connection and leaves no partial setup behind.
func (db *DiffBot) Initialize(ctx context.Context, cfg *Config) error {
	if _, err := next(db.state, eventInitialize); err != nil {
		return err
	}

	if err := cfg.Validate(""); err != nil {
		return db.fail(err)
	}

	link, err := db.dial(ctx, cfg.daemonAddr(), db.logger)
	if err != nil {
		return db.fail(err)
	}
	db.logger.Infow("connected to pin daemon", "addr", cfg.daemonAddr())

	left, err := wheel.New(cfg.LeftWheelName, cfg.EncoderCountsPerRev, db.leftTicks)
	if err != nil {
		return db.fail(multierr.Append(err, link.Close()))
	}
	right, err := wheel.New(cfg.RightWheelName, cfg.EncoderCountsPerRev, db.rightTicks)
	if err != nil {
		return db.fail(multierr.Append(err, link.Close()))
	}

	if err := db.validateJoints(cfg.joints()); err != nil {
		return db.fail(multierr.Append(err, link.Close()))
	}

	db.cfg = cfg
	db.link = link
	db.left = left
	db.right = right
	db.state = StateInitialized
	return nil
}

// validateJoints checks that every drive joint exposes exactly one velocity
// command interface and exactly position then velocity state interfaces.
func (db *DiffBot) validateJoints(joints []JointConfig) error {
	for _, joint := range joints {
		if n := len(joint.CommandInterfaces); n != 1 {
			db.logger.Errorw("wrong number of command interfaces", "joint", joint.Name, "found", n, "expected", 1)
			return errors.Errorf("joint %q has %d command interfaces, 1 expected", joint.Name, n)
		}
		if name := joint.CommandInterfaces[0]; name != InterfaceVelocity {
			db.logger.Errorw("unexpected command interface", "joint", joint.Name, "found", name, "expected", InterfaceVelocity)
			return errors.Errorf("joint %q has command interface %q, %q expected", joint.Name, name, InterfaceVelocity)
		}
		if n := len(joint.StateInterfaces); n != 2 {
			db.logger.Errorw("wrong number of state interfaces", "joint", joint.Name, "found", n, "expected", 2)
			return errors.Errorf("joint %q has %d state interfaces, 2 expected", joint.Name, n)
		}
		if name := joint.StateInterfaces[0]; name != InterfacePosition {
			db.logger.Errorw("unexpected first state interface", "joint", joint.Name, "found", name, "expected", InterfacePosition)
			return errors.Errorf("joint %q has %q as first state interface, %q expected", joint.Name, name, InterfacePosition)
		}
		if name := joint.StateInterfaces[1]; name != InterfaceVelocity {
			db.logger.Errorw("unexpected second state interface", "joint", joint.Name, "found", name, "expected", InterfaceVelocity)
			return errors.Errorf("joint %q has %q as second state interface, %q expected", joint.Name, name, InterfaceVelocity)
		}
	}
	return nil
}

// Configure switches both wheel pins to output mode. On any pin failure the
// daemon link is released before the error propagates; the bridge never
// stays half-configured with a live connection.
func (db *DiffBot) Configure(ctx context.Context) error {
	if _, err := next(db.state, eventConfigure); err != nil {
		return err
	}
	db.logger.Info("configuring wheel pins")

	for _, w := range []struct {
		name string
		pin  uint32
	}{
		{db.cfg.LeftWheelName, db.cfg.LeftWheelPin},
		{db.cfg.RightWheelName, db.cfg.RightWheelPin},
	} {
		if err := db.link.SetPinMode(w.pin, pigpiod.ModeOutput); err != nil {
			err = errors.Wrapf(err, "configuring %s pin %d", w.name, w.pin)
			return db.fail(multierr.Append(err, db.link.Close()))
		}
	}

	db.state = StateInactive
	db.logger.Info("successfully configured")
	return nil
}

// Activate enables the control cycle. No hardware action happens yet; the
// stage is reserved for motor enable once actuation is wired up.
func (db *DiffBot) Activate(ctx context.Context) error {
	if _, err := next(db.state, eventActivate); err != nil {
		return err
	}
	db.state = StateActive
	db.logger.Info("activated")
	return nil
}

// Deactivate stops the control cycle, reserved for motor disable.
func (db *DiffBot) Deactivate(ctx context.Context) error {
	if _, err := next(db.state, eventDeactivate); err != nil {
		return err
	}
	db.state = StateInactive
	db.logger.Info("deactivated")
	return nil
}

// Read runs the estimation half of one control cycle, updating position and
// velocity for both wheels from their encoders. elapsed is the time since
// the previous cycle and must be strictly positive.
func (db *DiffBot) Read(ctx context.Context, elapsed time.Duration) error {
	if db.state != StateActive {
		return errors.Errorf("cannot read from the %s state", db.state)
	}
	if err := db.left.Update(ctx, elapsed); err != nil {
		return err
	}
	return db.right.Update(ctx, elapsed)
}

// Write runs the actuation half of one control cycle. Motor output is not
// wired up: the commanded velocities are accepted but deliberately not
// translated into daemon calls.
func (db *DiffBot) Write(ctx context.Context) error {
	if db.state != StateActive {
		return errors.Errorf("cannot write from the %s state", db.state)
	}
	return nil
}

// Shutdown releases the daemon link unconditionally and finalizes the
// lifecycle. It is idempotent and succeeds from every stage, including when
// no connection was ever made.
func (db *DiffBot) Shutdown(ctx context.Context) error {
	if db.link != nil {
		if err := db.link.Close(); err != nil {
			db.logger.Warnw("releasing daemon link", "error", err)
		}
		db.link = nil
	}
	db.state = StateFinalized
	db.logger.Info("shut down")
	return nil
}

func (db *DiffBot) wheelByName(name string) (*wheel.Wheel, error) {
	if db.left == nil || db.right == nil {
		return nil, errors.New("not initialized")
	}
	switch name {
	case db.left.Name():
		return db.left, nil
	case db.right.Name():
		return db.right, nil
	default:
		return nil, errors.Errorf("no wheel named %q", name)
	}
}

// WheelState returns the last published position (radians) and velocity
// (radians/second) of the named wheel.
func (db *DiffBot) WheelState(name string) (float64, float64, error) {
	w, err := db.wheelByName(name)
	if err != nil {
		return 0, 0, err
	}
	return w.Position(), w.Velocity(), nil
}

// SetVelocityCommand records a requested angular velocity for the named
// wheel. Commands take no effect until actuation exists; any value is
// accepted.
func (db *DiffBot) SetVelocityCommand(name string, radPerSec float64) error {
	w, err := db.wheelByName(name)
	if err != nil {
		return err
	}
	w.SetVelocityCommand(radPerSec)
	return nil
}

// ExportedInterface identifies one state or command interface the bridge
// exposes to its host.
type ExportedInterface struct {
	Wheel string
	Name  string
}

// StateInterfaces lists the read-only interfaces exported per wheel:
// position then velocity, in that order.
func (db *DiffBot) StateInterfaces() []ExportedInterface {
	if db.left == nil || db.right == nil {
		return nil
	}
	return []ExportedInterface{
		{db.left.Name(), InterfacePosition},
		{db.left.Name(), InterfaceVelocity},
		{db.right.Name(), InterfacePosition},
		{db.right.Name(), InterfaceVelocity},
	}
}

// CommandInterfaces lists the writable interfaces exported per wheel.
func (db *DiffBot) CommandInterfaces() []ExportedInterface {
	if db.left == nil || db.right == nil {
		return nil
	}
	return []ExportedInterface{
		{db.left.Name(), InterfaceVelocity},
		{db.right.Name(), InterfaceVelocity},
	}
}

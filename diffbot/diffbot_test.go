package diffbot

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/ocebotics/diffdrive/pigpiod"
	"github.com/ocebotics/diffdrive/wheel/fake"
)

// fakePinController records pin-mode calls and can be told to reject one pin.
type fakePinController struct {
	modes      map[uint32]pigpiod.Mode
	failPin    uint32
	failStatus error
	closed     bool
	closeCount int
}

func newFakePinController() *fakePinController {
	return &fakePinController{modes: map[uint32]pigpiod.Mode{}}
}

func (f *fakePinController) SetPinMode(pin uint32, mode pigpiod.Mode) error {
	if f.closed {
		return pigpiod.ErrNotConnected
	}
	if f.failStatus != nil && pin == f.failPin {
		return f.failStatus
	}
	f.modes[pin] = mode
	return nil
}

func (f *fakePinController) Connected() bool { return !f.closed }

func (f *fakePinController) Close() error {
	f.closed = true
	f.closeCount++
	return nil
}

type harness struct {
	db        *DiffBot
	pins      *fakePinController
	left      *fake.TickSource
	right     *fake.TickSource
	dialCount int
	dialErr   error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{left: fake.New(), right: fake.New()}
	dial := func(ctx context.Context, addr string, logger golog.Logger) (PinController, error) {
		h.dialCount++
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		h.pins = newFakePinController()
		return h.pins, nil
	}
	h.db = New(h.left, h.right, golog.NewTestLogger(t), WithDialer(dial))
	return h
}

func testConfig() *Config {
	return &Config{
		LeftWheelName:       "left_wheel",
		RightWheelName:      "right_wheel",
		LeftWheelPin:        17,
		RightWheelPin:       27,
		EncoderCountsPerRev: 360,
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	test.That(t, h.db.State(), test.ShouldEqual, StateUnconfigured)

	test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
	test.That(t, h.db.State(), test.ShouldEqual, StateInitialized)
	test.That(t, h.dialCount, test.ShouldEqual, 1)

	test.That(t, h.db.Configure(ctx), test.ShouldBeNil)
	test.That(t, h.db.State(), test.ShouldEqual, StateInactive)
	test.That(t, h.pins.modes[17], test.ShouldEqual, pigpiod.ModeOutput)
	test.That(t, h.pins.modes[27], test.ShouldEqual, pigpiod.ModeOutput)

	test.That(t, h.db.Activate(ctx), test.ShouldBeNil)
	test.That(t, h.db.State(), test.ShouldEqual, StateActive)

	// one control cycle: half a revolution on the left wheel in 500ms
	h.left.SetTicks(180)
	test.That(t, h.db.Read(ctx, 500*time.Millisecond), test.ShouldBeNil)
	test.That(t, h.db.Write(ctx), test.ShouldBeNil)

	pos, vel, err := h.db.WheelState("left_wheel")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, math.Pi, 1e-12)
	test.That(t, vel, test.ShouldAlmostEqual, 2*math.Pi, 1e-12)

	pos, vel, err = h.db.WheelState("right_wheel")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 0)
	test.That(t, vel, test.ShouldEqual, 0)

	test.That(t, h.db.Deactivate(ctx), test.ShouldBeNil)
	test.That(t, h.db.State(), test.ShouldEqual, StateInactive)
	test.That(t, h.db.Activate(ctx), test.ShouldBeNil)

	test.That(t, h.db.Shutdown(ctx), test.ShouldBeNil)
	test.That(t, h.db.State(), test.ShouldEqual, StateFinalized)
	test.That(t, h.pins.closed, test.ShouldBeTrue)
}

func TestInitializeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("zero encoder resolution", func(t *testing.T) {
		h := newHarness(t)
		cfg := testConfig()
		cfg.EncoderCountsPerRev = 0

		err := h.db.Initialize(ctx, cfg)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "enc_counts_per_rev")
		test.That(t, h.db.State(), test.ShouldEqual, StateErrored)
		// rejected before any connection was attempted
		test.That(t, h.dialCount, test.ShouldEqual, 0)
	})

	t.Run("daemon unreachable", func(t *testing.T) {
		h := newHarness(t)
		h.dialErr = errors.New("connection refused")

		err := h.db.Initialize(ctx, testConfig())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, h.db.State(), test.ShouldEqual, StateErrored)
	})

	t.Run("double initialize", func(t *testing.T) {
		h := newHarness(t)
		test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)

		err := h.db.Initialize(ctx, testConfig())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "cannot initialize")
	})
}

func TestJointValidation(t *testing.T) {
	ctx := context.Background()

	goodJoint := func() JointConfig {
		return JointConfig{
			Name:              "left_wheel_joint",
			CommandInterfaces: []string{InterfaceVelocity},
			StateInterfaces:   []string{InterfacePosition, InterfaceVelocity},
		}
	}

	for _, tc := range []struct {
		name    string
		mangle  func(*JointConfig)
		errHint string
	}{
		{
			"extra command interface",
			func(j *JointConfig) { j.CommandInterfaces = append(j.CommandInterfaces, InterfacePosition) },
			"2 command interfaces",
		},
		{
			"wrong command interface",
			func(j *JointConfig) { j.CommandInterfaces = []string{"effort"} },
			`command interface "effort"`,
		},
		{
			"missing state interface",
			func(j *JointConfig) { j.StateInterfaces = []string{InterfacePosition} },
			"1 state interfaces",
		},
		{
			"state interfaces out of order",
			func(j *JointConfig) { j.StateInterfaces = []string{InterfaceVelocity, InterfacePosition} },
			"first state interface",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			cfg := testConfig()
			joint := goodJoint()
			tc.mangle(&joint)
			cfg.Joints = []JointConfig{joint}

			err := h.db.Initialize(ctx, cfg)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errHint)
			test.That(t, h.db.State(), test.ShouldEqual, StateErrored)
			// the freshly dialed connection must not leak
			test.That(t, h.pins.closed, test.ShouldBeTrue)
		})
	}

	t.Run("explicit well-shaped joints pass", func(t *testing.T) {
		h := newHarness(t)
		cfg := testConfig()
		cfg.Joints = []JointConfig{goodJoint()}
		test.That(t, h.db.Initialize(ctx, cfg), test.ShouldBeNil)
	})
}

func TestConfigureFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("before initialize", func(t *testing.T) {
		h := newHarness(t)
		err := h.db.Configure(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "cannot configure from the unconfigured state")
	})

	t.Run("pin rejection releases the link", func(t *testing.T) {
		h := newHarness(t)
		test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
		h.pins.failPin = 27
		h.pins.failStatus = errors.New("status -3")

		err := h.db.Configure(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "right_wheel")
		test.That(t, h.db.State(), test.ShouldEqual, StateErrored)
		test.That(t, h.pins.closed, test.ShouldBeTrue)
		test.That(t, h.pins.closeCount, test.ShouldEqual, 1)

		// a second initialize gets a fresh connection, not the broken one
		broken := h.pins
		test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
		test.That(t, h.dialCount, test.ShouldEqual, 2)
		test.That(t, h.pins, test.ShouldNotEqual, broken)
		test.That(t, h.pins.Connected(), test.ShouldBeTrue)
		test.That(t, h.db.Configure(ctx), test.ShouldBeNil)
	})
}

func TestShutdownIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("from unconfigured", func(t *testing.T) {
		h := newHarness(t)
		test.That(t, h.db.Shutdown(ctx), test.ShouldBeNil)
		test.That(t, h.db.Shutdown(ctx), test.ShouldBeNil)
		test.That(t, h.db.State(), test.ShouldEqual, StateFinalized)
	})

	t.Run("twice after a full bringup", func(t *testing.T) {
		h := newHarness(t)
		test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
		test.That(t, h.db.Configure(ctx), test.ShouldBeNil)

		test.That(t, h.db.Shutdown(ctx), test.ShouldBeNil)
		test.That(t, h.pins.closeCount, test.ShouldEqual, 1)
		test.That(t, h.db.Shutdown(ctx), test.ShouldBeNil)
		test.That(t, h.pins.closeCount, test.ShouldEqual, 1)
	})
}

func TestWriteIsInert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
	test.That(t, h.db.Configure(ctx), test.ShouldBeNil)
	test.That(t, h.db.Activate(ctx), test.ShouldBeNil)

	h.left.SetTicks(90)
	test.That(t, h.db.Read(ctx, 100*time.Millisecond), test.ShouldBeNil)
	posBefore, velBefore, err := h.db.WheelState("left_wheel")
	test.That(t, err, test.ShouldBeNil)

	for _, cmd := range []float64{0, 12.5, -1e9, math.Inf(-1)} {
		test.That(t, h.db.SetVelocityCommand("left_wheel", cmd), test.ShouldBeNil)
		test.That(t, h.db.SetVelocityCommand("right_wheel", cmd), test.ShouldBeNil)
		test.That(t, h.db.Write(ctx), test.ShouldBeNil)
	}

	// no command ever shows up on a state interface
	pos, vel, err := h.db.WheelState("left_wheel")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, posBefore)
	test.That(t, vel, test.ShouldEqual, velBefore)
	// no pin was touched either
	test.That(t, len(h.pins.modes), test.ShouldEqual, 2)
}

func TestReadRequiresActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
	test.That(t, h.db.Configure(ctx), test.ShouldBeNil)

	err := h.db.Read(ctx, 10*time.Millisecond)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot read from the inactive state")
}

func TestExportedInterfaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	test.That(t, h.db.StateInterfaces(), test.ShouldBeNil)

	test.That(t, h.db.Initialize(ctx, testConfig()), test.ShouldBeNil)
	test.That(t, h.db.StateInterfaces(), test.ShouldResemble, []ExportedInterface{
		{"left_wheel", InterfacePosition},
		{"left_wheel", InterfaceVelocity},
		{"right_wheel", InterfacePosition},
		{"right_wheel", InterfaceVelocity},
	})
	test.That(t, h.db.CommandInterfaces(), test.ShouldResemble, []ExportedInterface{
		{"left_wheel", InterfaceVelocity},
		{"right_wheel", InterfaceVelocity},
	})

	_, _, err := h.db.WheelState("middle_wheel")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTransitions(t *testing.T) {
	// shutdown is legal from everywhere
	for _, s := range []State{StateUnconfigured, StateInitialized, StateInactive, StateActive, StateErrored, StateFinalized} {
		got, err := next(s, eventShutdown)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, StateFinalized)
	}

	// nothing but shutdown leaves finalized
	for _, e := range []event{eventInitialize, eventConfigure, eventActivate, eventDeactivate} {
		_, err := next(StateFinalized, e)
		test.That(t, err, test.ShouldNotBeNil)
	}

	// skipping configure is illegal
	_, err := next(StateInitialized, eventActivate)
	test.That(t, err, test.ShouldNotBeNil)
}

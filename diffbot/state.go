package diffbot

import "github.com/pkg/errors"

// State is a lifecycle stage of the drive hardware. Stages are strictly
// ordered: pins may only be touched once the daemon link is up, and the
// control cycle may only run while active.
type State uint8

// The lifecycle stages.
const (
	// StateUnconfigured is the initial stage; nothing has been set up.
	StateUnconfigured State = iota
	// StateInitialized means the daemon link is open and the wheel
	// configuration is parsed and validated.
	StateInitialized
	// StateInactive means the wheel pins are configured for output but the
	// control cycle is not running.
	StateInactive
	// StateActive means the periodic read/write cycle may run.
	StateActive
	// StateErrored is the terminal stage of a failed transition; only a
	// fresh initialize or a shutdown leaves it.
	StateErrored
	// StateFinalized is the terminal stage after shutdown.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateInitialized:
		return "initialized"
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateErrored:
		return "errored"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

type event uint8

const (
	eventInitialize event = iota
	eventConfigure
	eventActivate
	eventDeactivate
	eventShutdown
)

func (e event) String() string {
	switch e {
	case eventInitialize:
		return "initialize"
	case eventConfigure:
		return "configure"
	case eventActivate:
		return "activate"
	case eventDeactivate:
		return "deactivate"
	case eventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// next returns the stage reached by applying e in s, or an error if the
// transition is illegal. Shutdown is legal from every stage.
func next(s State, e event) (State, error) {
	switch e {
	case eventShutdown:
		return StateFinalized, nil
	case eventInitialize:
		if s == StateUnconfigured || s == StateErrored {
			return StateInitialized, nil
		}
	case eventConfigure:
		if s == StateInitialized {
			return StateInactive, nil
		}
	case eventActivate:
		if s == StateInactive {
			return StateActive, nil
		}
	case eventDeactivate:
		if s == StateActive {
			return StateInactive, nil
		}
	}
	return s, errors.Errorf("cannot %s from the %s state", e, s)
}

package diffbot

import (
	"encoding/json"
	"strconv"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/ocebotics/diffdrive/pigpiod"
)

// Names of the hardware interfaces a drive joint exposes.
const (
	InterfacePosition = "position"
	InterfaceVelocity = "velocity"
)

// JointConfig declares the interface shape of one drive joint: which command
// interfaces it accepts and which state interfaces it reports.
type JointConfig struct {
	Name              string   `json:"name"`
	CommandInterfaces []string `json:"command_interfaces"`
	StateInterfaces   []string `json:"state_interfaces"`
}

// Config describes the two-wheel drive hardware.
type Config struct {
	LeftWheelName       string        `json:"left_wheel_name"`
	RightWheelName      string        `json:"right_wheel_name"`
	LeftWheelPin        uint32        `json:"left_wheel_pin"`
	RightWheelPin       uint32        `json:"right_wheel_pin"`
	EncoderCountsPerRev int           `json:"enc_counts_per_rev"`
	DaemonAddr          string        `json:"daemon_addr,omitempty"`
	Joints              []JointConfig `json:"joints,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.LeftWheelName == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "left_wheel_name")
	}
	if cfg.RightWheelName == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "right_wheel_name")
	}
	if cfg.LeftWheelPin == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "left_wheel_pin")
	}
	if cfg.RightWheelPin == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "right_wheel_pin")
	}
	if cfg.EncoderCountsPerRev <= 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("enc_counts_per_rev must be positive, got %d", cfg.EncoderCountsPerRev))
	}
	return nil
}

// joints returns the declared joints, or the canonical one-joint-per-wheel
// shape when the config does not spell them out.
func (cfg *Config) joints() []JointConfig {
	if len(cfg.Joints) != 0 {
		return cfg.Joints
	}
	canonical := func(name string) JointConfig {
		return JointConfig{
			Name:              name + "_joint",
			CommandInterfaces: []string{InterfaceVelocity},
			StateInterfaces:   []string{InterfacePosition, InterfaceVelocity},
		}
	}
	return []JointConfig{canonical(cfg.LeftWheelName), canonical(cfg.RightWheelName)}
}

// daemonAddr returns the configured daemon address or pigpiod's default.
func (cfg *Config) daemonAddr() string {
	if cfg.DaemonAddr == "" {
		return pigpiod.DefaultAddr
	}
	return cfg.DaemonAddr
}

// AttributeMap is the string-keyed parameter form handed over by a
// declarative hardware description.
type AttributeMap map[string]interface{}

// Has reports whether a parameter is present.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

func (am AttributeMap) str(name string) (string, error) {
	x, has := am[name]
	if !has {
		return "", errors.Errorf("missing parameter %q", name)
	}
	s, ok := x.(string)
	if !ok {
		return "", errors.Errorf("wanted a string for %q but got (%v) %T", name, x, x)
	}
	return s, nil
}

// integer parameters arrive as strings from declarative descriptions and as
// float64 from decoded JSON; both are accepted.
func (am AttributeMap) integer(name string) (int, error) {
	x, has := am[name]
	if !has {
		return 0, errors.Errorf("missing parameter %q", name)
	}
	switch v := x.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing parameter %q", name)
		}
		return n, nil
	default:
		return 0, errors.Errorf("wanted an integer for %q but got (%v) %T", name, x, x)
	}
}

// ConfigFromAttributes builds a Config from string-keyed parameters. Any
// missing or malformed value is a fatal initialization error.
func ConfigFromAttributes(attrs AttributeMap) (*Config, error) {
	var cfg Config
	var err error

	if cfg.LeftWheelName, err = attrs.str("left_wheel_name"); err != nil {
		return nil, err
	}
	if cfg.RightWheelName, err = attrs.str("right_wheel_name"); err != nil {
		return nil, err
	}

	leftPin, err := attrs.integer("left_wheel_pin")
	if err != nil {
		return nil, err
	}
	rightPin, err := attrs.integer("right_wheel_pin")
	if err != nil {
		return nil, err
	}
	if leftPin < 0 || rightPin < 0 {
		return nil, errors.Errorf("wheel pins must be non-negative, got %d and %d", leftPin, rightPin)
	}
	cfg.LeftWheelPin = uint32(leftPin)
	cfg.RightWheelPin = uint32(rightPin)

	if cfg.EncoderCountsPerRev, err = attrs.integer("enc_counts_per_rev"); err != nil {
		return nil, err
	}

	if attrs.Has("daemon_addr") {
		if cfg.DaemonAddr, err = attrs.str("daemon_addr"); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadConfig reads a config from the given file, expanding environment
// variable references first.
func ReadConfig(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	var cfg Config
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

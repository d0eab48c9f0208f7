// Package pigpiod implements a client for the pigpio daemon's socket
// interface. The daemon mediates all access to the physical GPIO pins; this
// client issues the small command set the drive hardware needs (pin mode,
// digital read/write, PWM duty) over a single blocking connection.
package pigpiod

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// DefaultAddr is where pigpiod listens unless started with -p.
const DefaultAddr = "localhost:8888"

// Mode is a pin direction understood by the daemon.
type Mode uint32

// Pin modes, matching pigpio's PI_INPUT and PI_OUTPUT.
const (
	ModeInput  Mode = 0
	ModeOutput Mode = 1
)

// Socket command codes from the pigpiod protocol.
const (
	cmdModes uint32 = 0
	cmdRead  uint32 = 3
	cmdWrite uint32 = 4
	cmdPWM   uint32 = 5
)

var cmdNames = map[uint32]string{
	cmdModes: "MODES",
	cmdRead:  "READ",
	cmdWrite: "WRITE",
	cmdPWM:   "PWM",
}

// ErrNotConnected is returned for any command issued after the connection
// has been released, or when it was never established.
var ErrNotConnected = errors.New("pigpiod: not connected")

// Client is a connection to a single local pigpiod instance. Commands are
// blocking request/response exchanges; one command is in flight at a time.
// A failed command is terminal for the caller's current lifecycle transition;
// the client never retries.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	logger golog.Logger
}

// Dial opens exactly one connection to the daemon at the given address. An
// empty address means DefaultAddr. An unreachable daemon is an unrecoverable
// error for the caller; no retrying happens here or anywhere above.
func Dial(ctx context.Context, addr string, logger golog.Logger) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "pigpiod: cannot reach daemon at %s", addr)
	}
	logger.Debugw("connected to pigpiod", "addr", addr)
	return NewClient(conn, logger), nil
}

// NewClient wraps an already established connection to the daemon.
func NewClient(conn net.Conn, logger golog.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// command runs one 16-byte request/response exchange. Requests and responses
// are four little-endian uint32 words; the daemon echoes the first three and
// puts a signed status or result in the fourth.
func (c *Client) command(cmd, p1, p2 uint32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, ErrNotConnected
	}

	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:], cmd)
	binary.LittleEndian.PutUint32(req[4:], p1)
	binary.LittleEndian.PutUint32(req[8:], p2)

	if _, err := c.conn.Write(req[:]); err != nil {
		return 0, errors.Wrapf(err, "pigpiod: sending %s", cmdNames[cmd])
	}

	var resp [16]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		return 0, errors.Wrapf(err, "pigpiod: reading %s response", cmdNames[cmd])
	}

	if got := binary.LittleEndian.Uint32(resp[0:]); got != cmd {
		return 0, errors.Errorf("pigpiod: response for command %d while waiting on %s", got, cmdNames[cmd])
	}

	res := int32(binary.LittleEndian.Uint32(resp[12:]))
	return res, nil
}

// SetPinMode sets the direction of a single broadcom pin.
func (c *Client) SetPinMode(pin uint32, mode Mode) error {
	res, err := c.command(cmdModes, pin, uint32(mode))
	if err != nil {
		return err
	}
	if res != 0 {
		return errors.Errorf("pigpiod: MODES on pin %d failed with status %d", pin, res)
	}
	return nil
}

// ReadPin reads the current level of a pin.
func (c *Client) ReadPin(pin uint32) (bool, error) {
	res, err := c.command(cmdRead, pin, 0)
	if err != nil {
		return false, err
	}
	if res < 0 {
		return false, errors.Errorf("pigpiod: READ on pin %d failed with status %d", pin, res)
	}
	return res != 0, nil
}

// WritePin sets a pin high or low.
func (c *Client) WritePin(pin uint32, high bool) error {
	var level uint32
	if high {
		level = 1
	}
	res, err := c.command(cmdWrite, pin, level)
	if err != nil {
		return err
	}
	if res != 0 {
		return errors.Errorf("pigpiod: WRITE on pin %d failed with status %d", pin, res)
	}
	return nil
}

// SetPWM starts PWM on a pin with the given duty cycle (0-255, pigpio's
// default range).
func (c *Client) SetPWM(pin uint32, duty byte) error {
	res, err := c.command(cmdPWM, pin, uint32(duty))
	if err != nil {
		return err
	}
	if res != 0 {
		return errors.Errorf("pigpiod: PWM on pin %d failed with status %d", pin, res)
	}
	return nil
}

// Connected reports whether the daemon connection is still held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close releases the daemon connection. It is idempotent and safe to call on
// a client that never connected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return errors.Wrap(err, "pigpiod: closing connection")
	}
	return nil
}

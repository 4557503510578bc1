// Package servo drives up to 16 hobby servos through a PCA9685 PWM chip.
//
// The driver is open loop: the "actual" angle of a channel is the driver's
// own estimate of where the horn is, updated every time a stop register is
// written. Nothing is ever read back from the chip.
//
// Immediate positioning (SetAngle) writes the registers synchronously.
// Speed limited motion (MoveTo) runs one goroutine per moving channel that
// steps the actual angle one degree at a time. A newer command on the same
// channel cancels and joins the running motion before it starts, so a
// channel never has two motions in flight. Different channels are fully
// independent.
package servo

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Seann-Moser/servobit/pkg/errcode"
	"github.com/Seann-Moser/servobit/pkg/mathx"
)

const (
	// NumChannels is the number of PWM outputs on the chip.
	NumChannels = 16

	// MinAngle and MaxAngle bound every angle sent to the hardware.
	MinAngle = -90
	MaxAngle = 90

	// MinSpeed and MaxSpeed bound MoveTo speeds, in degrees per second.
	MinSpeed = 1
	MaxSpeed = 1000
)

// Bus is the two-wire transport the controller writes through. A single
// call writes one byte into one register of the chip at addr.
type Bus interface {
	WriteRegister(addr uint16, reg, value byte) error
}

// Options configures a Controller. The zero value is usable.
type Options struct {
	// Address of the PCA9685 on the bus. Defaults to DefaultAddress.
	Address uint16
	// StrictTarget clamps the stored target in SetAngle the same way the
	// hardware value is clamped. Off by default, which keeps the caller's
	// raw value as the target.
	StrictTarget bool
	Clock        clock.Clock
	Logger       *zap.SugaredLogger
}

// State is a snapshot of one channel.
type State struct {
	Channel int  `json:"channel"`
	Target  int  `json:"target"`
	Actual  int  `json:"actual"`
	Moving  bool `json:"moving"`
}

// Diagnostics reports the health of the bus as seen by the controller.
type Diagnostics struct {
	Initialized bool         `json:"initialized"`
	Writes      uint64       `json:"writes"`
	Failures    uint64       `json:"failures"`
	LastError   errcode.Code `json:"last_error"`
	LastMessage string       `json:"last_message,omitempty"`
}

type channel struct {
	target int
	actual int
	task   *motion
}

type motion struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the chip session and the per-channel state.
type Controller struct {
	bus    Bus
	addr   uint16
	strict bool
	clk    clock.Clock
	logger *zap.SugaredLogger

	// cmdMu orders commands issued against the same channel.
	cmdMu [NumChannels]sync.Mutex

	// mu guards everything below and serialises all bus writes.
	mu          sync.Mutex
	initialized bool
	channels    [NumChannels]channel
	changed     chan struct{}
	diag        Diagnostics
}

// New returns a controller writing through bus. The chip is not touched
// until the first positioning command.
func New(bus Bus, opts Options) (*Controller, error) {
	if bus == nil {
		return nil, errors.Wrap(errcode.NoBus, "servo controller")
	}
	if opts.Address == 0 {
		opts.Address = DefaultAddress
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Controller{
		bus:     bus,
		addr:    opts.Address,
		strict:  opts.StrictTarget,
		clk:     opts.Clock,
		logger:  opts.Logger,
		changed: make(chan struct{}),
	}, nil
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Wrapf(errcode.InvalidChannel, "servo %d not in [0, %d]", ch, NumChannels-1)
	}
	return nil
}

func clampAngle(angle int) int {
	return mathx.Clamp(angle, MinAngle, MaxAngle)
}

// notify wakes every waiter. Must hold c.mu.
func (c *Controller) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// CentreAll moves every channel to 0 degrees immediately.
func (c *Controller) CentreAll() {
	for ch := 0; ch < NumChannels; ch++ {
		// channels in range cannot fail
		_ = c.SetAngle(ch, 0)
	}
}

// SetAngle positions a servo immediately. The hardware receives the angle
// clamped to [-90, 90] and the actual angle becomes that clamped value. The
// stored target is the caller's value as given, unless StrictTarget is set,
// so a target of 150 reads back as 150 while the actual angle reads 90.
//
// Any motion running on the channel is cancelled first.
func (c *Controller) SetAngle(ch, angle int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.cmdMu[ch].Lock()
	defer c.cmdMu[ch].Unlock()

	c.cancelMotion(ch)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeAngle(ch, angle)
	if c.strict {
		angle = clampAngle(angle)
	}
	c.channels[ch].target = angle
	c.notify()
	return nil
}

// Actual returns the driver's estimate of the current angle.
func (c *Controller) Actual(ch int) (int, error) {
	st, err := c.State(ch)
	return st.Actual, err
}

// Target returns the last commanded angle.
func (c *Controller) Target(ch int) (int, error) {
	st, err := c.State(ch)
	return st.Target, err
}

// IsDone reports whether the actual angle has reached the target.
func (c *Controller) IsDone(ch int) (bool, error) {
	st, err := c.State(ch)
	return st.Actual == st.Target, err
}

// State returns a snapshot of one channel.
func (c *Controller) State(ch int) (State, error) {
	if err := checkChannel(ch); err != nil {
		return State{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(ch), nil
}

// States returns a snapshot of all channels.
func (c *Controller) States() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, NumChannels)
	for ch := range out {
		out[ch] = c.stateLocked(ch)
	}
	return out
}

func (c *Controller) stateLocked(ch int) State {
	st := c.channels[ch]
	return State{Channel: ch, Target: st.target, Actual: st.actual, Moving: st.task != nil}
}

// Diagnostics returns the bus counters and the last transport error code.
func (c *Controller) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.diag
	d.Initialized = c.initialized
	return d
}

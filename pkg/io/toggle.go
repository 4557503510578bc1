package io

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// SetPinState drives a GPIO line high (1) or low (0), requesting it as an
// output on first use.
func (io *IO) SetPinState(offset int, state int) error {
	io.mu.Lock()
	defer io.mu.Unlock()
	if l, ok := io.lines[offset]; ok {
		return l.SetValue(state)
	}
	if io.chip == nil {
		io.logger.Debugw("gpio disabled, pin not set", "line", offset, "state", state)
		return nil
	}
	l, err := io.chip.RequestLine(offset, gpiocdev.AsOutput(state))
	if err != nil {
		return errors.Wrapf(err, "requesting line %d", offset)
	}
	io.lines[offset] = l
	return nil
}

// EnableOutputs drives the PWM chip's output enable line. The line is active
// low, so enabling pulls it to 0. A negative offset means the board ties OE
// to ground and there is nothing to do.
//
// Unless ReleaseAs says otherwise, Close leaves the line high with the
// outputs disabled.
func (io *IO) EnableOutputs(offset int, on bool) error {
	if offset < 0 {
		return nil
	}
	io.mu.Lock()
	if _, ok := io.release[offset]; !ok {
		io.release[offset] = 1
	}
	io.mu.Unlock()

	state := 1
	if on {
		state = 0
	}
	io.logger.Infow("pwm outputs", "enabled", on, "line", offset)
	return io.SetPinState(offset, state)
}

package io

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"

	"github.com/Seann-Moser/servobit/pkg/errcode"
)

// PWMFrequency is the frame rate the servos expect.
const PWMFrequency = 60 * physic.Hertz

// RawPWM bypasses the servo controller and programs one channel's start
// and stop counts directly, using periph's own PCA9685 driver. It resets the
// chip, so the servo controller's state is stale afterwards.
func (io *IO) RawPWM(addr uint16, channel int, on, off gpio.Duty) error {
	if channel < 0 || channel > 15 {
		return errors.Wrapf(errcode.InvalidChannel, "pwm channel %d", channel)
	}
	if io.bus == nil {
		return errors.WithStack(errcode.NoBus)
	}
	dev, err := pca9685.NewI2C(io.bus, addr)
	if err != nil {
		return errors.Wrapf(err, "pca9685 at %#02x", addr)
	}
	if err := dev.SetPwmFreq(PWMFrequency); err != nil {
		return err
	}
	io.logger.Infow("raw pwm", "addr", addr, "channel", channel, "on", on, "off", off)
	return dev.SetPwm(channel, on, off)
}

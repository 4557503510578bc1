package servo

import (
	"fmt"

	"tinygo.org/x/drivers/pca9685"

	"github.com/Seann-Moser/servobit/pkg/errcode"
)

// DefaultAddress is the PCA9685 address on the servo board.
const DefaultAddress = 0x6A

const (
	// prescale for a 60 Hz frame: 25 MHz / (4096 * 60) - 1, as calibrated.
	prescale60Hz = 101

	allCall  byte = 0x01
	modeWake      = pca9685.RESET | allCall

	// stop count for 0 degrees and the number of counts per 90 degrees.
	centreCount = 369
	spanCount   = 223
)

// StopCount returns the falling-edge count written to a channel's stop
// registers for angle. The angle is clamped to [-90, 90] and the result is
// 369 + angle*223/90 truncated toward zero.
func StopCount(angle int) uint16 {
	angle = clampAngle(angle)
	// the numerator is always positive, so integer division truncates the
	// whole expression, not just the fractional term
	return uint16((centreCount*90 + angle*spanCount) / 90)
}

// SplitCount returns the low and high register bytes of a count.
func SplitCount(count uint16) (low, high byte) {
	return byte(count & 0xff), byte(count >> 8)
}

// ensureInitialized puts the chip to sleep, programs the 60 Hz prescaler,
// wakes it and zeroes every channel's start registers. It also resets all
// channel state. Must hold c.mu.
func (c *Controller) ensureInitialized() {
	if c.initialized {
		return
	}
	c.initialized = true
	c.logger.Debugw("initialising pwm chip", "address", c.addr)

	c.writeRegister(pca9685.MODE1, pca9685.SLEEP)
	c.writeRegister(pca9685.PRESCALE, prescale60Hz)
	c.writeRegister(pca9685.MODE1, modeWake)

	for ch := 0; ch < NumChannels; ch++ {
		onL, onH, _, _ := pca9685.LED(uint8(ch))
		c.writeRegister(onL, 0)
		c.writeRegister(onH, 0)
		c.channels[ch].target = 0
		c.channels[ch].actual = 0
	}
}

// writeAngle clamps angle, writes the stop registers of ch and records the
// clamped value as the actual angle. Must hold c.mu.
func (c *Controller) writeAngle(ch, angle int) {
	c.ensureInitialized()
	angle = clampAngle(angle)
	low, high := SplitCount(StopCount(angle))
	_, _, offL, offH := pca9685.LED(uint8(ch))
	c.writeRegister(offL, low)
	c.writeRegister(offH, high)
	c.channels[ch].actual = angle
	c.notify()
}

// writeRegister writes one register. A failure is recorded and logged; it
// never stops the caller. Must hold c.mu.
func (c *Controller) writeRegister(reg, value byte) {
	c.diag.Writes++
	err := c.bus.WriteRegister(c.addr, reg, value)
	if err == nil {
		return
	}
	e := &errcode.E{
		C:   errcode.MapDriverErr(err, errcode.BusWrite),
		Op:  "write_register",
		Msg: fmt.Sprintf("%#02x <- %#02x at %#02x: %v", reg, value, c.addr, err),
		Err: err,
	}
	c.diag.Failures++
	c.diag.LastError = e.C
	c.diag.LastMessage = e.Error()
	c.logger.Warnw("register write failed", "error", e)
}

package io

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/Seann-Moser/servobit/pkg/errcode"
)

// Bus backends.
const (
	BackendPeriph = "periph"
	BackendGobot  = "gobot"
	BackendSim    = "sim"
)

// Config selects the hardware the IO talks to.
type Config struct {
	// Chip is the GPIO character device, e.g. "gpiochip0". Empty disables
	// GPIO.
	Chip string
	// Bus is one of BackendPeriph, BackendGobot or BackendSim.
	Bus string
	// BusName is the periph bus name, e.g. "I2C1". Empty opens the first bus.
	BusName string
	// GobotBus is the bus number for the gobot backend. Negative uses the
	// adaptor default.
	GobotBus int
	// StripPorts maps LED data pins to SPI port names. Unmapped pins open
	// the first SPI port.
	StripPorts map[string]string
}

// line is the part of a requested gpiocdev line the IO drives.
type line interface {
	SetValue(value int) error
	Reconfigure(options ...gpiocdev.LineConfigOption) error
	Close() error
}

// IO owns the GPIO chip, the requested lines, the I2C bus and every LED
// strip opened through it.
type IO struct {
	cfg    Config
	logger *zap.SugaredLogger

	chip *gpiocdev.Chip
	bus  i2c.BusCloser

	mu      sync.Mutex
	lines   map[int]line
	// release holds the value an output keeps driving after Close. Lines
	// without one are driven low and returned to inputs.
	release map[int]int
	buttons []*Button
	closers []func() error
}

// New opens the GPIO chip and the I2C bus described by cfg.
func New(cfg Config, logger *zap.SugaredLogger) (*IO, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	io := &IO{
		cfg:     cfg,
		logger:  logger,
		lines:   make(map[int]line),
		release: make(map[int]int),
	}

	if cfg.Bus != BackendSim {
		if _, err := host.Init(); err != nil {
			logger.Debugw("error initializing host", "error", err)
		}
	}

	if cfg.Chip != "" {
		c, err := gpiocdev.NewChip(cfg.Chip)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", cfg.Chip)
		}
		io.chip = c
		logger.Debugw("gpio chip opened", "chip", c.Name, "lines", c.Lines())
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		return nil, multierr.Combine(err, io.Close())
	}
	io.bus = bus
	logger.Infow("i2c bus opened", "backend", cfg.Bus, "bus", bus.String())
	return io, nil
}

func openBus(cfg Config, logger *zap.SugaredLogger) (i2c.BusCloser, error) {
	switch cfg.Bus {
	case BackendSim:
		return NewSimBus(logger), nil
	case BackendGobot:
		return openGobotBus(cfg.GobotBus)
	case BackendPeriph, "":
		b, err := i2creg.Open(cfg.BusName)
		if err != nil {
			return nil, errors.Wrapf(errcode.NoBus, "opening i2c %q: %v", cfg.BusName, err)
		}
		return b, nil
	default:
		return nil, errors.Wrapf(errcode.InvalidParams, "unknown bus backend %q", cfg.Bus)
	}
}

// I2C is the raw bus.
func (io *IO) I2C() i2c.Bus {
	return io.bus
}

// Registers returns the bus as a register writer for the servo controller.
func (io *IO) Registers() *RegisterBus {
	return NewRegisterBus(io.bus)
}

func (io *IO) addCloser(f func() error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.closers = append(io.closers, f)
}

// ReleaseAs makes the output on offset keep driving state after Close.
func (io *IO) ReleaseAs(offset, state int) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.release[offset] = state
}

// Close releases every line, strip and bus, then the chip. Outputs with a
// release value are left driving it; the rest are driven low and returned
// to inputs before their lines are closed.
func (io *IO) Close() error {
	io.mu.Lock()
	defer io.mu.Unlock()

	var err error
	for i := len(io.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, io.closers[i]())
	}
	io.closers = nil
	for _, b := range io.buttons {
		b.close()
	}
	io.buttons = nil
	for offset, l := range io.lines {
		if v, ok := io.release[offset]; ok {
			err = multierr.Append(err, l.SetValue(v))
		} else {
			_ = l.SetValue(0)
			_ = l.Reconfigure(gpiocdev.AsInput)
		}
		err = multierr.Append(err, l.Close())
		delete(io.lines, offset)
	}
	if io.bus != nil {
		err = multierr.Append(err, io.bus.Close())
		io.bus = nil
	}
	if io.chip != nil {
		err = multierr.Append(err, io.chip.Close())
		io.chip = nil
	}
	return err
}

package controller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Seann-Moser/servobit/pkg/indicator"
	"github.com/Seann-Moser/servobit/pkg/io"
	"github.com/Seann-Moser/servobit/pkg/servo"
)

// LongPress is how long the centre button must be held to toggle the
// outputs instead of centring.
const LongPress = 2 * time.Second

// Controller wires the hardware, the servo controller and the status
// indicator together.
type Controller struct {
	Configuration Configuration
	IO            *io.IO
	Servos        *servo.Controller
	Indicator     *indicator.Indicator

	logger *zap.SugaredLogger

	mu             sync.Mutex
	outputsEnabled bool
	configPath     string
}

// New opens the hardware described by config. Nothing is written to the
// servos until Run or the first command.
func New(config Configuration, logger *zap.SugaredLogger) (*Controller, error) {
	return NewWithClock(config, clock.New(), logger)
}

func NewWithClock(config Configuration, clk clock.Clock, logger *zap.SugaredLogger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	hw, err := io.New(config.ioConfig(), logger.Named("io"))
	if err != nil {
		return nil, err
	}
	servos, err := servo.New(hw.Registers(), servo.Options{
		Address:      config.Address,
		StrictTarget: config.StrictTarget,
		Clock:        clk,
		Logger:       logger.Named("servo"),
	})
	if err != nil {
		return nil, multierr.Combine(err, hw.Close())
	}
	brightness := config.Indicator.Brightness
	ind := indicator.New(hw, indicator.Options{
		Pin:        config.Indicator.Pin,
		Pixels:     config.Indicator.Pixels,
		Brightness: &brightness,
		Clock:      clk,
		Logger:     logger.Named("indicator"),
	})
	return &Controller{
		Configuration: config.clone(),
		IO:            hw,
		Servos:        servos,
		Indicator:     ind,
		logger:        logger,
		configPath:    DefaultConfigFile,
	}, nil
}

// SetConfigPath is where the HTTP API saves configuration changes.
func (c *Controller) SetConfigPath(path string) {
	c.configPath = path
}

// PowerOn enables the outputs, centres every servo and turns the indicator
// green.
func (c *Controller) PowerOn() error {
	if err := c.setOutputs(true); err != nil {
		return err
	}
	c.Servos.CentreAll()
	if err := c.Indicator.SetColor(indicator.Green); err != nil {
		c.logger.Warnw("indicator unavailable", "error", err)
	}
	return nil
}

func (c *Controller) setOutputs(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.IO.EnableOutputs(c.Configuration.OutputEnableLine, on); err != nil {
		return err
	}
	c.outputsEnabled = on
	return nil
}

// OutputsEnabled reports the state of the output enable line.
func (c *Controller) OutputsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputsEnabled
}

// ToggleOutputs stops every motion and disables the outputs, flashing the
// indicator red, or enables them again.
func (c *Controller) ToggleOutputs() error {
	if c.OutputsEnabled() {
		if err := c.Servos.Close(); err != nil {
			return err
		}
		if err := c.setOutputs(false); err != nil {
			return err
		}
		c.Indicator.StopFlash()
		c.Indicator.StartFlash(indicator.Red, 500*time.Millisecond)
		return nil
	}
	if err := c.setOutputs(true); err != nil {
		return err
	}
	return c.Indicator.SetColor(indicator.Green)
}

// Run powers on and handles the centre button until ctx is done. With serve
// set it also runs the HTTP API.
func (c *Controller) Run(ctx context.Context, serve bool) error {
	if err := c.PowerOn(); err != nil {
		return err
	}

	var button *io.Button
	if c.Configuration.GPIOChip != "" && c.Configuration.CentreButtonLine >= 0 {
		var err error
		button, err = c.IO.WatchButton(c.Configuration.CentreButtonLine)
		if err != nil {
			c.logger.Warnw("error watching button", "line", c.Configuration.CentreButtonLine, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg := sync.WaitGroup{}
	errs := make(chan error, 1)
	if serve {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.StartServer(ctx); err != nil {
				errs <- err
			}
		}()
	}
	if button != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handleButton(ctx, button)
		}()
	}

	c.logger.Infow("running", "serve", serve)
	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}
	cancel()
	wg.Wait()
	return err
}

func (c *Controller) handleButton(ctx context.Context, b *io.Button) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.Event:
			if !ok {
				return
			}
			if e.Pressed {
				continue
			}
			if e.Duration > LongPress {
				if err := c.ToggleOutputs(); err != nil {
					c.logger.Warnw("toggling outputs", "error", err)
				}
				continue
			}
			c.logger.Infow("centre button", "held", e.Duration)
			c.Servos.CentreAll()
		}
	}
}

// Close stops every motion and the indicator flash, disables the outputs
// and releases the hardware. The servos keep their last position.
func (c *Controller) Close() error {
	err := multierr.Combine(
		c.Servos.Close(),
		c.Indicator.Close(),
	)
	if c.OutputsEnabled() {
		err = multierr.Append(err, c.setOutputs(false))
	}
	return multierr.Append(err, c.IO.Close())
}

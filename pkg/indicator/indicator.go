// Package indicator drives the status LED: a static colour, or a colour
// flashing on and off from a background goroutine.
package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Seann-Moser/servobit/pkg/mathx"
)

const (
	// DefaultPin is the data pin of the on-board status LED.
	DefaultPin = "P16"
	// DefaultBrightness is applied when the strip is first created.
	DefaultBrightness = 40

	MinFlashInterval = time.Millisecond
	MaxFlashInterval = 10 * time.Second
)

// Strip is one band of addressable LEDs.
type Strip interface {
	SetBand(rgb uint32)
	ClearBand()
	SetBrightness(level uint8)
	// Update pushes the band to the hardware.
	Update() error
}

// Transport creates LED strips.
type Transport interface {
	CreateStrip(pin string, pixels int) (Strip, error)
}

// Options configures an Indicator.
type Options struct {
	Pin        string
	Pixels     int
	// Brightness is applied when the strip is created. Nil means
	// DefaultBrightness; zero keeps the LED dark.
	Brightness *uint8
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
}

// Snapshot is the observable indicator state.
type Snapshot struct {
	Color      uint32 `json:"color"`
	Hex        string `json:"hex"`
	Brightness uint8  `json:"brightness"`
	Flashing   bool   `json:"flashing"`
}

type flash struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Indicator owns the status LED.
type Indicator struct {
	transport Transport
	opts      Options
	clk       clock.Clock
	logger    *zap.SugaredLogger

	// flashMu orders starting and stopping the flash goroutine.
	flashMu sync.Mutex
	flash   *flash

	// mu guards the strip and the shown state.
	mu         sync.Mutex
	strip      Strip
	color      uint32
	brightness uint8
}

// New returns an indicator. The strip is created on the first command.
func New(t Transport, opts Options) *Indicator {
	if opts.Pin == "" {
		opts.Pin = DefaultPin
	}
	if opts.Pixels <= 0 {
		opts.Pixels = 1
	}
	brightness := uint8(DefaultBrightness)
	if opts.Brightness != nil {
		brightness = *opts.Brightness
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Indicator{
		transport:  t,
		opts:       opts,
		clk:        opts.Clock,
		logger:     opts.Logger,
		brightness: brightness,
	}
}

// band returns the strip, creating it on first use. Must hold i.mu.
func (i *Indicator) band() (Strip, error) {
	if i.strip != nil {
		return i.strip, nil
	}
	s, err := i.transport.CreateStrip(i.opts.Pin, i.opts.Pixels)
	if err != nil {
		return nil, errors.Wrapf(err, "create strip on %s", i.opts.Pin)
	}
	s.SetBrightness(i.brightness)
	i.strip = s
	return s, nil
}

// SetColor stops any flash and shows rgb.
func (i *Indicator) SetColor(rgb uint32) error {
	i.StopFlash()
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.show(rgb)
}

// Clear stops any flash and turns the LED off.
func (i *Indicator) Clear() error {
	i.StopFlash()
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.clear()
}

// SetBrightness stops any flash and changes the brightness of whatever is
// shown.
func (i *Indicator) SetBrightness(level uint8) error {
	i.StopFlash()
	i.mu.Lock()
	defer i.mu.Unlock()
	s, err := i.band()
	if err != nil {
		return err
	}
	i.brightness = level
	s.SetBrightness(level)
	return s.Update()
}

// show must hold i.mu.
func (i *Indicator) show(rgb uint32) error {
	s, err := i.band()
	if err != nil {
		return err
	}
	i.color = rgb
	s.SetBand(rgb)
	return s.Update()
}

// clear must hold i.mu.
func (i *Indicator) clear() error {
	s, err := i.band()
	if err != nil {
		return err
	}
	i.color = Black
	s.ClearBand()
	return s.Update()
}

// StartFlash alternates rgb and off, each for interval, until StopFlash or
// any other command. It does nothing and returns false while a flash is
// already running. The interval is clamped to [1ms, 10s].
func (i *Indicator) StartFlash(rgb uint32, interval time.Duration) bool {
	i.flashMu.Lock()
	defer i.flashMu.Unlock()
	if i.flash != nil {
		return false
	}
	interval = mathx.Clamp(interval, MinFlashInterval, MaxFlashInterval)
	ctx, cancel := context.WithCancel(context.Background())
	f := &flash{cancel: cancel, done: make(chan struct{})}
	i.flash = f
	i.logger.Debugw("flash started", "color", Hex(rgb), "interval", interval)
	go i.runFlash(ctx, f, rgb, interval)
	return true
}

func (i *Indicator) runFlash(ctx context.Context, f *flash, rgb uint32, interval time.Duration) {
	defer close(f.done)
	on := true
	for {
		i.mu.Lock()
		if ctx.Err() != nil {
			i.mu.Unlock()
			return
		}
		var err error
		if on {
			err = i.show(rgb)
		} else {
			err = i.clear()
		}
		i.mu.Unlock()
		if err != nil {
			i.logger.Warnw("flash update failed", "error", err)
		}
		on = !on

		t := i.clk.Timer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// StopFlash ends the flash, if any. Once it returns the flash goroutine has
// exited and writes nothing more.
func (i *Indicator) StopFlash() {
	i.flashMu.Lock()
	defer i.flashMu.Unlock()
	if i.flash == nil {
		return
	}
	i.flash.cancel()
	<-i.flash.done
	i.flash = nil
	i.logger.Debug("flash stopped")
}

// Flashing reports whether a flash is running.
func (i *Indicator) Flashing() bool {
	i.flashMu.Lock()
	defer i.flashMu.Unlock()
	return i.flash != nil
}

// Snapshot returns the colour currently shown, the brightness and whether
// the LED is flashing.
func (i *Indicator) Snapshot() Snapshot {
	flashing := i.Flashing()
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{Color: i.color, Hex: Hex(i.color), Brightness: i.brightness, Flashing: flashing}
}

// Close stops flashing. The LED keeps what it shows.
func (i *Indicator) Close() error {
	i.StopFlash()
	return nil
}

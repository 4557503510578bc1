package io

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"

	"github.com/Seann-Moser/servobit/pkg/errcode"
	"github.com/Seann-Moser/servobit/pkg/indicator"
	"github.com/Seann-Moser/servobit/pkg/led"
)

// SimPin opens a strip that only logs what it would show.
const SimPin = "sim"

// nrzFrequency is the WS2812 bit rate.
const nrzFrequency = 800 * physic.KiloHertz

// CreateStrip opens a WS2812 strip of pixels LEDs driven from pin. Real pins
// are looked up in Config.StripPorts and driven over SPI.
func (io *IO) CreateStrip(pin string, pixels int) (indicator.Strip, error) {
	var d led.Driver
	if pin == SimPin || io.cfg.Bus == BackendSim {
		d = &LogDriver{logger: io.logger.With("strip", pin)}
	} else {
		sd, err := openSPIDriver(io.cfg.StripPorts[pin], pixels)
		if err != nil {
			return nil, err
		}
		d = sd
	}
	b := led.NewBand(d, pixels)
	io.addCloser(b.Close)
	io.logger.Debugw("led strip created", "pin", pin, "pixels", pixels)
	return b, nil
}

type spiDriver struct {
	port spi.PortCloser
	dev  *nrzled.Dev
}

func openSPIDriver(port string, pixels int) (*spiDriver, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, &errcode.E{C: errcode.StripOpen, Op: "open_strip", Msg: fmt.Sprintf("spi %q: %v", port, err), Err: err}
	}
	dev, err := nrzled.NewSPI(p, &nrzled.Opts{NumPixels: pixels, Channels: 3, Freq: nrzFrequency})
	if err != nil {
		return nil, multierr.Combine(&errcode.E{C: errcode.StripOpen, Op: "open_strip", Msg: fmt.Sprintf("nrzled on %s: %v", p, err), Err: err}, p.Close())
	}
	return &spiDriver{port: p, dev: dev}, nil
}

func (s *spiDriver) Write(p []byte) (int, error) {
	return s.dev.Write(p)
}

// Close releases the port. The LEDs latch and keep their last frame.
func (s *spiDriver) Close() error {
	return s.port.Close()
}

// LogDriver is a pixel driver with no hardware behind it.
type LogDriver struct {
	logger *zap.SugaredLogger

	mu   sync.Mutex
	last []byte
}

func (l *LogDriver) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = append(l.last[:0], p...)
	if l.logger != nil {
		l.logger.Debugw("led frame", "rgb", fmt.Sprintf("% x", p))
	}
	return len(p), nil
}

// Last returns the most recent frame.
func (l *LogDriver) Last() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.last...)
}

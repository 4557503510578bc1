package controller

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev/device/rpi"
	"golang.org/x/exp/maps"

	"github.com/Seann-Moser/servobit/pkg/errcode"
	"github.com/Seann-Moser/servobit/pkg/indicator"
	"github.com/Seann-Moser/servobit/pkg/io"
	"github.com/Seann-Moser/servobit/pkg/servo"
)

// DefaultConfigFile is read from the working directory unless --config says
// otherwise.
const DefaultConfigFile = ".servobit.config.json"

type Configuration struct {
	GPIOChip string `json:"gpio_chip"`
	Bus      string `json:"bus"`
	BusName  string `json:"bus_name,omitempty"`
	GobotBus int    `json:"gobot_bus"`
	Address  uint16 `json:"address"`
	// OutputEnableLine drives the chip's OE pin. -1 if it is tied low.
	OutputEnableLine int `json:"output_enable_line"`
	// CentreButtonLine centres every servo when pressed. -1 disables it.
	CentreButtonLine int  `json:"centre_button_line"`
	StrictTarget     bool `json:"strict_target"`

	Indicator  IndicatorSetting  `json:"indicator"`
	StripPorts map[string]string `json:"strip_ports,omitempty"`

	Listen string `json:"listen"`
}

type IndicatorSetting struct {
	Pin        string `json:"pin"`
	Pixels     int    `json:"pixels"`
	Brightness uint8  `json:"brightness"`
}

// DefaultConfiguration matches the reference servo board on a Raspberry Pi.
func DefaultConfiguration() Configuration {
	return Configuration{
		GPIOChip:         "gpiochip0",
		Bus:              io.BackendPeriph,
		GobotBus:         -1,
		Address:          servo.DefaultAddress,
		OutputEnableLine: rpi.GPIO4,
		CentreButtonLine: rpi.GPIO26,
		Indicator: IndicatorSetting{
			Pin:        indicator.DefaultPin,
			Pixels:     1,
			Brightness: indicator.DefaultBrightness,
		},
		Listen: "0.0.0.0:8080",
	}
}

// SimConfiguration runs without any hardware.
func SimConfiguration() Configuration {
	c := DefaultConfiguration()
	c.GPIOChip = ""
	c.Bus = io.BackendSim
	c.OutputEnableLine = -1
	c.CentreButtonLine = -1
	c.Indicator.Pin = io.SimPin
	return c
}

// LoadConfiguration reads path over the defaults. A missing file is not an
// error.
func LoadConfiguration(path string) (Configuration, error) {
	config := DefaultConfiguration()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, errors.Wrapf(err, "reading %s", path)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, errors.Wrapf(errcode.InvalidPayload, "parsing %s: %v", path, err)
	}
	return config, config.Validate()
}

// Save writes the configuration to path.
func (c Configuration) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}

func (c Configuration) Validate() error {
	switch c.Bus {
	case io.BackendPeriph, io.BackendGobot, io.BackendSim:
	default:
		return errors.Wrapf(errcode.InvalidParams, "unknown bus %q", c.Bus)
	}
	// 7-bit addresses outside the reserved ranges
	if c.Address < 0x03 || c.Address > 0x77 {
		return errors.Wrapf(errcode.InvalidParams, "i2c address %#02x", c.Address)
	}
	if c.Indicator.Pixels < 1 {
		return errors.Wrapf(errcode.InvalidParams, "indicator pixels %d", c.Indicator.Pixels)
	}
	if c.Indicator.Pin == "" {
		return errors.Wrap(errcode.InvalidParams, "indicator pin is empty")
	}
	if c.Listen == "" {
		return errors.Wrap(errcode.InvalidParams, "listen address is empty")
	}
	return nil
}

// clone returns a copy sharing no maps with c.
func (c Configuration) clone() Configuration {
	c.StripPorts = maps.Clone(c.StripPorts)
	return c
}

func (c Configuration) ioConfig() io.Config {
	return io.Config{
		Chip:       c.GPIOChip,
		Bus:        c.Bus,
		BusName:    c.BusName,
		GobotBus:   c.GobotBus,
		StripPorts: maps.Clone(c.StripPorts),
	}
}

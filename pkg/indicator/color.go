package indicator

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/Seann-Moser/servobit/pkg/errcode"
)

// Predefined indicator colours, packed as 0xRRGGBB.
const (
	Red    uint32 = 0xff0000
	Orange uint32 = 0xffa500
	Yellow uint32 = 0xffff00
	Green  uint32 = 0x00ff00
	Blue   uint32 = 0x0000ff
	Indigo uint32 = 0x4b0082
	Violet uint32 = 0x8a2be2
	Purple uint32 = 0xff00ff
	White  uint32 = 0xffffff
	Black  uint32 = 0x000000
)

var named = map[string]uint32{
	"red":    Red,
	"orange": Orange,
	"yellow": Yellow,
	"green":  Green,
	"blue":   Blue,
	"indigo": Indigo,
	"violet": Violet,
	"purple": Purple,
	"white":  White,
	"black":  Black,
}

// RGB packs three channel values into 0xRRGGBB. Each value is masked to
// its low 8 bits.
func RGB(r, g, b int) uint32 {
	return uint32(r&0xff)<<16 | uint32(g&0xff)<<8 | uint32(b&0xff)
}

// Unpack splits a packed colour into its channels.
func Unpack(rgb uint32) (r, g, b uint8) {
	return uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb)
}

// ParseColor accepts a predefined colour name or a "#rrggbb" or "#rgb" hex
// string.
func ParseColor(s string) (uint32, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := named[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != 4 && len(s) != 7 {
		return 0, errors.Wrapf(errcode.InvalidParams, "colour %q", s)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return 0, errors.Wrapf(errcode.InvalidParams, "colour %q", s)
	}
	r, g, b := c.RGB255()
	return RGB(int(r), int(g), int(b)), nil
}

// Hex formats a packed colour as "#rrggbb".
func Hex(rgb uint32) string {
	r, g, b := Unpack(rgb)
	return colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Hex()
}

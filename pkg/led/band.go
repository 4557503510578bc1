// Package led keeps a band of addressable pixels in memory and pushes it
// to a pixel driver on Update.
package led

import (
	"io"
	"sync"

	"github.com/Seann-Moser/servobit/pkg/errcode"
)

// Driver receives rendered pixels, three bytes per pixel in R, G, B order.
type Driver interface {
	Write(p []byte) (int, error)
}

// Band is a strip of pixels sharing one brightness.
type Band struct {
	mu         sync.Mutex
	driver     Driver
	pixels     []uint32
	brightness uint8
	buf        []byte
}

// NewBand returns a band of n pixels, all off, at full brightness.
func NewBand(d Driver, n int) *Band {
	if n < 1 {
		n = 1
	}
	return &Band{
		driver:     d,
		pixels:     make([]uint32, n),
		brightness: 255,
		buf:        make([]byte, 3*n),
	}
}

// Len is the number of pixels.
func (b *Band) Len() int {
	return len(b.pixels)
}

// SetPixel sets one pixel. Out of range indexes are ignored.
func (b *Band) SetPixel(i int, rgb uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.pixels) {
		return
	}
	b.pixels[i] = rgb & 0xffffff
}

// SetBand sets every pixel to rgb.
func (b *Band) SetBand(rgb uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pixels {
		b.pixels[i] = rgb & 0xffffff
	}
}

// ClearBand turns every pixel off.
func (b *Band) ClearBand() {
	b.SetBand(0)
}

// SetBrightness scales every pixel on the next Update. 255 is full.
func (b *Band) SetBrightness(level uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.brightness = level
}

// Pixels returns a copy of the unscaled pixel values.
func (b *Band) Pixels() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint32(nil), b.pixels...)
}

// Render returns the bytes Update would write.
func (b *Band) Render() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.render()...)
}

func (b *Band) render() []byte {
	for i, p := range b.pixels {
		b.buf[3*i] = scale(byte(p>>16), b.brightness)
		b.buf[3*i+1] = scale(byte(p>>8), b.brightness)
		b.buf[3*i+2] = scale(byte(p), b.brightness)
	}
	return b.buf
}

func scale(v, level uint8) uint8 {
	if level == 255 {
		return v
	}
	return uint8(uint16(v) * uint16(level) >> 8)
}

// Update pushes the band to the driver.
func (b *Band) Update() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.driver == nil {
		return &errcode.E{C: errcode.StripOpen, Op: "strip_update", Msg: "no driver"}
	}
	if _, err := b.driver.Write(b.render()); err != nil {
		return &errcode.E{C: errcode.StripWrite, Op: "strip_update", Err: err}
	}
	return nil
}

// Close releases the driver if it holds anything.
func (b *Band) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

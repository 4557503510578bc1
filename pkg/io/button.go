package io

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultDebounce is the shortest accepted gap between two edges.
const DefaultDebounce = 10 * time.Millisecond

type ButtonEvent struct {
	// Pressed is true when the button went down, false when it was released.
	Pressed bool
	// Duration is how long the button spent in its previous state. Zero for
	// the first edge seen.
	Duration time.Duration
}

// Button turns the edges of a pulled-up input line into debounced press and
// release events.
type Button struct {
	Offset int
	Event  chan ButtonEvent

	debounce time.Duration

	mu      sync.Mutex
	pressed bool
	seen    bool
	last    time.Duration
	closed  bool
}

func newButton(offset int, debounce time.Duration) *Button {
	return &Button{
		Offset:   offset,
		Event:    make(chan ButtonEvent, 8),
		debounce: debounce,
	}
}

func (b *Button) eventHandler(evt gpiocdev.LineEvent) {
	// the line is pulled up, so pressing pulls it low
	pressed := evt.Type == gpiocdev.LineEventFallingEdge

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || (b.seen && pressed == b.pressed) {
		return
	}
	var held time.Duration
	if b.seen {
		held = evt.Timestamp - b.last
		if held < b.debounce {
			return
		}
	}
	b.seen = true
	b.last = evt.Timestamp
	b.pressed = pressed
	select {
	case b.Event <- ButtonEvent{Pressed: pressed, Duration: held}:
	default:
	}
}

func (b *Button) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.Event)
}

// WatchButton requests the line at offset as an input with a pull-up and
// returns a Button delivering its events. The channel is closed by Close.
func (io *IO) WatchButton(offset int) (*Button, error) {
	if io.chip == nil {
		return nil, errors.Errorf("gpio disabled, cannot watch line %d", offset)
	}
	b := newButton(offset, DefaultDebounce)

	io.mu.Lock()
	defer io.mu.Unlock()
	if _, ok := io.lines[offset]; ok {
		return nil, errors.Errorf("line %d already requested", offset)
	}
	l, err := io.chip.RequestLine(offset,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.eventHandler),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting line %d", offset)
	}
	io.lines[offset] = l
	io.buttons = append(io.buttons, b)
	return b, nil
}

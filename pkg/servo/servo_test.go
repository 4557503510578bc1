package servo

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Seann-Moser/servobit/internal/testutils"
	"github.com/Seann-Moser/servobit/pkg/errcode"
)

type write struct {
	addr  uint16
	reg   byte
	value byte
}

// fakeBus records every register write and decodes stop counts per channel.
type fakeBus struct {
	mu     sync.Mutex
	writes []write
	low    [NumChannels]byte
	stops  [NumChannels][]uint16
	fail   bool
}

func (b *fakeBus) WriteRegister(addr uint16, reg, value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, write{addr, reg, value})
	if reg >= 0x06 && reg < 0x06+4*NumChannels {
		ch := int(reg-0x06) / 4
		switch (reg - 0x06) % 4 {
		case 2:
			b.low[ch] = value
		case 3:
			b.stops[ch] = append(b.stops[ch], uint16(value)<<8|uint16(b.low[ch]))
		}
	}
	if b.fail {
		return errors.New("nack")
	}
	return nil
}

func (b *fakeBus) stopAngles(ch int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, 0, len(b.stops[ch]))
	for _, s := range b.stops[ch] {
		out = append(out, angleOf[s])
	}
	return out
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

var angleOf = func() map[uint16]int {
	m := map[uint16]int{}
	for a := MinAngle; a <= MaxAngle; a++ {
		m[StopCount(a)] = a
	}
	return m
}()

func newTestController(t *testing.T, opts Options) (*Controller, *fakeBus, *clock.Mock) {
	t.Helper()
	bus := &fakeBus{}
	mock := clock.NewMock()
	opts.Clock = mock
	opts.Logger = zaptest.NewLogger(t).Sugar()
	c, err := New(bus, opts)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, c.Close(), test.ShouldBeNil) })
	return c, bus, mock
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if cond() {
			return
		}
		mock.Add(step)
	}
	t.Fatal("condition never held")
}

func TestStopCount(t *testing.T) {
	test.That(t, StopCount(0), test.ShouldEqual, uint16(369))
	test.That(t, StopCount(90), test.ShouldEqual, uint16(592))
	test.That(t, StopCount(-90), test.ShouldEqual, uint16(146))
	test.That(t, StopCount(30), test.ShouldEqual, uint16(443))
	test.That(t, StopCount(150), test.ShouldEqual, uint16(592))
	test.That(t, StopCount(-400), test.ShouldEqual, uint16(146))

	for a := MinAngle; a <= MaxAngle; a++ {
		want := uint16(math.Trunc(369 + float64(a)*223/90))
		test.That(t, StopCount(a), test.ShouldEqual, want)
	}
	test.That(t, angleOf, test.ShouldHaveLength, MaxAngle-MinAngle+1)
}

func TestSplitCount(t *testing.T) {
	low, high := SplitCount(StopCount(0))
	test.That(t, low, test.ShouldEqual, byte(0x71))
	test.That(t, high, test.ShouldEqual, byte(0x01))

	low, high = SplitCount(StopCount(90))
	test.That(t, low, test.ShouldEqual, byte(592&0xff))
	test.That(t, high, test.ShouldEqual, byte(0x02))

	low, high = SplitCount(StopCount(-90))
	test.That(t, low, test.ShouldEqual, byte(146))
	test.That(t, high, test.ShouldEqual, byte(0))
}

func TestStepDelay(t *testing.T) {
	test.That(t, StepDelay(40), test.ShouldEqual, 25*time.Millisecond)
	test.That(t, StepDelay(100), test.ShouldEqual, 10*time.Millisecond)
	test.That(t, StepDelay(0), test.ShouldEqual, time.Second)
	test.That(t, StepDelay(5000), test.ShouldEqual, time.Millisecond)
	test.That(t, StepDelay(3), test.ShouldEqual, 333*time.Millisecond)
}

func TestInitialisationSequence(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	test.That(t, c.Diagnostics().Initialized, test.ShouldBeFalse)
	test.That(t, bus.count(), test.ShouldEqual, 0)

	test.That(t, c.SetAngle(5, 30), test.ShouldBeNil)
	test.That(t, c.Diagnostics().Initialized, test.ShouldBeTrue)

	bus.mu.Lock()
	writes := append([]write(nil), bus.writes...)
	bus.mu.Unlock()

	test.That(t, writes, test.ShouldHaveLength, 3+2*NumChannels+2)
	test.That(t, writes[0], testutils.ShouldResemble, write{DefaultAddress, 0x00, 0x10})
	test.That(t, writes[1], testutils.ShouldResemble, write{DefaultAddress, 0xFE, 101})
	test.That(t, writes[2], testutils.ShouldResemble, write{DefaultAddress, 0x00, 0x81})
	for ch := 0; ch < NumChannels; ch++ {
		test.That(t, writes[3+2*ch], testutils.ShouldResemble, write{DefaultAddress, byte(0x06 + 4*ch), 0})
		test.That(t, writes[4+2*ch], testutils.ShouldResemble, write{DefaultAddress, byte(0x07 + 4*ch), 0})
	}
	low, high := SplitCount(StopCount(30))
	test.That(t, writes[len(writes)-2], testutils.ShouldResemble, write{DefaultAddress, 0x06 + 4*5 + 2, low})
	test.That(t, writes[len(writes)-1], testutils.ShouldResemble, write{DefaultAddress, 0x06 + 4*5 + 3, high})

	// a second command does not initialise again
	test.That(t, c.SetAngle(6, 0), test.ShouldBeNil)
	test.That(t, bus.count(), test.ShouldEqual, len(writes)+2)
}

func TestCustomAddress(t *testing.T) {
	c, bus, _ := newTestController(t, Options{Address: 0x40})
	test.That(t, c.SetAngle(0, 0), test.ShouldBeNil)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, w := range bus.writes {
		test.That(t, w.addr, test.ShouldEqual, uint16(0x40))
	}
}

func TestCentreAll(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	test.That(t, c.SetAngle(3, 45), test.ShouldBeNil)
	c.CentreAll()
	for ch := 0; ch < NumChannels; ch++ {
		actual, err := c.Actual(ch)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, actual, test.ShouldEqual, 0)
		target, err := c.Target(ch)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, target, test.ShouldEqual, 0)
	}
	test.That(t, bus.stopAngles(3), testutils.ShouldResemble, []int{45, 0})
}

func TestSetAngle(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	test.That(t, c.SetAngle(5, 30), test.ShouldBeNil)

	actual, err := c.Actual(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actual, test.ShouldEqual, 30)
	target, err := c.Target(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, 30)
	done, err := c.IsDone(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldBeTrue)
	test.That(t, bus.stopAngles(5), testutils.ShouldResemble, []int{30})
}

func TestSetAngleKeepsUnclampedTarget(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	test.That(t, c.SetAngle(5, 150), test.ShouldBeNil)

	st, err := c.State(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Actual, test.ShouldEqual, 90)
	test.That(t, st.Target, test.ShouldEqual, 150)
	test.That(t, st.Moving, test.ShouldBeFalse)
	test.That(t, bus.stopAngles(5), testutils.ShouldResemble, []int{90})

	done, err := c.IsDone(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldBeFalse)
}

func TestSetAngleStrictTarget(t *testing.T) {
	c, _, _ := newTestController(t, Options{StrictTarget: true})
	test.That(t, c.SetAngle(5, -150), test.ShouldBeNil)
	st, err := c.State(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Actual, test.ShouldEqual, -90)
	test.That(t, st.Target, test.ShouldEqual, -90)
}

func TestInvalidChannel(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	for _, ch := range []int{-1, NumChannels, 99} {
		test.That(t, errcode.Of(c.SetAngle(ch, 0)), test.ShouldEqual, errcode.InvalidChannel)
		test.That(t, errcode.Of(c.MoveTo(ch, 0, 10)), test.ShouldEqual, errcode.InvalidChannel)
		test.That(t, errcode.Of(c.Stop(ch)), test.ShouldEqual, errcode.InvalidChannel)
		test.That(t, errcode.Of(c.WaitUntilDone(context.Background(), ch)), test.ShouldEqual, errcode.InvalidChannel)
		_, err := c.Actual(ch)
		test.That(t, errcode.Of(err), test.ShouldEqual, errcode.InvalidChannel)
		_, err = c.Target(ch)
		test.That(t, errcode.Of(err), test.ShouldEqual, errcode.InvalidChannel)
		_, err = c.IsDone(ch)
		test.That(t, errcode.Of(err), test.ShouldEqual, errcode.InvalidChannel)
	}
	test.That(t, bus.count(), test.ShouldEqual, 0)
}

func TestNewRequiresBus(t *testing.T) {
	_, err := New(nil, Options{})
	test.That(t, errcode.Of(err), test.ShouldEqual, errcode.NoBus)
}

func TestTransportFailureIsNotFatal(t *testing.T) {
	c, bus, _ := newTestController(t, Options{})
	bus.fail = true

	test.That(t, c.SetAngle(2, -45), test.ShouldBeNil)
	actual, err := c.Actual(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actual, test.ShouldEqual, -45)

	d := c.Diagnostics()
	test.That(t, d.Initialized, test.ShouldBeTrue)
	test.That(t, d.Writes, test.ShouldEqual, uint64(3+2*NumChannels+2))
	test.That(t, d.Failures, test.ShouldEqual, d.Writes)
	test.That(t, d.LastError, test.ShouldEqual, errcode.BusWrite)
	test.That(t, d.LastMessage, test.ShouldEqual, "write_register: bus_write_failed: 0x11 <- 0x1 at 0x6a: nack")
}

func TestStates(t *testing.T) {
	c, _, _ := newTestController(t, Options{})
	test.That(t, c.SetAngle(15, -10), test.ShouldBeNil)
	states := c.States()
	test.That(t, states, test.ShouldHaveLength, NumChannels)
	test.That(t, states[15], testutils.ShouldResemble, State{Channel: 15, Target: -10, Actual: -10})
	test.That(t, states[0], testutils.ShouldResemble, State{Channel: 0})
}

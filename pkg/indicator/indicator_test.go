package indicator

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Seann-Moser/servobit/internal/testutils"
)

type frame struct {
	color      uint32
	brightness uint8
}

type fakeStrip struct {
	mu         sync.Mutex
	color      uint32
	brightness uint8
	frames     []frame
}

func (s *fakeStrip) SetBand(rgb uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = rgb
}

func (s *fakeStrip) ClearBand() { s.SetBand(0) }

func (s *fakeStrip) SetBrightness(level uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness = level
}

func (s *fakeStrip) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{s.color, s.brightness})
	return nil
}

func (s *fakeStrip) shown() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.frames...)
}

type fakeTransport struct {
	strip   *fakeStrip
	created []string
	pixels  int
	err     error
}

func (f *fakeTransport) CreateStrip(pin string, pixels int) (Strip, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, pin)
	f.pixels = pixels
	return f.strip, nil
}

func newTestIndicator(t *testing.T, opts Options) (*Indicator, *fakeTransport, *clock.Mock) {
	t.Helper()
	tr := &fakeTransport{strip: &fakeStrip{}}
	mock := clock.NewMock()
	opts.Clock = mock
	opts.Logger = zaptest.NewLogger(t).Sugar()
	ind := New(tr, opts)
	t.Cleanup(func() { test.That(t, ind.Close(), test.ShouldBeNil) })
	return ind, tr, mock
}

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

func brightness(level uint8) *uint8 { return &level }

func TestStripCreatedLazily(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{})
	test.That(t, tr.created, test.ShouldBeEmpty)

	test.That(t, ind.SetColor(Green), test.ShouldBeNil)
	test.That(t, tr.created, testutils.ShouldResemble, []string{DefaultPin})
	test.That(t, tr.pixels, test.ShouldEqual, 1)
	test.That(t, tr.strip.shown(), testutils.ShouldResemble, []frame{{Green, DefaultBrightness}})

	test.That(t, ind.Clear(), test.ShouldBeNil)
	test.That(t, tr.created, test.ShouldHaveLength, 1)
}

func TestStripOptions(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{Pin: "P8", Pixels: 4, Brightness: brightness(200)})
	test.That(t, ind.SetColor(Blue), test.ShouldBeNil)
	test.That(t, tr.created, testutils.ShouldResemble, []string{"P8"})
	test.That(t, tr.pixels, test.ShouldEqual, 4)
	test.That(t, tr.strip.shown(), testutils.ShouldResemble, []frame{{Blue, 200}})
}

func TestZeroBrightnessHonoured(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{Brightness: brightness(0)})
	test.That(t, ind.Snapshot().Brightness, test.ShouldEqual, uint8(0))
	test.That(t, ind.SetColor(Red), test.ShouldBeNil)
	test.That(t, tr.strip.shown(), testutils.ShouldResemble, []frame{{Red, 0}})
}

func TestSetColorClearBrightness(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{})
	test.That(t, ind.SetColor(RGB(1, 2, 3)), test.ShouldBeNil)
	test.That(t, ind.SetBrightness(255), test.ShouldBeNil)
	test.That(t, ind.Clear(), test.ShouldBeNil)

	test.That(t, tr.strip.shown(), testutils.ShouldResemble, []frame{
		{0x010203, DefaultBrightness},
		{0x010203, 255},
		{Black, 255},
	})
	test.That(t, ind.Snapshot(), testutils.ShouldResemble, Snapshot{Color: Black, Hex: "#000000", Brightness: 255})
}

func TestStripCreateFailure(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{})
	tr.err = errors.New("no such pin")
	test.That(t, ind.SetColor(Red), test.ShouldNotBeNil)

	tr.err = nil
	test.That(t, ind.SetColor(Red), test.ShouldBeNil)
	test.That(t, tr.created, test.ShouldHaveLength, 1)
}

func TestFlash(t *testing.T) {
	ind, tr, mock := newTestIndicator(t, Options{})
	test.That(t, ind.StartFlash(Red, 200*time.Millisecond), test.ShouldBeTrue)
	test.That(t, ind.Flashing(), test.ShouldBeTrue)

	advanceUntil(t, mock, 10*time.Millisecond, func() bool { return len(tr.strip.shown()) >= 5 })
	frames := tr.strip.shown()
	for i, f := range frames[:5] {
		if i%2 == 0 {
			test.That(t, f.color, test.ShouldEqual, Red)
		} else {
			test.That(t, f.color, test.ShouldEqual, Black)
		}
	}

	ind.StopFlash()
	test.That(t, ind.Flashing(), test.ShouldBeFalse)
	n := len(tr.strip.shown())
	mock.Add(5 * time.Second)
	test.That(t, tr.strip.shown(), test.ShouldHaveLength, n)
}

func TestFlashHalfCycle(t *testing.T) {
	ind, tr, mock := newTestIndicator(t, Options{})
	test.That(t, ind.StartFlash(Yellow, 100*time.Millisecond), test.ShouldBeTrue)
	advanceUntil(t, mock, 0, func() bool { return len(tr.strip.shown()) == 1 })

	mock.Add(99 * time.Millisecond)
	test.That(t, tr.strip.shown(), test.ShouldHaveLength, 1)
	advanceUntil(t, mock, time.Millisecond, func() bool { return len(tr.strip.shown()) == 2 })
	test.That(t, tr.strip.shown()[1].color, test.ShouldEqual, Black)
}

func TestStartFlashWhileFlashing(t *testing.T) {
	ind, tr, mock := newTestIndicator(t, Options{})
	test.That(t, ind.StartFlash(Red, 50*time.Millisecond), test.ShouldBeTrue)
	test.That(t, ind.StartFlash(Blue, 50*time.Millisecond), test.ShouldBeFalse)

	advanceUntil(t, mock, 10*time.Millisecond, func() bool { return len(tr.strip.shown()) >= 3 })
	for _, f := range tr.strip.shown() {
		test.That(t, f.color, test.ShouldNotEqual, Blue)
	}
}

func TestFlashIntervalClamped(t *testing.T) {
	ind, tr, mock := newTestIndicator(t, Options{})
	test.That(t, ind.StartFlash(White, 0), test.ShouldBeTrue)
	advanceUntil(t, mock, MinFlashInterval, func() bool { return len(tr.strip.shown()) >= 4 })
	ind.StopFlash()

	tr.strip.mu.Lock()
	tr.strip.frames = nil
	tr.strip.mu.Unlock()

	test.That(t, ind.StartFlash(White, time.Hour), test.ShouldBeTrue)
	advanceUntil(t, mock, 0, func() bool { return len(tr.strip.shown()) == 1 })
	advanceUntil(t, mock, time.Second, func() bool { return len(tr.strip.shown()) == 2 })
	// an hour would need 3600 one-second steps, more than ten seconds is enough
	test.That(t, mock.Now().Unix(), test.ShouldBeLessThan, int64(3600))
}

func TestCommandsStopFlash(t *testing.T) {
	for name, cmd := range map[string]func(*Indicator) error{
		"color":      func(i *Indicator) error { return i.SetColor(Green) },
		"clear":      func(i *Indicator) error { return i.Clear() },
		"brightness": func(i *Indicator) error { return i.SetBrightness(10) },
	} {
		t.Run(name, func(t *testing.T) {
			ind, tr, mock := newTestIndicator(t, Options{})
			test.That(t, ind.StartFlash(Red, 20*time.Millisecond), test.ShouldBeTrue)
			advanceUntil(t, mock, 5*time.Millisecond, func() bool { return len(tr.strip.shown()) >= 2 })

			test.That(t, cmd(ind), test.ShouldBeNil)
			test.That(t, ind.Flashing(), test.ShouldBeFalse)

			n := len(tr.strip.shown())
			mock.Add(time.Second)
			test.That(t, tr.strip.shown(), test.ShouldHaveLength, n)
		})
	}
}

func TestStopFlashIdle(t *testing.T) {
	ind, tr, _ := newTestIndicator(t, Options{})
	ind.StopFlash()
	test.That(t, tr.strip.shown(), test.ShouldBeEmpty)
	test.That(t, ind.Snapshot().Flashing, test.ShouldBeFalse)
}

package led

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Seann-Moser/servobit/internal/testutils"
	"github.com/Seann-Moser/servobit/pkg/errcode"
)

type recorder struct {
	frames [][]byte
	err    error
	closed bool
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.frames = append(r.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func TestBandUpdate(t *testing.T) {
	rec := &recorder{}
	b := NewBand(rec, 2)
	test.That(t, b.Len(), test.ShouldEqual, 2)

	b.SetBand(0x102030)
	test.That(t, b.Update(), test.ShouldBeNil)
	test.That(t, rec.frames, testutils.ShouldResemble, [][]byte{{0x10, 0x20, 0x30, 0x10, 0x20, 0x30}})

	b.SetPixel(1, 0xff0000)
	b.SetPixel(5, 0xffffff)
	test.That(t, b.Pixels(), testutils.ShouldResemble, []uint32{0x102030, 0xff0000})

	b.ClearBand()
	test.That(t, b.Update(), test.ShouldBeNil)
	test.That(t, rec.frames[1], testutils.ShouldResemble, []byte{0, 0, 0, 0, 0, 0})
}

func TestBandBrightness(t *testing.T) {
	b := NewBand(&recorder{}, 1)
	b.SetBand(0xff8040)

	b.SetBrightness(128)
	test.That(t, b.Render(), testutils.ShouldResemble, []byte{127, 64, 32})

	b.SetBrightness(40)
	test.That(t, b.Render(), testutils.ShouldResemble, []byte{39, 20, 10})

	b.SetBrightness(0)
	test.That(t, b.Render(), testutils.ShouldResemble, []byte{0, 0, 0})

	b.SetBrightness(255)
	test.That(t, b.Render(), testutils.ShouldResemble, []byte{0xff, 0x80, 0x40})

	// scaling never touches the stored colour
	test.That(t, b.Pixels(), testutils.ShouldResemble, []uint32{0xff8040})
}

func TestBandWriteFailure(t *testing.T) {
	busy := errors.New("spi busy")
	rec := &recorder{err: busy}
	b := NewBand(rec, 1)
	err := b.Update()
	test.That(t, errcode.Of(err), test.ShouldEqual, errcode.StripWrite)
	test.That(t, errors.Is(err, busy), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldEqual, "strip_update: strip_write_failed: spi busy")

	test.That(t, errcode.Of(NewBand(nil, 1).Update()), test.ShouldEqual, errcode.StripOpen)
}

func TestBandClose(t *testing.T) {
	rec := &recorder{}
	b := NewBand(rec, 0)
	test.That(t, b.Len(), test.ShouldEqual, 1)
	test.That(t, b.Close(), test.ShouldBeNil)
	test.That(t, rec.closed, test.ShouldBeTrue)
}

package io

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	gi2c "gobot.io/x/gobot/drivers/i2c"
	"gobot.io/x/gobot/platforms/raspi"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// RegisterBus writes single registers through any I2C transaction bus.
// Both periph buses and tinygo machine.I2C satisfy drivers.I2C.
type RegisterBus struct {
	tx drivers.I2C
}

func NewRegisterBus(tx drivers.I2C) *RegisterBus {
	return &RegisterBus{tx: tx}
}

// WriteRegister writes value into register reg of the device at addr.
func (b *RegisterBus) WriteRegister(addr uint16, reg, value byte) error {
	return b.tx.Tx(addr, []byte{reg, value}, nil)
}

// Tx is one recorded transaction on a SimBus.
type Tx struct {
	Addr uint16
	W    []byte
}

// SimBus is an I2C bus with nothing on it. Writes are logged and kept,
// reads return zeros.
type SimBus struct {
	logger *zap.SugaredLogger

	mu  sync.Mutex
	txs []Tx
}

func NewSimBus(logger *zap.SugaredLogger) *SimBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SimBus{logger: logger}
}

func (s *SimBus) String() string { return "sim" }

func (s *SimBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, Tx{Addr: addr, W: append([]byte(nil), w...)})
	for i := range r {
		r[i] = 0
	}
	s.logger.Debugw("i2c tx", "addr", fmt.Sprintf("%#02x", addr), "w", fmt.Sprintf("% x", w), "r", len(r))
	return nil
}

func (s *SimBus) SetSpeed(physic.Frequency) error { return nil }

func (s *SimBus) Close() error { return nil }

// Transactions returns a copy of every transaction seen so far.
func (s *SimBus) Transactions() []Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tx(nil), s.txs...)
}

// gobotConnector is the part of the raspi adaptor the gobot bus uses.
type gobotConnector interface {
	GetConnection(address int, bus int) (gi2c.Connection, error)
	GetDefaultBus() int
}

// gobotBus exposes a gobot I2C connector as a periph style bus. Gobot hands
// out one connection per device address, so they are opened on first use.
type gobotBus struct {
	conn     gobotConnector
	bus      int
	finalize func() error

	mu    sync.Mutex
	conns map[uint16]gi2c.Connection
}

func openGobotBus(bus int) (*gobotBus, error) {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return nil, errors.Wrap(err, "connecting raspi adaptor")
	}
	return newGobotBus(r, bus, r.Finalize), nil
}

func newGobotBus(c gobotConnector, bus int, finalize func() error) *gobotBus {
	if bus < 0 {
		bus = c.GetDefaultBus()
	}
	return &gobotBus{conn: c, bus: bus, finalize: finalize, conns: make(map[uint16]gi2c.Connection)}
}

func (g *gobotBus) String() string { return fmt.Sprintf("gobot-i2c-%d", g.bus) }

func (g *gobotBus) connection(addr uint16) (gi2c.Connection, error) {
	if c, ok := g.conns[addr]; ok {
		return c, nil
	}
	c, err := g.conn.GetConnection(int(addr), g.bus)
	if err != nil {
		return nil, errors.Wrapf(err, "i2c connection to %#02x", addr)
	}
	g.conns[addr] = c
	return c, nil
}

func (g *gobotBus) Tx(addr uint16, w, r []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.connection(addr)
	if err != nil {
		return err
	}
	if len(w) == 2 && len(r) == 0 {
		return c.WriteByteData(w[0], w[1])
	}
	if len(w) > 0 {
		if _, err := c.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := c.Read(r); err != nil {
			return err
		}
	}
	return nil
}

func (g *gobotBus) SetSpeed(physic.Frequency) error {
	return errors.New("gobot i2c bus speed is fixed by the kernel")
}

func (g *gobotBus) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	for addr, c := range g.conns {
		err = multierr.Append(err, c.Close())
		delete(g.conns, addr)
	}
	if g.finalize != nil {
		err = multierr.Append(err, g.finalize())
	}
	return err
}

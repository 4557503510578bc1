package servo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Seann-Moser/servobit/pkg/mathx"
)

// StepDelay returns the pause between one-degree steps for a speed in
// degrees per second, after clamping the speed to [1, 1000].
func StepDelay(speed int) time.Duration {
	speed = mathx.Clamp(speed, MinSpeed, MaxSpeed)
	return time.Duration(mathx.RoundDiv(1000, speed)) * time.Millisecond
}

// MoveTo starts a speed limited move of ch toward angle and returns without
// waiting for it. The angle is clamped to [-90, 90] and the speed to
// [1, 1000] degrees per second. The servo moves one degree per step, every
// round(1000/speed) milliseconds; speed changes the timing, never the step.
//
// A motion already running on ch is cancelled, and has fully stopped,
// before the new one is recorded. If the clamped angle equals the current
// actual angle nothing is started.
func (c *Controller) MoveTo(ch, angle, speed int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.cmdMu[ch].Lock()
	defer c.cmdMu[ch].Unlock()

	if c.cancelMotion(ch) {
		c.logger.Debugw("superseded motion", "channel", ch)
	}

	angle = clampAngle(angle)
	delay := StepDelay(speed)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureInitialized()

	st := &c.channels[ch]
	step := 1
	if angle < st.actual {
		step = -1
	}
	st.target = angle
	c.notify()
	if angle == st.actual {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &motion{id: uuid.New(), cancel: cancel, done: make(chan struct{})}
	st.task = m
	steps := mathx.Abs(angle - st.actual)
	c.logger.Debugw("motion started", "op", m.id, "channel", ch, "from", st.actual, "to", angle,
		"delay", delay, "eta", time.Duration(steps-1)*delay)
	go c.run(ctx, ch, m, step, delay)
	return nil
}

// run steps ch toward its target until it gets there or ctx is cancelled.
func (c *Controller) run(ctx context.Context, ch int, m *motion, step int, delay time.Duration) {
	defer close(m.done)
	defer func() {
		c.mu.Lock()
		if c.channels[ch].task == m {
			c.channels[ch].task = nil
		}
		c.notify()
		c.mu.Unlock()
		m.cancel()
	}()

	for {
		c.mu.Lock()
		st := &c.channels[ch]
		if ctx.Err() != nil {
			actual := st.actual
			c.mu.Unlock()
			c.logger.Debugw("motion cancelled", "op", m.id, "channel", ch, "actual", actual)
			return
		}
		if st.actual != st.target {
			c.writeAngle(ch, st.actual+step)
		}
		if st.actual == st.target {
			actual := st.actual
			c.mu.Unlock()
			c.logger.Debugw("motion complete", "op", m.id, "channel", ch, "actual", actual)
			return
		}
		c.mu.Unlock()

		t := c.clk.Timer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// cancelMotion cancels the motion running on ch, if any, and waits for its
// goroutine to exit. Must hold c.cmdMu[ch] and not c.mu.
func (c *Controller) cancelMotion(ch int) bool {
	c.mu.Lock()
	m := c.channels[ch].task
	c.mu.Unlock()
	if m == nil {
		return false
	}
	m.cancel()
	<-m.done
	return true
}

// WaitUntilDone blocks until the actual angle of ch equals its target, or
// ctx is done. Nothing drives a channel toward a target set by SetAngle
// outside [-90, 90], so callers that mix the two should bound ctx.
func (c *Controller) WaitUntilDone(ctx context.Context, ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	for {
		c.mu.Lock()
		st := c.channels[ch]
		changed := c.changed
		c.mu.Unlock()
		if st.actual == st.target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Stop cancels any motion on ch and makes the servo's current position its
// target.
func (c *Controller) Stop(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.cmdMu[ch].Lock()
	defer c.cmdMu[ch].Unlock()

	if !c.cancelMotion(ch) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch].target = c.channels[ch].actual
	c.notify()
	return nil
}

// Close stops every running motion. The servos keep their last position.
func (c *Controller) Close() error {
	for ch := 0; ch < NumChannels; ch++ {
		if err := c.Stop(ch); err != nil {
			return err
		}
	}
	return nil
}

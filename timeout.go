package easyfetch

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// deadline cancels a request context once its timeout elapses. The timer is
// cleared when the exchange settles; the context lives until the response
// body is closed.
type deadline struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	timer   *clock.Timer
	fired   atomic.Bool
	once    sync.Once
	pending *atomic.Int64
}

func (c *Client) arm(parent context.Context, timeout time.Duration) *deadline {
	ctx, cancel := context.WithCancel(parent)
	d := &deadline{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		pending: &c.pending,
	}
	c.pending.Add(1)
	d.timer = c.clock.AfterFunc(timeout, func() {
		d.fired.Store(true)
		c.metrics.Timeouts.Inc()
		c.logger.Debug("request timeout", "timeout", timeout)
		cancel()
	})
	return d
}

// clear stops the timer. Safe to call more than once.
func (d *deadline) clear() {
	d.once.Do(func() {
		d.timer.Stop()
		d.pending.Add(-1)
	})
}

func (d *deadline) release() {
	d.cancel()
}

type releaseBody struct {
	io.ReadCloser
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

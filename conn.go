package storagehandler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// connManager owns the backend session lifecycle: the driver is created
// lazily on first operation, kept alive across calls, and torn down on
// handler disposal or when an operation fails with ErrConnection. Failed
// transient operations are retried with bounded exponential backoff;
// ErrAuth is never retried.
type connManager struct {
	mu     sync.Mutex
	open   func(ctx context.Context) (Driver, error)
	drv    Driver
	closed bool

	maxRetries uint64
	baseDelay  time.Duration
	log        *slog.Logger
}

func newConnManager(open func(ctx context.Context) (Driver, error), maxRetries int, log *slog.Logger) *connManager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &connManager{
		open:       open,
		maxRetries: uint64(maxRetries),
		baseDelay:  200 * time.Millisecond,
		log:        log,
	}
}

// driver returns the live session, dialing one if needed.
func (c *connManager) driver(ctx context.Context) (Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.drv != nil {
		return c.drv, nil
	}

	drv, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	c.drv = drv
	return drv, nil
}

// invalidate tears down a session observed to be stale so the next
// attempt reconnects. A newer session is left alone.
func (c *connManager) invalidate(stale Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drv == nil || c.drv != stale {
		return
	}
	if err := c.drv.Close(); err != nil {
		c.log.Debug("closing stale session", "error", err)
	}
	c.drv = nil
}

// do runs fn against a ready driver, retrying transient connection
// failures with exponential backoff up to the configured bound.
func (c *connManager) do(ctx context.Context, op string, fn func(Driver) error) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		drv, err := c.driver(ctx)
		if err != nil {
			if IsConnection(err) {
				c.log.Warn("connect failed, retrying", "op", op, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}

		err = fn(drv)
		if err == nil {
			return nil
		}
		if IsConnection(err) {
			c.invalidate(drv)
			c.log.Warn("transient failure, reconnecting", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// close tears the session down. Subsequent operations fail with ErrClosed.
func (c *connManager) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.drv == nil {
		return nil
	}
	err := c.drv.Close()
	c.drv = nil
	return err
}

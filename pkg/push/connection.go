package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Connection is one authenticated link to the gateway. At any moment it is
// either idle in its Session's pool or held by exactly one sender.
type Connection struct {
	id   string
	link Link
	info ConnectionInfo

	gate     *semaphore.Weighted
	inFlight atomic.Int32

	lastUsed atomic.Int64 // unix nanoseconds
	open     atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	shutdownGrace time.Duration
	logger        *slog.Logger
}

func newConnection(link Link, info ConnectionInfo, o options, now time.Time, logger *slog.Logger) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:            id,
		link:          link,
		info:          info,
		gate:          semaphore.NewWeighted(int64(info.MaxConcurrentStreams)),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		shutdownGrace: o.shutdownGrace,
		logger:        logger.With("connection_id", id),
	}
	c.open.Store(true)
	c.touch(now)
	go c.monitor(o.monitorInterval)
	return c
}

// ID is a random identifier used to correlate log lines.
func (c *Connection) ID() string { return c.id }

// IsOpen reports whether the connection may carry new sends.
func (c *Connection) IsOpen() bool { return c.open.Load() }

// LastUsed returns the time the connection was last borrowed.
func (c *Connection) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

// InFlight returns the number of sends currently holding an admission slot.
func (c *Connection) InFlight() int { return int(c.inFlight.Load()) }

// Capacity returns the admission limit.
func (c *Connection) Capacity() int { return c.info.MaxConcurrentStreams }

func (c *Connection) touch(now time.Time) { c.lastUsed.Store(now.UnixNano()) }

// acquire blocks until an admission slot is free. Every successful acquire
// must be paired with release.
func (c *Connection) acquire(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

func (c *Connection) release() {
	c.inFlight.Add(-1)
	c.gate.Release(1)
}

// usable reports whether the underlying link can still start streams.
func (c *Connection) usable() bool {
	st := c.link.State()
	return !st.Closed && !st.Closing
}

// goAway is the peer shutdown callback. Streams already running are left to
// finish or fail on their own.
func (c *Connection) goAway() {
	if c.open.CompareAndSwap(true, false) {
		c.logger.Info("Gateway is shutting down connection")
	}
}

// markBroken flags the connection after a failed send if its link is no
// longer usable, so the pool drops it.
func (c *Connection) markBroken() {
	if !c.usable() {
		c.goAway()
	}
}

// monitor watches the link for a peer GOAWAY for the lifetime of the
// connection.
func (c *Connection) monitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.usable() {
				c.goAway()
				return
			}
		}
	}
}

// Close stops the monitor, sends GOAWAY and tears the link down. Only the
// first call has an effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.stop)
		<-c.done

		ctx, cancel := context.WithTimeout(context.Background(), c.shutdownGrace)
		defer cancel()
		if err := c.link.Shutdown(ctx); err != nil {
			c.logger.Debug("Graceful shutdown incomplete, forcing close", "err", err)
			c.closeErr = c.link.Close()
		}
		c.logger.Debug("Connection closed")
	})
	return c.closeErr
}

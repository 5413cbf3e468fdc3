// Package push delivers notifications to the push gateway over a pool of
// long-lived, mutually authenticated HTTP/2 connections.
//
// A Session owns the pool. Each send borrows one connection, takes an
// admission slot on it, performs a single request/response exchange and
// classifies the answer into a MessageResult. Idle connections are closed by
// a background reaper. Callers must Close the Session when done; no
// background work outlives Close.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Session is the lifecycle object for one gateway endpoint. It is safe for
// concurrent use.
type Session struct {
	info   ConnectionInfo
	opts   options
	logger *slog.Logger
	now    func() time.Time

	pool     pool
	open     atomic.Bool
	inFlight atomic.Int32

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// Open validates that the credentials can be loaded and starts the reaper.
// No connection is dialed until the first send.
func Open(cfg Config, logger *slog.Logger, opts ...Option) (*Session, error) {
	info, err := newConnectionInfo(cfg)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.With("component", "PushSession")
	o.apply(&info, logger)

	if _, err := loadCredentials(info); err != nil {
		return nil, fmt.Errorf("failed to load gateway credentials: %w", err)
	}

	s := newSession(info, o, logger)
	go s.reap(o.reapInterval)
	logger.Info("Push session opened",
		"host", info.Host,
		"max_concurrent_streams", info.MaxConcurrentStreams,
	)
	return s, nil
}

func newSession(info ConnectionInfo, o options, logger *slog.Logger) *Session {
	s := &Session{
		info:       info,
		opts:       o,
		logger:     logger,
		now:        time.Now,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	s.open.Store(true)
	return s
}

// IsOpen reports whether Close has not yet been called.
func (s *Session) IsOpen() bool { return s.open.Load() }

// Info returns the endpoint description the session was opened with.
func (s *Session) Info() ConnectionInfo { return s.info }

// IdleConnections returns the number of connections waiting in the pool.
func (s *Session) IdleConnections() int { return s.pool.size() }

// InFlight returns the number of sends currently past admission.
func (s *Session) InFlight() int { return int(s.inFlight.Load()) }

// Close stops the reaper and closes every pooled connection. Connections
// borrowed at the time of Close are closed when their send returns them.
// Calling Close again returns ErrSessionClosed.
func (s *Session) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return ErrSessionClosed
	}
	close(s.stopReaper)
	<-s.reaperDone

	members := s.pool.drain()
	var errs []error
	for _, c := range members {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection %s: %w", c.ID(), err))
		}
	}
	s.logger.Info("Push session closed", "connections_closed", len(members))
	return errors.Join(errs...)
}

// borrow hands out a pooled connection for exclusive use, or dials a new
// one when none is available.
func (s *Session) borrow(ctx context.Context) (*Connection, error) {
	for range maxStaleRetries {
		c, found, err := s.pool.take()
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		c.touch(s.now())
		if c.IsOpen() {
			return c, nil
		}
		s.logger.Debug("Discarding connection closed by gateway", "connection_id", c.ID())
		if err := c.Close(); err != nil {
			s.logger.Debug("Error closing stale connection", "connection_id", c.ID(), "err", err)
		}
	}
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) (*Connection, error) {
	tlsConfig, err := loadCredentials(s.info)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway credentials: %w", err)
	}
	link, err := s.opts.dial(ctx, tlsConfig, s.info)
	if err != nil {
		return nil, err
	}
	c := newConnection(link, s.info, s.opts, s.now(), s.logger)
	if !s.IsOpen() {
		_ = c.Close()
		return nil, ErrSessionClosed
	}
	s.logger.Info("Opened gateway connection", "connection_id", c.ID(), "addr", s.info.Addr)
	return c, nil
}

// giveBack returns c to the pool, closing it instead when it was shut down
// by the gateway or the session has been closed meanwhile.
func (s *Session) giveBack(c *Connection) {
	if s.pool.put(c) {
		return
	}
	if err := c.Close(); err != nil {
		s.logger.Debug("Error closing dropped connection", "connection_id", c.ID(), "err", err)
	}
}

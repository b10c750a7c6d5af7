// Package timesync checks the local clock against an NTP server once the
// station has an upstream address.
package timesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"apsta/internal/check"
	"apsta/internal/logging"

	"github.com/beevik/ntp"
	"github.com/juju/clock"
)

const (
	defaultServer    = "pool.ntp.org"
	defaultThreshold = 500 * time.Millisecond
	queryTimeout     = 5 * time.Second
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	Error
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Unchecked, Error:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	case Healthy:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	case UnhealthyOffset:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	}
	check.Assertf(ok, "timesync transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

type Status struct {
	Server    string
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// QueryFunc returns the local clock's offset from server.
type QueryFunc func(ctx context.Context, server string) (time.Duration, error)

func queryNTP(ctx context.Context, server string) (time.Duration, error) {
	timeout := queryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

type Option func(*Checker)

func WithServer(server string) Option {
	return func(c *Checker) {
		if server != "" {
			c.server = server
		}
	}
}

func WithThreshold(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.threshold = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Checker) {
		c.clock = clk
	}
}

func WithQuery(q QueryFunc) Option {
	return func(c *Checker) {
		c.query = q
	}
}

type Checker struct {
	server    string
	threshold time.Duration
	clock     clock.Clock
	query     QueryFunc
	log       *slog.Logger

	mu     sync.RWMutex
	status Status
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		server:    defaultServer,
		threshold: defaultThreshold,
		clock:     clock.WallClock,
		query:     queryNTP,
		log:       logging.Component("timesync"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{Server: c.server, Phase: Unchecked}
	return c
}

// Check queries the server once and records the result.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	offset, err := c.query(ctx, c.server)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	next := Status{Server: c.server, CheckedAt: now}
	switch {
	case err != nil:
		next.Phase = c.status.Phase.Transition(Error)
		next.Error = err.Error()
		c.log.Warn("ntp query failed", "server", c.server, "err", err)
	case offset.Abs() < c.threshold:
		next.Phase = c.status.Phase.Transition(Healthy)
		next.Offset = offset
		c.log.Debug("clock in sync", "server", c.server, "offset", offset)
	default:
		next.Phase = c.status.Phase.Transition(UnhealthyOffset)
		next.Offset = offset
		c.log.Warn("clock offset above threshold", "server", c.server, "offset", offset, "threshold", c.threshold)
	}
	c.status = next
	return next
}

func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Package station supervises the station-mode connection: it reacts to
// lifecycle events, re-issues connect attempts up to a retry limit and
// publishes the acquired address for concurrent readers.
package station

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"apsta"
	"apsta/internal/check"

	"github.com/juju/clock"
)

// Connector is the substrate's connect primitive. It must not block; the
// outcome arrives later as StationGotAddress or StationDisconnected.
type Connector interface {
	Connect()
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func()

func (f ConnectorFunc) Connect() { f() }

// Config holds the supervisor's static settings.
type Config struct {
	MaxRetries int
}

// Result describes what a single event did to the supervisor.
type Result struct {
	Event         apsta.Event
	From          State
	To            State
	Retries       int
	ConnectIssued bool
	Signal        Signal
	// Address is set when the event acquired or refreshed an address.
	Address netip.Addr
	// LostAddress is set when the event dropped a previously held address.
	LostAddress netip.Addr
}

// Changed reports whether the state moved.
func (r Result) Changed() bool {
	return r.From != r.To
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for state timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

// OnTransition registers a hook called after every handled event. Hooks run
// on the dispatch goroutine and must not block.
func OnTransition(fn func(Result)) Option {
	return func(s *Supervisor) {
		s.onTransition = append(s.onTransition, fn)
	}
}

// OnFailure registers a hook receiving ConnectError values and errors
// wrapping ErrRetryExhausted.
func OnFailure(fn func(error)) Option {
	return func(s *Supervisor) {
		s.onFailure = append(s.onFailure, fn)
	}
}

type snapshot struct {
	state  State
	status apsta.StationStatus
}

// Supervisor owns the station connection state. HandleEvent must be called
// from a single goroutine; Status and Address are safe from any goroutine.
type Supervisor struct {
	maxRetries   int
	connector    Connector
	clock        clock.Clock
	log          *slog.Logger
	onTransition []func(Result)
	onFailure    []func(error)

	// Mutated only by HandleEvent.
	state    State
	retries  int
	attempts int
	address  netip.Addr
	upstream string
	since    time.Time

	published atomic.Pointer[snapshot]
}

// New creates a supervisor in the idle state.
func New(cfg Config, connector Connector, opts ...Option) *Supervisor {
	check.Assert(connector != nil, "station.New: connector must not be nil")
	check.Assertf(cfg.MaxRetries >= 0, "station.New: negative max retries %d", cfg.MaxRetries)

	s := &Supervisor{
		maxRetries: max(cfg.MaxRetries, 0),
		connector:  connector,
		clock:      clock.WallClock,
		log:        slog.Default(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "station")
	s.since = s.clock.Now()
	s.publish()
	return s
}

// HandleEvent applies one lifecycle event.
func (s *Supervisor) HandleEvent(ev apsta.Event) Result {
	res := Result{Event: ev, From: s.state}

	switch e := ev.(type) {
	case apsta.StationStarted:
		s.handleStarted(&res)
	case apsta.StationConnected:
		s.upstream = e.Upstream
		s.log.Info("associated with upstream network", "upstream", e.Upstream, "state", s.state)
	case apsta.StationDisconnected:
		s.handleDisconnected(e.Reason, &res)
	case apsta.StationGotAddress:
		s.handleGotAddress(e.IP, &res)
	case apsta.APPeerJoined, apsta.APPeerLeft:
		s.log.Warn("access point event routed to station supervisor", "event", ev)
	default:
		check.Unreachablef("station: unhandled event %T", ev)
		s.log.Error("unhandled lifecycle event", "type", fmt.Sprintf("%T", ev))
	}

	res.To = s.state
	res.Retries = s.retries
	if res.Changed() {
		s.since = s.clock.Now()
		s.log.Debug("station state changed", "from", res.From, "to", res.To, "retries", s.retries)
	}
	s.publish()

	for _, fn := range s.onTransition {
		fn(res)
	}
	return res
}

func (s *Supervisor) handleStarted(res *Result) {
	switch s.state {
	case StateIdle, StateFailed:
		s.retries = 0
		s.upstream = ""
		s.setState(StateConnecting)
		s.connect(res)
		s.log.Info("station started, connecting")
	default:
		s.log.Debug("duplicate station start ignored", "state", s.state)
	}
}

func (s *Supervisor) handleGotAddress(ip netip.Addr, res *Result) {
	if !ip.IsValid() {
		s.log.Warn("ignoring address event without an address")
		return
	}

	prev := s.address
	refresh := s.state == StateConnected
	s.retries = 0
	s.address = ip
	s.setState(StateConnected)
	res.Address = ip

	if refresh && prev == ip {
		s.log.Debug("address refreshed", "ip", ip)
		return
	}
	res.Signal = SignalAddressAcquired
	s.log.Info("got ip", "ip", ip)
}

func (s *Supervisor) handleDisconnected(reason string, res *Result) {
	switch s.state {
	case StateIdle:
		s.log.Debug("disconnect before start ignored", "reason", reason)
		return
	case StateFailed:
		s.log.Debug("disconnect after retries exhausted", "reason", reason)
		return
	}

	if s.address.IsValid() {
		res.LostAddress = s.address
		s.address = netip.Addr{}
	}

	connErr := &ConnectError{Reason: reason, Attempt: s.retries, MaxRetries: s.maxRetries}
	if s.retries < s.maxRetries {
		s.retries++
		connErr.Attempt = s.retries
		s.connect(res)
		if s.retries < s.maxRetries {
			s.setState(StateRetrying)
			res.Signal = SignalConnectFailure
			s.log.Info("retry to connect to the upstream network",
				"attempt", s.retries, "max", s.maxRetries, "reason", reason)
			s.fail(connErr)
			return
		}
		s.log.Info("last retry to connect to the upstream network",
			"attempt", s.retries, "max", s.maxRetries, "reason", reason)
	}

	s.setState(StateFailed)
	res.Signal = SignalRetryExhausted
	s.log.Warn("connect to the upstream network failed, retries exhausted",
		"retries", s.retries, "reason", reason)
	s.fail(fmt.Errorf("%w: %w", ErrRetryExhausted, connErr))
}

func (s *Supervisor) setState(to State) {
	s.state = s.state.Transition(to)
}

func (s *Supervisor) connect(res *Result) {
	s.attempts++
	res.ConnectIssued = true
	s.connector.Connect()
}

func (s *Supervisor) fail(err error) {
	for _, fn := range s.onFailure {
		fn(err)
	}
}

func (s *Supervisor) publish() {
	s.published.Store(&snapshot{
		state: s.state,
		status: apsta.StationStatus{
			State:      s.state.String(),
			Retries:    s.retries,
			MaxRetries: s.maxRetries,
			Attempts:   s.attempts,
			Address:    s.address,
			Upstream:   s.upstream,
			Since:      s.since,
		},
	})
}

// Status returns the last published snapshot.
func (s *Supervisor) Status() apsta.StationStatus {
	return s.published.Load().status
}

// State returns the last published state.
func (s *Supervisor) State() State {
	return s.published.Load().state
}

// Address returns the acquired address, if any.
func (s *Supervisor) Address() (netip.Addr, bool) {
	addr := s.published.Load().status.Address
	return addr, addr.IsValid()
}

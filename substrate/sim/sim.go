// Package sim is a scripted substrate. It plays back connect outcomes and
// peer arrivals from a Plan so the device can run without a radio.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"apsta"
	"apsta/internal/logging"
	"apsta/substrate"

	"github.com/juju/clock"
)

// ReasonNoAPFound is reported for attempts beyond the scripted ones.
const ReasonNoAPFound = "no-ap-found"

var errClosed = errors.New("sim substrate closed")

// Attempt scripts the outcome of one Connect call.
type Attempt struct {
	// Fail, when non-empty, makes the attempt fail with this reason.
	Fail string
	// Address is acquired on success. Defaults to 192.168.7.2.
	Address  netip.Addr
	Upstream string
}

// PeerScript scripts one peer joining and optionally leaving.
type PeerScript struct {
	Peer      apsta.PeerID
	JoinAfter time.Duration
	// LeaveAfter is measured from Start. Zero means the peer stays.
	LeaveAfter time.Duration
}

// Plan is the scripted behaviour of the simulated radio.
type Plan struct {
	Attempts []Attempt
	Peers    []PeerScript
	// Latency separates a Connect call from its outcome. Zero reports the
	// outcome before Connect returns.
	Latency time.Duration
	// MaxPeers refuses joins beyond the limit, as the driver would. Zero
	// means unlimited.
	MaxPeers int
	// InitErr, when set, makes Init fail.
	InitErr error
}

// SucceedAfter returns a plan whose first n attempts fail with reason and
// whose next attempt succeeds.
func SucceedAfter(n int, reason string) Plan {
	p := Plan{}
	for range n {
		p.Attempts = append(p.Attempts, Attempt{Fail: reason})
	}
	p.Attempts = append(p.Attempts, Attempt{})
	return p
}

// Option configures a Substrate.
type Option func(*Substrate)

// WithClock sets the clock driving latency and peer scripts.
func WithClock(c clock.Clock) Option {
	return func(s *Substrate) {
		s.clock = c
	}
}

// Substrate implements substrate.Substrate from a Plan.
type Substrate struct {
	plan  Plan
	clock clock.Clock
	log   *slog.Logger

	mu       sync.Mutex
	sink     substrate.EventSink
	next     int
	connects int
	joined   map[apsta.PeerID]struct{}
	timers   []clock.Timer
	closed   bool
}

var _ substrate.Substrate = (*Substrate)(nil)

// New creates a simulated substrate.
func New(plan Plan, opts ...Option) *Substrate {
	s := &Substrate{
		plan:   plan,
		clock:  clock.WallClock,
		log:    logging.Component("sim"),
		joined: make(map[apsta.PeerID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init registers sink.
func (s *Substrate) Init(_ context.Context, sink substrate.EventSink) error {
	if s.plan.InitErr != nil {
		return fmt.Errorf("%w: %w", substrate.ErrInit, s.plan.InitErr)
	}
	if sink == nil {
		return fmt.Errorf("%w: nil event sink", substrate.ErrInit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", substrate.ErrInit, errClosed)
	}
	s.sink = sink
	return nil
}

// Start reports StationStarted and schedules the peer scripts.
func (s *Substrate) Start(_ context.Context) error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return errors.New("sim: start before init")
	}
	s.mu.Unlock()

	s.emit(apsta.StationStarted{})
	for _, ps := range s.plan.Peers {
		s.after(ps.JoinAfter, func() { s.join(ps.Peer) })
		if ps.LeaveAfter > 0 {
			s.after(ps.LeaveAfter, func() { s.leave(ps.Peer) })
		}
	}
	return nil
}

// Connect consumes the next scripted attempt.
func (s *Substrate) Connect() {
	s.mu.Lock()
	s.connects++
	attempt := Attempt{Fail: ReasonNoAPFound}
	if s.next < len(s.plan.Attempts) {
		attempt = s.plan.Attempts[s.next]
		s.next++
	}
	s.mu.Unlock()

	s.after(s.plan.Latency, func() { s.resolve(attempt) })
}

// Connects returns the number of Connect calls so far.
func (s *Substrate) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Close stops pending timers. Later events are discarded.
func (s *Substrate) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	return nil
}

func (s *Substrate) resolve(a Attempt) {
	if a.Fail != "" {
		s.emit(apsta.StationDisconnected{Reason: a.Fail})
		return
	}
	addr := a.Address
	if !addr.IsValid() {
		addr = netip.MustParseAddr("192.168.7.2")
	}
	upstream := a.Upstream
	if upstream == "" {
		upstream = "sim"
	}
	s.emit(apsta.StationConnected{Upstream: upstream})
	s.emit(apsta.StationGotAddress{IP: addr})
}

func (s *Substrate) join(p apsta.PeerID) {
	s.mu.Lock()
	if s.plan.MaxPeers > 0 && len(s.joined) >= s.plan.MaxPeers {
		s.mu.Unlock()
		s.log.Info("peer refused, hosted network full", "mac", p.MAC, "max", s.plan.MaxPeers)
		return
	}
	s.joined[p] = struct{}{}
	s.mu.Unlock()
	s.emit(apsta.APPeerJoined{Peer: p})
}

func (s *Substrate) leave(p apsta.PeerID) {
	s.mu.Lock()
	_, ok := s.joined[p]
	delete(s.joined, p)
	s.mu.Unlock()
	if ok {
		s.emit(apsta.APPeerLeft{Peer: p})
	}
}

func (s *Substrate) after(d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers = append(s.timers, s.clock.AfterFunc(d, fn))
}

func (s *Substrate) emit(ev apsta.Event) {
	s.mu.Lock()
	sink, closed := s.sink, s.closed
	s.mu.Unlock()
	if closed || sink == nil {
		return
	}
	sink(ev)
}

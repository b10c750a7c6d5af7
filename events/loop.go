package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"apsta"
	"apsta/internal/check"
	"apsta/internal/logging"
	"apsta/station"
)

// ErrLoopRunning is returned when Start or Dispatch is called on a running loop.
var ErrLoopRunning = errors.New("event loop already running")

// StationHandler consumes station events.
type StationHandler interface {
	HandleEvent(ev apsta.Event) station.Result
}

// PeerHandler consumes access-point events.
type PeerHandler interface {
	Join(peer apsta.PeerID) bool
	Leave(peer apsta.PeerID) bool
}

// Loop drains a Channel on one goroutine. Each event is handled to completion,
// including any connect call it triggers, before the next is taken.
// It owns its goroutine lifecycle via Start/Stop.
type Loop struct {
	ch      *Channel
	station StationHandler
	peers   PeerHandler
	log     *slog.Logger

	dispatched uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a dispatch loop.
func NewLoop(ch *Channel, st StationHandler, peers PeerHandler) *Loop {
	check.Assert(ch != nil, "events.NewLoop: channel must not be nil")
	check.Assert(st != nil, "events.NewLoop: station handler must not be nil")
	check.Assert(peers != nil, "events.NewLoop: peer handler must not be nil")
	return &Loop{
		ch:      ch,
		station: st,
		peers:   peers,
		log:     logging.Component("events"),
	}
}

// Start launches the dispatch goroutine.
func (l *Loop) Start(ctx context.Context) error {
	if l.done != nil {
		return ErrLoopRunning
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		l.run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight event to finish.
func (l *Loop) Stop() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
		l.cancel = nil
		l.done = nil
	}
	return nil
}

// Done is closed when the dispatch goroutine exits. It is nil before Start.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Dispatch handles ev synchronously on the caller's goroutine. It is meant
// for tests and replay, and refuses to run alongside the started loop.
func (l *Loop) Dispatch(ev apsta.Event) error {
	if l.done != nil {
		return ErrLoopRunning
	}
	l.dispatch(ev)
	return nil
}

// Dispatched returns the number of events handled. Only meaningful once the
// loop has stopped or from the dispatch goroutine.
func (l *Loop) Dispatched() uint64 {
	return l.dispatched
}

func (l *Loop) run(ctx context.Context) {
	for {
		ev, ok := l.ch.Next(ctx)
		if !ok {
			return
		}
		l.dispatch(ev)
	}
}

func (l *Loop) dispatch(ev apsta.Event) {
	l.dispatched++

	switch e := ev.(type) {
	case apsta.StationStarted, apsta.StationConnected, apsta.StationDisconnected, apsta.StationGotAddress:
		l.station.HandleEvent(e)
	case apsta.APPeerJoined:
		l.peers.Join(e.Peer)
	case apsta.APPeerLeft:
		l.peers.Leave(e.Peer)
	default:
		check.Unreachablef("events: unhandled event %T", ev)
		l.log.Error("unhandled lifecycle event", "type", fmt.Sprintf("%T", ev))
	}
}

// Package accesspoint tracks which peers are joined to the hosted network.
package accesspoint

import (
	"cmp"
	"log/slog"
	"slices"
	"sync/atomic"

	"apsta"
)

// Host holds the joined-peer set. Join and Leave must be called from a single
// goroutine; Peers, Len and Has read a published snapshot and are safe from
// any goroutine.
type Host struct {
	log      *slog.Logger
	onChange []func(peer apsta.PeerID, joined bool)

	members   map[apsta.PeerID]struct{}
	published atomic.Pointer[[]apsta.PeerID]
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.log = l
	}
}

// OnChange registers a hook called when membership actually changes.
func OnChange(fn func(peer apsta.PeerID, joined bool)) Option {
	return func(h *Host) {
		h.onChange = append(h.onChange, fn)
	}
}

// NewHost creates an empty host.
func NewHost(opts ...Option) *Host {
	h := &Host{
		log:     slog.Default(),
		members: make(map[apsta.PeerID]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "access_point")
	h.publish()
	return h
}

// Join adds peer. It reports false when the peer was already present.
func (h *Host) Join(peer apsta.PeerID) bool {
	if _, ok := h.members[peer]; ok {
		return false
	}
	h.members[peer] = struct{}{}
	h.publish()
	h.log.Info("station join", "mac", peer.MAC, "aid", peer.AID, "peers", len(h.members))
	h.notify(peer, true)
	return true
}

// Leave removes peer. It reports false when the peer was not present.
func (h *Host) Leave(peer apsta.PeerID) bool {
	if _, ok := h.members[peer]; !ok {
		return false
	}
	delete(h.members, peer)
	h.publish()
	h.log.Info("station leave", "mac", peer.MAC, "aid", peer.AID, "peers", len(h.members))
	h.notify(peer, false)
	return true
}

// Peers returns the joined peers ordered by MAC then AID.
func (h *Host) Peers() []apsta.PeerID {
	return slices.Clone(*h.published.Load())
}

// Len returns the number of joined peers.
func (h *Host) Len() int {
	return len(*h.published.Load())
}

// Has reports whether peer is joined.
func (h *Host) Has(peer apsta.PeerID) bool {
	return slices.Contains(*h.published.Load(), peer)
}

func (h *Host) notify(peer apsta.PeerID, joined bool) {
	for _, fn := range h.onChange {
		fn(peer, joined)
	}
}

func (h *Host) publish() {
	peers := make([]apsta.PeerID, 0, len(h.members))
	for p := range h.members {
		peers = append(peers, p)
	}
	slices.SortFunc(peers, func(a, b apsta.PeerID) int {
		if c := cmp.Compare(a.MAC, b.MAC); c != 0 {
			return c
		}
		return cmp.Compare(a.AID, b.AID)
	})
	h.published.Store(&peers)
}

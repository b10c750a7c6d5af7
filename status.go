package apsta

import (
	"net/netip"
	"time"
)

// StationStatus is a point-in-time view of the station connection.
type StationStatus struct {
	State      string     `json:"state"`
	Retries    int        `json:"retries"`
	MaxRetries int        `json:"max_retries"`
	Attempts   int        `json:"attempts"`
	Address    netip.Addr `json:"address,omitzero"`
	Upstream   string     `json:"upstream,omitempty"`
	Since      time.Time  `json:"since"`
}

// HasAddress reports whether the station currently holds an address.
func (s StationStatus) HasAddress() bool {
	return s.Address.IsValid()
}

// DeviceStatus is the document served on the status route.
type DeviceStatus struct {
	Station StationStatus `json:"station"`
	Peers   []PeerID      `json:"peers"`
	Version string        `json:"version"`
}

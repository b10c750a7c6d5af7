package apsta

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Event is a lifecycle notification delivered by the network substrate.
// The set of variants is closed: only the types in this file implement it.
type Event interface {
	isEvent()
	// Role reports which side of the device the event belongs to.
	Role() Role
}

// Role partitions events between the station and access-point sides.
type Role uint8

const (
	RoleStation Role = iota + 1
	RoleAccessPoint
)

func (r Role) String() string {
	switch r {
	case RoleStation:
		return "station"
	case RoleAccessPoint:
		return "access_point"
	default:
		return "unknown"
	}
}

// StationStarted is emitted once the station interface is up and ready to
// associate.
type StationStarted struct{}

// StationConnected is emitted when the station associated with the upstream
// network. Upstream is the BSSID or SSID when the substrate knows it.
type StationConnected struct {
	Upstream string
}

// StationDisconnected is emitted when an association attempt failed or an
// established association was lost.
type StationDisconnected struct {
	Reason string
}

// StationGotAddress is emitted when the station interface acquired an address.
type StationGotAddress struct {
	IP netip.Addr
}

// APPeerJoined is emitted when a peer associated with the hosted network.
type APPeerJoined struct {
	Peer PeerID
}

// APPeerLeft is emitted when a peer left the hosted network.
type APPeerLeft struct {
	Peer PeerID
}

func (StationStarted) isEvent()      {}
func (StationConnected) isEvent()    {}
func (StationDisconnected) isEvent() {}
func (StationGotAddress) isEvent()   {}
func (APPeerJoined) isEvent()        {}
func (APPeerLeft) isEvent()          {}

func (StationStarted) Role() Role      { return RoleStation }
func (StationConnected) Role() Role    { return RoleStation }
func (StationDisconnected) Role() Role { return RoleStation }
func (StationGotAddress) Role() Role   { return RoleStation }
func (APPeerJoined) Role() Role        { return RoleAccessPoint }
func (APPeerLeft) Role() Role          { return RoleAccessPoint }

func (StationStarted) String() string        { return "station started" }
func (e StationConnected) String() string    { return "station connected to " + e.Upstream }
func (e StationDisconnected) String() string { return "station disconnected: " + e.Reason }
func (e StationGotAddress) String() string   { return "station got address " + e.IP.String() }
func (e APPeerJoined) String() string        { return "peer joined " + e.Peer.String() }
func (e APPeerLeft) String() string          { return "peer left " + e.Peer.String() }

// PeerID identifies a peer on the hosted network by hardware address and
// association id.
type PeerID struct {
	MAC string `json:"mac"`
	AID uint16 `json:"aid"`
}

// NewPeerID normalises a hardware address into a PeerID.
func NewPeerID(mac net.HardwareAddr, aid uint16) PeerID {
	return PeerID{MAC: strings.ToUpper(mac.String()), AID: aid}
}

// ParsePeerID accepts either a full hardware address or a short colon form
// such as "AA:BB" and upper-cases it.
func ParsePeerID(s string, aid uint16) (PeerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PeerID{}, fmt.Errorf("empty peer address")
	}
	if hw, err := net.ParseMAC(s); err == nil {
		return NewPeerID(hw, aid), nil
	}
	for _, part := range strings.Split(s, ":") {
		if _, err := hex.DecodeString(part); err != nil || len(part) != 2 {
			return PeerID{}, fmt.Errorf("invalid peer address %q", s)
		}
	}
	return PeerID{MAC: strings.ToUpper(s), AID: aid}, nil
}

func (p PeerID) String() string {
	return fmt.Sprintf("%s aid=%d", p.MAC, p.AID)
}

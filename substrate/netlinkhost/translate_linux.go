//go:build linux

package netlinkhost

import (
	"net"
	"net/netip"
	"sync"

	"apsta"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// presentStates are neighbour states in which the peer is considered joined.
const presentStates = netlink.NUD_REACHABLE | netlink.NUD_STALE | netlink.NUD_DELAY |
	netlink.NUD_PROBE | netlink.NUD_PERMANENT

// translator turns raw netlink updates into lifecycle events and keeps just
// enough state to suppress repeats. The pump goroutine and connect attempts
// both use it.
//
// A connected period starts with carrier or an address and ends with exactly
// one StationDisconnected, whichever of carrier loss or address removal is
// seen first.
type translator struct {
	apIndex  int
	staIndex int
	upstream string

	mu    sync.Mutex
	staUp bool
	armed bool
	// outcomes counts address and loss events; a connect attempt that sees
	// no change within its timeout reports the attempt as failed.
	outcomes uint64
	peers    map[string]struct{}
}

func newTranslator(apIndex, staIndex int, upstream string) *translator {
	return &translator{
		apIndex:  apIndex,
		staIndex: staIndex,
		upstream: upstream,
		peers:    make(map[string]struct{}),
	}
}

// seed records the station link's carrier as found at startup.
func (t *translator) seed(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staUp = up
	t.armed = t.armed || up
}

func (t *translator) link(upd netlink.LinkUpdate) (apsta.Event, bool) {
	if upd.Link == nil || upd.Attrs().Index != t.staIndex {
		return nil, false
	}
	oper := upd.Attrs().OperState
	up := oper == netlink.OperUp

	t.mu.Lock()
	defer t.mu.Unlock()
	if up == t.staUp {
		return nil, false
	}
	t.staUp = up
	if up {
		t.armed = true
		return apsta.StationConnected{Upstream: t.upstream}, true
	}
	return t.lostLocked("link " + oper.String())
}

func (t *translator) addr(upd netlink.AddrUpdate) (apsta.Event, bool) {
	if upd.LinkIndex != t.staIndex {
		return nil, false
	}
	ip, ok := usableIPv4(upd.LinkAddress.IP)
	if !ok {
		return nil, false
	}
	if upd.NewAddr {
		return t.gotAddress(ip), true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lostLocked("address " + ip.String() + " lost")
}

// gotAddress reports ip as held by the station link.
func (t *translator) gotAddress(ip netip.Addr) apsta.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	t.outcomes++
	return apsta.StationGotAddress{IP: ip}
}

// mark returns the current outcome count for a connect attempt.
func (t *translator) mark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcomes
}

// settle fails a connect attempt that produced neither an address nor a loss
// since mark returned since.
func (t *translator) settle(since uint64, reason string) (apsta.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcomes != since {
		return nil, false
	}
	t.armed = false
	t.outcomes++
	return apsta.StationDisconnected{Reason: reason}, true
}

func (t *translator) lostLocked(reason string) (apsta.Event, bool) {
	if !t.armed {
		return nil, false
	}
	t.armed = false
	t.outcomes++
	return apsta.StationDisconnected{Reason: reason}, true
}

func (t *translator) neigh(upd netlink.NeighUpdate) (apsta.Event, bool) {
	if upd.LinkIndex != t.apIndex || len(upd.HardwareAddr) == 0 {
		return nil, false
	}
	// The kernel does not expose association ids; neighbours carry AID 0.
	peer := apsta.NewPeerID(upd.HardwareAddr, 0)

	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.peers[peer.MAC]

	present := upd.Type == unix.RTM_NEWNEIGH && upd.State&presentStates != 0
	switch {
	case present && !known:
		t.peers[peer.MAC] = struct{}{}
		return apsta.APPeerJoined{Peer: peer}, true
	case !present && known:
		delete(t.peers, peer.MAC)
		return apsta.APPeerLeft{Peer: peer}, true
	}
	return nil, false
}

func usableIPv4(raw net.IP) (netip.Addr, bool) {
	ip, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.Addr{}, false
	}
	ip = ip.Unmap()
	if !ip.Is4() || ip.IsLinkLocalUnicast() || ip.IsLoopback() {
		return netip.Addr{}, false
	}
	return ip, true
}

func prefixToIPNet(pref netip.Prefix) *net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return &net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}

//go:build linux

package netlinkhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"apsta"
	"apsta/internal/logging"
	"apsta/substrate"

	"github.com/juju/clock"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Substrate drives the kernel network stack through netlink.
type Substrate struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	sink   substrate.EventSink
	ap     netlink.Link
	sta    netlink.Link
	tr     *translator
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ substrate.Substrate = (*Substrate)(nil)

// New creates a netlink substrate. Nothing touches the kernel until Init.
func New(cfg Config) *Substrate {
	return &Substrate{
		cfg: cfg,
		log: logging.Component("netlink"),
	}
}

// Init resolves both links, assigns the hosted network's address and
// subscribes to link, address and neighbour updates.
func (s *Substrate) Init(ctx context.Context, sink substrate.EventSink) error {
	if err := s.cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", substrate.ErrInit, err)
	}
	if sink == nil {
		return fmt.Errorf("%w: nil event sink", substrate.ErrInit)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", substrate.ErrInit, err)
	}

	ap, err := linkByName(s.cfg.APInterface)
	if err != nil {
		return fmt.Errorf("%w: %w", substrate.ErrInit, err)
	}
	sta, err := linkByName(s.cfg.StationInterface)
	if err != nil {
		return fmt.Errorf("%w: %w", substrate.ErrInit, err)
	}

	addr := &netlink.Addr{IPNet: prefixToIPNet(s.cfg.APPrefix)}
	if err := netlink.AddrReplace(ap, addr); err != nil {
		return fmt.Errorf("%w: assign %s to %s: %w", substrate.ErrInit, s.cfg.APPrefix, s.cfg.APInterface, err)
	}
	s.log.Info("access point address configured",
		"interface", s.cfg.APInterface, "address", s.cfg.APPrefix, "gateway", s.cfg.APPrefix.Addr())

	done := make(chan struct{})
	linkCh := make(chan netlink.LinkUpdate, 16)
	addrCh := make(chan netlink.AddrUpdate, 16)
	neighCh := make(chan netlink.NeighUpdate, 16)
	onErr := func(err error) {
		s.log.Warn("netlink subscription error", "err", err)
	}

	subErr := errors.Join(
		netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{ErrorCallback: onErr}),
		netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{ErrorCallback: onErr}),
		netlink.NeighSubscribeWithOptions(neighCh, done, netlink.NeighSubscribeOptions{ErrorCallback: onErr}),
	)
	if subErr != nil {
		close(done)
		return fmt.Errorf("%w: subscribe: %w", substrate.ErrInit, subErr)
	}

	s.mu.Lock()
	s.sink = sink
	s.ap, s.sta = ap, sta
	s.tr = newTranslator(ap.Attrs().Index, sta.Attrs().Index, s.cfg.Upstream)
	s.tr.seed(sta.Attrs().OperState == netlink.OperUp)
	s.done = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(done, linkCh, addrCh, neighCh)
	}()
	return nil
}

// Start brings both links up and reports StationStarted. An address already
// present on the station link is reported straight after.
func (s *Substrate) Start(_ context.Context) error {
	s.mu.Lock()
	ap, sta, sink := s.ap, s.sta, s.sink
	s.mu.Unlock()
	if sink == nil {
		return errors.New("netlink: start before init")
	}

	if err := netlink.LinkSetUp(ap); err != nil {
		return fmt.Errorf("set %s up: %w", s.cfg.APInterface, err)
	}
	if err := netlink.LinkSetUp(sta); err != nil {
		return fmt.Errorf("set %s up: %w", s.cfg.StationInterface, err)
	}

	s.emit(apsta.StationStarted{})
	s.reportExistingAddress(sta)
	return nil
}

// Connect sets the station link up on its own goroutine. Success arrives
// through the subscriptions. An attempt that yields neither an address nor a
// loss within the connect timeout is reported as StationDisconnected, so a
// link that is already up without carrier still advances the retry count.
func (s *Substrate) Connect() {
	s.mu.Lock()
	sta, tr, done, closed := s.sta, s.tr, s.done, s.closed
	if sta == nil || closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	since := tr.mark()
	go func() {
		defer s.wg.Done()
		if err := netlink.LinkSetUp(sta); err != nil {
			if ev, ok := tr.settle(since, err.Error()); ok {
				s.emit(ev)
			}
			return
		}
		if s.reportExistingAddress(sta) {
			return
		}

		timeout := s.cfg.connectTimeout()
		select {
		case <-done:
			return
		case <-clock.WallClock.After(timeout):
		}
		if ev, ok := tr.settle(since, "no address within "+timeout.String()); ok {
			s.emit(ev)
		}
	}()
}

// Close ends the subscriptions and waits for in-flight work.
func (s *Substrate) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.done != nil {
		close(s.done)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Substrate) pump(done <-chan struct{}, linkCh <-chan netlink.LinkUpdate,
	addrCh <-chan netlink.AddrUpdate, neighCh <-chan netlink.NeighUpdate,
) {
	for {
		var (
			ev apsta.Event
			ok bool
		)
		select {
		case <-done:
			return
		case upd, open := <-linkCh:
			if !open {
				return
			}
			ev, ok = s.tr.link(upd)
		case upd, open := <-addrCh:
			if !open {
				return
			}
			ev, ok = s.tr.addr(upd)
		case upd, open := <-neighCh:
			if !open {
				return
			}
			ev, ok = s.tr.neigh(upd)
		}
		if ok {
			s.emit(ev)
		}
	}
}

// reportExistingAddress emits StationGotAddress for the first usable IPv4
// address on link. The supervisor treats a repeat as a refresh.
func (s *Substrate) reportExistingAddress(link netlink.Link) bool {
	addrs, err := netlink.AddrList(link, unix.AF_INET)
	if err != nil {
		s.log.Debug("list station addresses", "err", err)
		return false
	}
	for _, a := range addrs {
		if ip, ok := usableIPv4(a.IP); ok {
			s.emit(s.tr.gotAddress(ip))
			return true
		}
	}
	return false
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

func linkByName(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil, fmt.Errorf("interface %q not found", name)
		}
		return nil, fmt.Errorf("get interface %q: %w", name, err)
	}
	return link, nil
}

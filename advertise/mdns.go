// Package advertise announces the request endpoint over mDNS once the
// station holds an address.
package advertise

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"apsta/internal/logging"

	"github.com/enbility/zeroconf/v3"
)

const (
	ServiceType = "_http._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Config describes what is advertised.
type Config struct {
	// Instance is the service instance name, usually derived from the hosted
	// network's SSID.
	Instance string
	// Interface restricts advertisement to one interface. Empty means all.
	Interface string
	Port      int
	Version   string
	Paths     []string
}

// Advertiser keeps at most one registration alive, tied to the station's
// current address.
type Advertiser struct {
	cfg      Config
	register registerFunc
	log      *slog.Logger

	mu      sync.Mutex
	current server
	addr    netip.Addr
}

// New creates an advertiser.
func New(cfg Config) *Advertiser {
	return &Advertiser{
		cfg:      cfg,
		register: zeroconfRegister,
		log:      logging.Component("mdns"),
	}
}

// Advertise registers the service for addr, replacing any registration for a
// different address. Re-advertising the same address is a no-op.
func (a *Advertiser) Advertise(addr netip.Addr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && a.addr == addr {
		return nil
	}
	a.stopLocked()

	srv, err := a.register(
		InstanceName(a.cfg.Instance),
		ServiceType,
		Domain,
		a.cfg.Port,
		a.txt(addr),
		a.interfaces(),
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.current = srv
	a.addr = addr
	a.log.Info("advertising endpoint", "instance", InstanceName(a.cfg.Instance), "ip", addr, "port", a.cfg.Port)
	return nil
}

// Stop withdraws the registration, if any.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Advertiser) stopLocked() {
	if a.current == nil {
		return
	}
	a.current.Shutdown()
	a.current = nil
	a.log.Info("withdrew endpoint advertisement", "ip", a.addr)
	a.addr = netip.Addr{}
}

func (a *Advertiser) txt(addr netip.Addr) []string {
	txt := []string{"ip=" + addr.String()}
	if a.cfg.Version != "" {
		txt = append(txt, "version="+a.cfg.Version)
	}
	if len(a.cfg.Paths) > 0 {
		txt = append(txt, "paths="+strings.Join(a.cfg.Paths, ","))
	}
	return txt
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		a.log.Debug("advertise on all interfaces", "interface", a.cfg.Interface, "err", err)
		return nil
	}
	return []net.Interface{*iface}
}

// InstanceName turns name into a DNS-SD instance label: spaces become dashes,
// dots are dropped and the result is cut to MaxInstanceNameLen bytes.
func InstanceName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "apsta"
	}
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, ".", "")
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// PortFromListen extracts the port from a listen address such as ":80".
func PortFromListen(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("listen address %q has no usable port", listen)
	}
	return port, nil
}

// Package netlinkhost is the Linux substrate. It configures the hosted
// network's address over netlink and turns link, address and neighbour
// updates into lifecycle events.
package netlinkhost

import (
	"fmt"
	"net/netip"
	"time"
)

const defaultConnectTimeout = 15 * time.Second

// Config names the interfaces for both roles.
type Config struct {
	APInterface      string
	StationInterface string
	// APPrefix is the static host address of the hosted network.
	APPrefix netip.Prefix
	// Upstream labels StationConnected events, usually the station SSID.
	Upstream string
	// ConnectTimeout bounds how long a connect attempt waits for an address
	// before it is reported as failed. Zero means 15s.
	ConnectTimeout time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (c Config) validate() error {
	if c.APInterface == "" || c.StationInterface == "" {
		return fmt.Errorf("both interface names are required")
	}
	if c.APInterface == c.StationInterface {
		return fmt.Errorf("access point and station share interface %q", c.APInterface)
	}
	if !c.APPrefix.IsValid() {
		return fmt.Errorf("invalid access point prefix")
	}
	return nil
}

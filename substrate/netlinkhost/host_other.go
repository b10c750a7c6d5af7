//go:build !linux

package netlinkhost

import (
	"context"
	"errors"
	"fmt"

	"apsta/substrate"
)

var errUnsupported = errors.New("netlink substrate requires linux")

// Substrate is unavailable off Linux; Init always fails.
type Substrate struct {
	cfg Config
}

var _ substrate.Substrate = (*Substrate)(nil)

// New creates a substrate whose Init reports the platform as unsupported.
func New(cfg Config) *Substrate {
	return &Substrate{cfg: cfg}
}

func (s *Substrate) Init(context.Context, substrate.EventSink) error {
	return fmt.Errorf("%w: %w", substrate.ErrInit, errUnsupported)
}

func (s *Substrate) Start(context.Context) error {
	return errUnsupported
}

func (s *Substrate) Connect() {}

func (s *Substrate) Close() error {
	return nil
}

// Package substrate defines the contract between the device core and the
// radio/driver layer that produces lifecycle events.
package substrate

import (
	"context"
	"errors"

	"apsta"
)

// ErrInit marks a failure bringing up the network stack. It is fatal to
// startup; no component can operate without the substrate.
var ErrInit = errors.New("substrate initialization failed")

// EventSink receives one event per call. It must return quickly.
type EventSink func(apsta.Event)

// Substrate is the network stack underneath the device.
type Substrate interface {
	// Init configures addressing for the hosted network and registers sink
	// as the event callback. Errors wrap ErrInit.
	Init(ctx context.Context, sink EventSink) error
	// Start brings both roles up. StationStarted follows asynchronously.
	Start(ctx context.Context) error
	// Connect asks the station to associate. It never blocks; the outcome is
	// reported through the sink.
	Connect()
	Close() error
}

package central

import (
	"context"
	"time"
)

// EventSink receives adapter and peripheral callbacks. Central implements it.
type EventSink interface {
	Post(ev Event)
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	Timeout time.Duration
}

// Controller is the platform adapter and peripheral control surface consumed by
// the central. Every request method must return without waiting for the radio:
// the outcome is delivered later through the EventSink, echoing the Request.
// A non-nil error return means the request was rejected synchronously.
//
// The ctx passed to request methods is cancelled when the issuing pipeline gives
// up on the request (timeout, teardown, rediscovery). Backends should abandon the
// work and must not post a result for a cancelled request.
type Controller interface {
	// SetDelegate installs the sink for all callbacks. Called once before Enable.
	SetDelegate(sink EventSink)

	// Enable initialises the adapter. The resulting adapter state is reported
	// through an AdapterStateChanged event, not through the error, which is
	// reserved for unrecoverable setup problems.
	Enable(ctx context.Context) error

	// RegisterForConnectionEvents asks the platform to report peers matching
	// the service signature as ConnectionEvents.
	RegisterForConnectionEvents(signature []string) error

	Connect(ctx context.Context, req Request, opts ConnectOptions) error
	CancelConnection(peer PeerID) error

	DiscoverServices(ctx context.Context, req Request, filter []string) error
	DiscoverCharacteristics(ctx context.Context, req Request, filter []string, svc ServiceDescriptor) error
	SetNotifyValue(ctx context.Context, req Request, enabled bool, char CharacteristicDescriptor) error
}

package central

import "time"

// PeerID is the stable opaque identity of a peripheral (platform address or
// CoreBluetooth identifier). Names never take part in identity.
type PeerID string

// PeerInfo is what a backend knows about a peer when it reports a connection event.
type PeerInfo struct {
	ID   PeerID
	Name string
}

// Request ties an asynchronous controller call to the pipeline that issued it.
// Backends must echo it unchanged in the matching callback event.
type Request struct {
	Peer  PeerID
	Token uint64
}

// ServiceDescriptor describes a discovered GATT service.
type ServiceDescriptor struct {
	Peer PeerID
	UUID string
	Ref  any // backend handle
}

// CharacteristicDescriptor describes a discovered GATT characteristic.
type CharacteristicDescriptor struct {
	Peer       PeerID
	UUID       string
	Service    ServiceDescriptor
	Properties string
	Ref        any // backend handle
}

// Event is anything delivered to the central event loop.
type Event interface {
	isEvent()
}

// ConnectionEventKind classifies a ConnectionEvent.
type ConnectionEventKind int

const (
	PeerConnected ConnectionEventKind = iota
	PeerDisconnected
	PeerOther
)

func (k ConnectionEventKind) String() string {
	switch k {
	case PeerConnected:
		return "peer_connected"
	case PeerDisconnected:
		return "peer_disconnected"
	default:
		return "other"
	}
}

// AdapterStateChanged reports a new adapter state. Reason is only meaningful
// for StateUnauthorized.
type AdapterStateChanged struct {
	State  AdapterState
	Reason AuthReason
}

// ConnectionEvent reports a peer lifecycle signal matching the registered signature.
type ConnectionEvent struct {
	Kind ConnectionEventKind
	Peer PeerInfo
}

// PeripheralConnected is the successful completion of Controller.Connect.
type PeripheralConnected struct {
	Req Request
}

// PeripheralConnectFailed is the failed completion of Controller.Connect.
type PeripheralConnectFailed struct {
	Req Request
	Err error
}

// ServicesDiscovered completes Controller.DiscoverServices.
type ServicesDiscovered struct {
	Req      Request
	Services []ServiceDescriptor
	Err      error
}

// CharacteristicsDiscovered completes Controller.DiscoverCharacteristics.
type CharacteristicsDiscovered struct {
	Req             Request
	Service         ServiceDescriptor
	Characteristics []CharacteristicDescriptor
	Err             error
}

// NotificationStateUpdated completes Controller.SetNotifyValue.
type NotificationStateUpdated struct {
	Req            Request
	Characteristic CharacteristicDescriptor
	Enabled        bool
	Err            error
}

// ValueUpdated carries a notification received on a subscribed characteristic.
// Req is the request of the SetNotifyValue call that enabled it.
type ValueUpdated struct {
	Req            Request
	Characteristic CharacteristicDescriptor
	Value          []byte
	Err            error
}

// ServicesModified reports that the peripheral's GATT database changed.
// An empty Invalidated list means the backend cannot tell which services changed.
type ServicesModified struct {
	Peer        PeerID
	Invalidated []ServiceDescriptor
}

// stageTimeout is posted by a pipeline's stage timer.
type stageTimeout struct {
	Req   Request
	Stage Stage
}

// command runs fn on the event loop and sends its result to reply.
type command struct {
	fn    func() error
	reply chan error
}

func (AdapterStateChanged) isEvent()       {}
func (ConnectionEvent) isEvent()           {}
func (PeripheralConnected) isEvent()       {}
func (PeripheralConnectFailed) isEvent()   {}
func (ServicesDiscovered) isEvent()        {}
func (CharacteristicsDiscovered) isEvent() {}
func (NotificationStateUpdated) isEvent()  {}
func (ValueUpdated) isEvent()              {}
func (ServicesModified) isEvent()          {}
func (stageTimeout) isEvent()              {}
func (command) isEvent()                   {}

// StatusEvent is published on the status channel for every adapter condition
// and per-peripheral failure.
type StatusEvent struct {
	Time time.Time
	Peer PeerID // empty for adapter-level conditions
	Err  error
}

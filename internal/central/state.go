package central

// AdapterState mirrors the platform adapter states reported to a central manager.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "powered_off"
	case StatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// AuthReason qualifies StateUnauthorized.
type AuthReason int

const (
	AuthOther AuthReason = iota
	AuthRestricted
	AuthDenied
)

func (r AuthReason) String() string {
	switch r {
	case AuthRestricted:
		return "restricted"
	case AuthDenied:
		return "denied"
	default:
		return "other"
	}
}

// ConnectionState is the link state of a registered peripheral.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage is the position of a peripheral's discovery pipeline.
type Stage int

const (
	AwaitingConnection Stage = iota
	AwaitingServices
	AwaitingCharacteristics
	AwaitingSubscriptionAck
	Subscribed
	Failed
)

func (s Stage) String() string {
	switch s {
	case AwaitingConnection:
		return "awaiting_connection"
	case AwaitingServices:
		return "awaiting_services"
	case AwaitingCharacteristics:
		return "awaiting_characteristics"
	case AwaitingSubscriptionAck:
		return "awaiting_subscription_ack"
	case Subscribed:
		return "subscribed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StageInfo is an immutable snapshot of a pipeline's position.
type StageInfo struct {
	Peer           PeerID
	Stage          Stage
	Err            error  // set when Stage == Failed
	Service        string // chosen service UUID, empty until discovered
	Characteristic string // chosen characteristic UUID, empty until discovered
}

// Change flags which views were modified by a dispatched event.
type Change uint8

const (
	ChangeAdapter Change = 1 << iota
	ChangePeripherals
	ChangeLog
	ChangeStage
)

// Has reports whether all bits of flag are set.
func (c Change) Has(flag Change) bool {
	return c&flag == flag
}

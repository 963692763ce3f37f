package central

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNotReady        = errors.New("adapter not ready")
	ErrTimeout         = errors.New("timeout")
	ErrEmptyResult     = errors.New("no matching attributes discovered")
	ErrServicesChanged = errors.New("peripheral services changed")
	ErrUnknownPeer     = errors.New("unknown peripheral")
	ErrRowOutOfRange   = errors.New("row out of range")
	ErrStopped         = errors.New("central stopped")
)

// AdapterUnavailableError reports an adapter that is resetting, unsupported,
// powered off or in an unknown state.
type AdapterUnavailableError struct {
	State AdapterState
}

func (e *AdapterUnavailableError) Error() string {
	return fmt.Sprintf("adapter unavailable: %s", e.State)
}

// Is makes every AdapterUnavailableError match ErrNotReady.
func (e *AdapterUnavailableError) Is(target error) bool {
	return target == ErrNotReady
}

// AuthorizationDeniedError reports an unauthorized adapter with its sub-reason.
type AuthorizationDeniedError struct {
	Reason AuthReason
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("bluetooth authorization %s", e.Reason)
}

// Is makes every AuthorizationDeniedError match ErrNotReady.
func (e *AuthorizationDeniedError) Is(target error) bool {
	return target == ErrNotReady
}

// ConnectionFailedError reports a connect attempt that failed or timed out.
type ConnectionFailedError struct {
	Peer  PeerID
	Cause error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Peer, e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Cause
}

// DiscoveryFailedError reports a service or characteristic discovery that
// returned an error, an empty result, or timed out.
type DiscoveryFailedError struct {
	Peer  PeerID
	Stage Stage
	Cause error
}

func (e *DiscoveryFailedError) Error() string {
	what := "service"
	if e.Stage == AwaitingCharacteristics {
		what = "characteristic"
	}
	return fmt.Sprintf("%s discovery failed for %s: %v", what, e.Peer, e.Cause)
}

func (e *DiscoveryFailedError) Unwrap() error {
	return e.Cause
}

// SubscriptionFailedError reports a rejected notification subscription.
type SubscriptionFailedError struct {
	Peer  PeerID
	Cause error
}

func (e *SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscription failed for %s: %v", e.Peer, e.Cause)
}

func (e *SubscriptionFailedError) Unwrap() error {
	return e.Cause
}

// stageError wraps cause in the error type owned by stage.
func stageError(peer PeerID, stage Stage, cause error) error {
	switch stage {
	case AwaitingConnection:
		return &ConnectionFailedError{Peer: peer, Cause: cause}
	case AwaitingServices, AwaitingCharacteristics:
		return &DiscoveryFailedError{Peer: peer, Stage: stage, Cause: cause}
	case AwaitingSubscriptionAck:
		return &SubscriptionFailedError{Peer: peer, Cause: cause}
	default:
		return cause
	}
}

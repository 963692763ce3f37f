package central

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// AdapterMonitor tracks adapter availability and gates connection-event
// registration. Non-ready states are never fatal: they are logged, published on
// the status channel, and the central stays idle until the next PoweredOn.
type AdapterMonitor struct {
	ctrl      Controller
	logger    *logrus.Logger
	signature []string

	state      AdapterState
	reason     AuthReason
	registered bool

	// onLost runs when the adapter leaves PoweredOn.
	onLost func()
	report func(peer PeerID, err error)
}

func newAdapterMonitor(ctrl Controller, logger *logrus.Logger, signature []string, report func(PeerID, error), onLost func()) *AdapterMonitor {
	return &AdapterMonitor{
		ctrl:      ctrl,
		logger:    logger,
		signature: signature,
		state:     StateUnknown,
		report:    report,
		onLost:    onLost,
	}
}

// State returns the last reported adapter state and authorization reason.
func (a *AdapterMonitor) State() (AdapterState, AuthReason) {
	return a.state, a.reason
}

// IsReady reports whether the adapter is PoweredOn.
func (a *AdapterMonitor) IsReady() bool {
	return a.state == StatePoweredOn
}

// OnAdapterStateChanged applies a new adapter state. Entering PoweredOn
// registers for connection events once; leaving it tears down peer state.
func (a *AdapterMonitor) OnAdapterStateChanged(state AdapterState, reason AuthReason) {
	prev := a.state
	a.state = state
	a.reason = AuthOther
	if state == StateUnauthorized {
		a.reason = reason
	}

	fields := logrus.Fields{"state": state, "previous": prev}

	switch state {
	case StatePoweredOn:
		a.logger.WithFields(fields).Info("Adapter powered on, registering for connection events")
	case StateResetting:
		a.logger.WithFields(fields).Warn("Connection with the system service was momentarily lost, update imminent")
	case StateUnsupported:
		a.logger.WithFields(fields).Error("Platform does not support the Bluetooth Low Energy central role")
	case StateUnauthorized:
		fields["reason"] = a.reason
		switch a.reason {
		case AuthRestricted:
			a.logger.WithFields(fields).Error("Bluetooth is restricted on this device")
		case AuthDenied:
			a.logger.WithFields(fields).Error("Application is not authorized to use the Bluetooth Low Energy central role")
		default:
			a.logger.WithFields(fields).Error("Bluetooth authorization failed for an unknown reason")
		}
	case StatePoweredOff:
		a.logger.WithFields(fields).Warn("Bluetooth is currently powered off")
	default:
		a.logger.WithFields(fields).Info("Adapter state unknown, waiting for update")
	}

	if prev == StatePoweredOn && state != StatePoweredOn {
		a.registered = false
		if a.onLost != nil {
			a.onLost()
		}
	}

	if state != StatePoweredOn {
		if state != StateUnknown {
			a.report("", a.unavailable())
		}
		return
	}

	if err := a.RegisterInterest(a.signature); err != nil {
		a.logger.WithError(err).Error("Failed to register for connection events")
		a.report("", err)
	}
}

// RegisterInterest registers for connection events matching signature. It is
// a no-op returning the adapter condition unless the adapter is PoweredOn, and
// a no-op returning nil if registration already happened during the current
// PoweredOn period.
func (a *AdapterMonitor) RegisterInterest(signature []string) error {
	if !a.IsReady() {
		err := a.unavailable()
		a.logger.WithField("state", a.state).Warn("Ignoring connection-event registration, adapter not ready")
		return err
	}
	if a.registered {
		a.logger.Debug("Connection events already registered for this power cycle")
		return nil
	}

	if err := a.ctrl.RegisterForConnectionEvents(signature); err != nil {
		return fmt.Errorf("failed to register for connection events: %w", err)
	}
	a.registered = true
	a.logger.WithField("signature", signature).Info("Registered for connection events")
	return nil
}

// unavailable returns the typed error describing the current non-ready state.
func (a *AdapterMonitor) unavailable() error {
	if a.state == StateUnauthorized {
		return &AuthorizationDeniedError{Reason: a.reason}
	}
	return &AdapterUnavailableError{State: a.state}
}

package tinygo

import (
	"errors"
	"strings"

	"github.com/srg/blimon/internal/central"
)

var (
	ErrNotConnected     = errors.New("device not connected")
	ErrAlreadyConnected = errors.New("device already connected")
	ErrUnknownHandle    = errors.New("descriptor does not belong to the tinygo backend")
)

// AdapterStateFromError maps adapter enable and scan failures to the adapter
// state they imply. Returns StateUnknown when err carries no state.
func AdapterStateFromError(err error) central.AdapterState {
	if err == nil {
		return central.StateUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	// D-Bus not found, or running without org.bluez
	case strings.Contains(msg, "dbus") && strings.HasSuffix(msg, "no such file or directory"),
		strings.Contains(msg, "org.bluez was not provided"),
		strings.Contains(msg, "no bluetooth adapter"):
		return central.StateUnsupported
	case strings.Contains(msg, "not powered"), strings.Contains(msg, "powered off"),
		strings.Contains(msg, "org.bluez.error.notready"):
		return central.StatePoweredOff
	case strings.Contains(msg, "not authorized"), strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "operation not permitted"):
		return central.StateUnauthorized
	}
	return central.StateUnknown
}

// AdapterErrorHelpMessage explains how to fix an unsupported adapter.
func AdapterErrorHelpMessage(err error) string {
	return "Failed to initialize BLE adapter: \n\t" + err.Error() + "\n" +
		"Make sure bluez and dbus are installed and running.\n" +
		"If running in a container, make sure the container has access to the host's D-Bus socket. (e.g. -v /var/run/dbus:/var/run/dbus)"
}

package main

import (
	"errors"
	"fmt"

	"github.com/srg/blimon/internal/backend/goble"
	"github.com/srg/blimon/internal/backend/tinygo"
	"github.com/srg/blimon/internal/central"
)

// FormatUserError turns adapter errors into messages a user can act on.
// Pipeline errors already name the peer and stage and are returned as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var denied *central.AuthorizationDeniedError
	var unavailable *central.AdapterUnavailableError

	switch {
	case errors.As(err, &denied):
		return fmt.Sprintf("Bluetooth access is %s: grant this application Bluetooth permission", denied.Reason)
	case errors.As(err, &unavailable):
		switch unavailable.State {
		case central.StatePoweredOff:
			return "Bluetooth is turned off: turn it on to start monitoring"
		case central.StateUnsupported:
			return "this machine has no usable Bluetooth LE adapter"
		case central.StateResetting:
			return "Bluetooth adapter is resetting, waiting for it to come back"
		default:
			return fmt.Sprintf("Bluetooth adapter is not ready (%s)", unavailable.State)
		}
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off: turn it on to start monitoring"
	case errors.Is(err, goble.ErrUnsupportedPlatform):
		return "the go-ble backend does not support this platform, try --backend tinygo"
	case tinygo.AdapterStateFromError(err) == central.StateUnsupported:
		return tinygo.AdapterErrorHelpMessage(err)
	case errors.Is(err, central.ErrRowOutOfRange):
		return "no peripheral at the selected row"
	}
	return err.Error()
}

package goble

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/srg/blimon/internal/central"
)

// Error definitions
var (
	ErrBluetoothOff        = errors.New("bluetooth is turned off")
	ErrNotConnected        = errors.New("device not connected")
	ErrAlreadyConnected    = errors.New("device already connected")
	ErrUnsupportedPlatform = errors.New("go-ble backend is not supported on this platform")
	ErrUnknownHandle       = errors.New("descriptor does not belong to the go-ble backend")
)

// go-ble reports CoreBluetooth manager states as "have=N want=5"
var invalidStateRe = regexp.MustCompile(`central manager has invalid state: have=(\d+)`)

// NormalizeError maps known go-ble error strings to sentinel errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case AdapterStateFromError(err) == central.StatePoweredOff:
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// AdapterStateFromError extracts the adapter state from a go-ble device
// creation or scan error. Returns StateUnknown when err carries no state.
func AdapterStateFromError(err error) central.AdapterState {
	if err == nil {
		return central.StateUnknown
	}
	if errors.Is(err, ErrBluetoothOff) {
		return central.StatePoweredOff
	}

	msg := err.Error()
	if m := invalidStateRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch code {
		case 1:
			return central.StateResetting
		case 2:
			return central.StateUnsupported
		case 3:
			return central.StateUnauthorized
		case 4:
			return central.StatePoweredOff
		case 5:
			return central.StatePoweredOn
		default:
			return central.StateUnknown
		}
	}

	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return central.StatePoweredOff
	case containsIgnoreCase(msg, "operation not permitted"), containsIgnoreCase(msg, "permission denied"):
		return central.StateUnauthorized
	case errors.Is(err, ErrUnsupportedPlatform), containsIgnoreCase(msg, "no such device"):
		return central.StateUnsupported
	}
	return central.StateUnknown
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blimon/internal/backend/goble"
	"github.com/srg/blimon/internal/central"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{
			"powered off",
			&central.AdapterUnavailableError{State: central.StatePoweredOff},
			"Bluetooth is turned off: turn it on to start monitoring",
		},
		{
			"unsupported",
			&central.AdapterUnavailableError{State: central.StateUnsupported},
			"this machine has no usable Bluetooth LE adapter",
		},
		{
			"denied",
			&central.AuthorizationDeniedError{Reason: central.AuthDenied},
			"Bluetooth access is denied: grant this application Bluetooth permission",
		},
		{
			"go-ble bluetooth off",
			fmt.Errorf("failed to create BLE device: %w", goble.ErrBluetoothOff),
			"Bluetooth is turned off: turn it on to start monitoring",
		},
		{
			"row out of range",
			fmt.Errorf("%w: row 3 of 1", central.ErrRowOutOfRange),
			"no peripheral at the selected row",
		},
		{
			"pipeline failure",
			&central.ConnectionFailedError{Peer: "p1", Cause: central.ErrTimeout},
			"connection to p1 failed: timeout",
		},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatUserError_TinyGoAdapterHelp(t *testing.T) {
	err := errors.New("The name org.bluez was not provided by any .service files")
	assert.Contains(t, FormatUserError(err), "Make sure bluez and dbus are installed and running.")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

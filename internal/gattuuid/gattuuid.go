// Package gattuuid normalizes, compares and formats GATT UUID strings.
//
// UUIDs travel through the central as strings so that every backend can use its
// own UUID type. Normalize gives the canonical comparison form: lowercase hex,
// no dashes, braces or 0x prefix, and Bluetooth SIG base UUIDs shortened to their
// 16-bit form.
package gattuuid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// Normalize converts a UUID string to the canonical comparison form.
// Returns "" if uuid is not valid hex of a 16, 32 or 128-bit length.
func Normalize(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "{")
	u = strings.TrimSuffix(u, "}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	for _, r := range u {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}

	switch len(u) {
	case 4, 8:
	case 32:
		// 0000xxxx-0000-1000-8000-00805f9b34fb -> xxxx
		if strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
			return u[4:8]
		}
	default:
		return ""
	}
	return u
}

// NormalizeAll normalizes every UUID of the list, dropping invalid ones.
func NormalizeAll(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := Normalize(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ErrNoUUIDs is returned by Validate when called without arguments.
var ErrNoUUIDs = errors.New("no UUID given")

// InvalidUUIDError identifies the argument of Validate that was rejected.
type InvalidUUIDError struct {
	Index int
	Value string
}

func (e *InvalidUUIDError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("uuid #%d is empty", e.Index)
	}
	return fmt.Sprintf("uuid #%d %q is not a 16, 32 or 128-bit UUID", e.Index, e.Value)
}

// Validate returns uuids in canonical form. The first empty or malformed
// entry is reported as *InvalidUUIDError.
func Validate(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, ErrNoUUIDs
	}
	out := NormalizeAll(uuids)
	if len(out) == len(uuids) {
		return out, nil
	}
	for i, u := range uuids {
		if Normalize(u) == "" {
			return nil, &InvalidUUIDError{Index: i, Value: u}
		}
	}
	return out, nil
}

// Equal compares two UUID strings in canonical form.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Display formats a UUID the way platform tools print it: uppercase short form
// for SIG UUIDs, uppercase dashed form for 128-bit UUIDs.
func Display(uuid string) string {
	n := Normalize(uuid)
	if n == "" {
		return uuid
	}
	n = strings.ToUpper(n)
	if len(n) == 32 {
		return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32]
	}
	return n
}

// KnownName returns the Bluetooth SIG assigned name for uuid, or "".
func KnownName(uuid string) string {
	u, err := ble.Parse(Normalize(uuid))
	if err != nil {
		return ""
	}
	return ble.Name(u)
}

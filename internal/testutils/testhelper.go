package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreateMockPeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}

// CreateTargetPeripheral creates a peripheral exposing the default monitored
// service and characteristic.
func CreateTargetPeripheral(id, name string) *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithID(id).
		WithName(name).
		WithService("AAAA").
		WithCharacteristic("BBBB", "read,notify")
}

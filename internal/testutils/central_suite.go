package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/central"
	"github.com/stretchr/testify/suite"
)

// CentralSuite provides a reusable test suite driving a central.Central with a
// ScriptedController. The central is not started: tests post events through
// the controller and call Flush to dispatch them on the test goroutine.
//
// Basic usage:
//
//	type PipelineSuite struct {
//	    testutils.CentralSuite
//	}
//
//	func (s *PipelineSuite) SetupTest() {
//	    s.WithPeripheral("p1").
//	        WithService("AAAA").
//	        WithCharacteristic("BBBB", "notify")
//
//	    s.CentralSuite.SetupTest() // Call parent last to apply configuration
//	}
type CentralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Options    *central.Options // nil means central.DefaultOptions()
	Controller *ScriptedController
	Central    *central.Central

	builders []*PeripheralBuilder
}

// SetupSuite is called once before all tests in the suite.
func (s *CentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds the controller and central from the configured peripherals.
func (s *CentralSuite) SetupTest() {
	if s.Helper == nil {
		s.SetupSuite()
	}

	opts := central.DefaultOptions()
	if s.Options != nil {
		opts = *s.Options
	}

	s.Controller = NewScriptedController()
	for _, b := range s.builders {
		s.Controller.AddPeripheral(b.Build())
	}

	c, err := central.New(s.Controller, s.Logger, opts)
	s.Require().NoError(err, "central MUST be created")
	s.Central = c

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the configuration after each test.
func (s *CentralSuite) TearDownTest() {
	s.builders = nil
	s.Options = nil
}

// WithPeripheral starts the configuration of a peripheral served by the controller.
func (s *CentralSuite) WithPeripheral(id string) *PeripheralBuilder {
	b := NewPeripheralBuilder().WithID(id)
	s.builders = append(s.builders, b)
	return b
}

// WithOptions overrides the central options for the next SetupTest.
func (s *CentralSuite) WithOptions(mutate func(o *central.Options)) {
	opts := central.DefaultOptions()
	mutate(&opts)
	s.Options = &opts
}

// Flush dispatches every pending event.
func (s *CentralSuite) Flush() {
	s.Central.Flush()
}

// PowerOn reports a powered-on adapter and dispatches it.
func (s *CentralSuite) PowerOn() {
	s.Controller.PowerOn()
	s.Flush()
}

// Connect reports a PeerConnected event for id and dispatches it.
func (s *CentralSuite) Connect(id central.PeerID) {
	s.Controller.Connected(id)
	s.Flush()
}

// RequireStage asserts the pipeline position of id.
func (s *CentralSuite) RequireStage(id central.PeerID, stage central.Stage) central.StageInfo {
	info, ok := s.Central.Stage(id)
	s.Require().True(ok, "pipeline for %s MUST exist", id)
	s.Require().Equal(stage, info.Stage, "pipeline for %s MUST be %s (err: %v)", id, stage, info.Err)
	return info
}

// EventuallyStage flushes until the pipeline of id reaches stage.
func (s *CentralSuite) EventuallyStage(id central.PeerID, stage central.Stage, timeout time.Duration) {
	s.Require().Eventually(func() bool {
		s.Flush()
		info, ok := s.Central.Stage(id)
		return ok && info.Stage == stage
	}, timeout, 5*time.Millisecond, "pipeline for %s MUST reach %s", id, stage)
}

// Messages returns the event log messages, oldest first.
func (s *CentralSuite) Messages() []string {
	var out []string
	for _, e := range s.Central.Log() {
		out = append(out, e.Message)
	}
	return out
}

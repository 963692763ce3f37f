package tinygo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"tinygo.org/x/bluetooth"
)

type fakeCharacteristic struct {
	uuid bluetooth.UUID

	mu       sync.Mutex
	callback func([]byte)
	disabled int
}

func (c *fakeCharacteristic) UUID() bluetooth.UUID { return c.uuid }

func (c *fakeCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if callback == nil {
		c.disabled++
	}
	c.callback = callback
	return nil
}

func (c *fakeCharacteristic) notify(value []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(value)
	}
}

func (c *fakeCharacteristic) disabledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

type fakeService struct {
	uuid  bluetooth.UUID
	chars []gattCharacteristic
}

func (s *fakeService) UUID() bluetooth.UUID { return s.uuid }

func (s *fakeService) DiscoverCharacteristics(_ []bluetooth.UUID) ([]gattCharacteristic, error) {
	return s.chars, nil
}

type fakePeripheral struct {
	services     []gattService
	disconnected chan struct{}
	once         sync.Once
}

func (p *fakePeripheral) DiscoverServices(_ []bluetooth.UUID) ([]gattService, error) {
	return p.services, nil
}

func (p *fakePeripheral) Disconnect() error {
	p.once.Do(func() { close(p.disconnected) })
	return nil
}

type fakeRadio struct {
	enableErr  error
	connectErr error
	adverts    []advert
	link       *fakePeripheral

	mu         sync.Mutex
	disconnect func(central.PeerID)
	stop       chan struct{}
	stopOnce   sync.Once
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) OnDisconnect(handler func(id central.PeerID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnect = handler
}

func (r *fakeRadio) Scan(_ []bluetooth.UUID, found func(advert)) error {
	for _, adv := range r.adverts {
		found(adv)
	}
	<-r.stop
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (r *fakeRadio) Connect(_ central.PeerID, _ time.Duration) (peripheral, error) {
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.link, nil
}

func (r *fakeRadio) linkLost(id central.PeerID) {
	r.mu.Lock()
	handler := r.disconnect
	r.mu.Unlock()
	handler(id)
}

type recordingSink struct {
	events chan central.Event
}

func (s *recordingSink) Post(ev central.Event) {
	s.events <- ev
}

func waitFor[T central.Event](t *testing.T, s *recordingSink) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

const peer = central.PeerID("AA:BB:CC:DD:EE:FF")

type ControllerSuite struct {
	suite.Suite

	char   *fakeCharacteristic
	radio  *fakeRadio
	sink   *recordingSink
	ctrl   *Controller
	ctx    context.Context
	cancel context.CancelFunc
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.char = &fakeCharacteristic{uuid: bluetooth.New16BitUUID(0xbbbb)}
	s.radio = &fakeRadio{
		stop: make(chan struct{}),
		adverts: []advert{
			{ID: peer, Name: "Thermo", RSSI: -40},
			{ID: peer, Name: "Thermo", RSSI: -41},
		},
		link: &fakePeripheral{
			disconnected: make(chan struct{}),
			services: []gattService{&fakeService{
				uuid:  bluetooth.New16BitUUID(0xaaaa),
				chars: []gattCharacteristic{s.char},
			}},
		},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.sink = &recordingSink{events: make(chan central.Event, 64)}
	s.ctrl = newController(logger, s.radio)
	s.ctrl.SetDelegate(s.sink)
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *ControllerSuite) TearDownTest() {
	s.cancel()
}

func (s *ControllerSuite) enable() {
	s.Require().NoError(s.ctrl.Enable(s.ctx))
	ev := waitFor[central.AdapterStateChanged](s.T(), s.sink)
	s.Require().Equal(central.StatePoweredOn, ev.State)
}

func (s *ControllerSuite) TestScanAnnouncesOncePerLink() {
	// GOAL: Verify a signature peer is reported once, and again only after it disconnects
	//
	// TEST SCENARIO: two adverts → one PeerConnected; link lost → PeerDisconnected; advert → PeerConnected

	s.enable()
	s.Require().NoError(s.ctrl.RegisterForConnectionEvents([]string{"AAAA"}))

	ev := waitFor[central.ConnectionEvent](s.T(), s.sink)
	s.Equal(central.PeerConnected, ev.Kind)
	s.Equal(peer, ev.Peer.ID)
	s.Equal("Thermo", ev.Peer.Name)

	s.radio.linkLost(peer)
	ev = waitFor[central.ConnectionEvent](s.T(), s.sink)
	s.Equal(central.PeerDisconnected, ev.Kind)

	s.ctrl.found(advert{ID: peer, Name: "Thermo"})
	ev = waitFor[central.ConnectionEvent](s.T(), s.sink)
	s.Equal(central.PeerConnected, ev.Kind)
}

func (s *ControllerSuite) TestUnknownDisconnectIsIgnored() {
	s.enable()
	s.radio.linkLost("11:22:33:44:55:66")

	select {
	case ev := <-s.sink.events:
		s.Failf("untracked peer MUST not be reported", "%#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *ControllerSuite) TestPipelineRequests() {
	// GOAL: Verify every request posts its completion with the request echoed
	//
	// TEST SCENARIO: connect → services → characteristics → subscribe → value → cancel disables notifications

	s.enable()

	req := central.Request{Peer: peer, Token: 1}
	s.Require().NoError(s.ctrl.Connect(context.Background(), req, central.ConnectOptions{Timeout: time.Second}))
	connected := waitFor[central.PeripheralConnected](s.T(), s.sink)
	s.Equal(req, connected.Req)

	req.Token = 2
	s.Require().NoError(s.ctrl.DiscoverServices(context.Background(), req, []string{"AAAA"}))
	services := waitFor[central.ServicesDiscovered](s.T(), s.sink)
	s.Require().NoError(services.Err)
	s.Require().Len(services.Services, 1)
	s.Equal("0000aaaa-0000-1000-8000-00805f9b34fb", services.Services[0].UUID)

	req.Token = 3
	s.Require().NoError(s.ctrl.DiscoverCharacteristics(context.Background(), req, []string{"BBBB"}, services.Services[0]))
	chars := waitFor[central.CharacteristicsDiscovered](s.T(), s.sink)
	s.Require().NoError(chars.Err)
	s.Require().Len(chars.Characteristics, 1)

	req.Token = 4
	subCtx, unsubscribe := context.WithCancel(context.Background())
	s.Require().NoError(s.ctrl.SetNotifyValue(subCtx, req, true, chars.Characteristics[0]))
	ack := waitFor[central.NotificationStateUpdated](s.T(), s.sink)
	s.NoError(ack.Err)
	s.True(ack.Enabled)

	s.char.notify([]byte{0x01, 0x02})
	value := waitFor[central.ValueUpdated](s.T(), s.sink)
	s.Equal(req, value.Req)
	s.Equal([]byte{0x01, 0x02}, value.Value)

	unsubscribe()
	s.Eventually(func() bool { return s.char.disabledCount() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *ControllerSuite) TestConnectFailure() {
	s.radio.connectErr = errors.New("connection timeout")
	s.enable()

	req := central.Request{Peer: peer, Token: 1}
	s.Require().NoError(s.ctrl.Connect(context.Background(), req, central.ConnectOptions{}))

	ev := waitFor[central.PeripheralConnectFailed](s.T(), s.sink)
	s.Equal(req, ev.Req)
	s.ErrorContains(ev.Err, "connection timeout")

	err := s.ctrl.DiscoverServices(context.Background(), req, nil)
	s.ErrorIs(err, ErrNotConnected)
}

func (s *ControllerSuite) TestCancelConnection() {
	s.enable()
	req := central.Request{Peer: peer, Token: 1}
	s.Require().NoError(s.ctrl.Connect(context.Background(), req, central.ConnectOptions{}))
	waitFor[central.PeripheralConnected](s.T(), s.sink)

	s.NoError(s.ctrl.CancelConnection(peer))
	select {
	case <-s.radio.link.disconnected:
	default:
		s.Fail("CancelConnection MUST disconnect the link")
	}
	s.NoError(s.ctrl.CancelConnection("unknown"))
}

func (s *ControllerSuite) TestRequestsBeforeEnable() {
	s.ErrorIs(s.ctrl.RegisterForConnectionEvents([]string{"AAAA"}), central.ErrNotReady)
	s.ErrorIs(s.ctrl.Connect(context.Background(), central.Request{Peer: peer}, central.ConnectOptions{}), central.ErrNotReady)
}

func (s *ControllerSuite) TestEnableReportsAdapterState() {
	s.radio.enableErr = errors.New("dbus: dial unix /var/run/dbus/system_bus_socket: no such file or directory")

	s.Require().NoError(s.ctrl.Enable(s.ctx))
	ev := waitFor[central.AdapterStateChanged](s.T(), s.sink)
	s.Equal(central.StateUnsupported, ev.State)
}

func (s *ControllerSuite) TestEnableFailsOnUnknownError() {
	s.radio.enableErr = errors.New("boom")
	s.ErrorContains(s.ctrl.Enable(s.ctx), "failed to enable BLE adapter")
}

func TestAdapterStateFromError(t *testing.T) {
	assert.Equal(t, central.StateUnknown, AdapterStateFromError(nil))
	assert.Equal(t, central.StateUnsupported,
		AdapterStateFromError(errors.New("The name org.bluez was not provided by any .service files")))
	assert.Equal(t, central.StatePoweredOff, AdapterStateFromError(errors.New("org.bluez.Error.NotReady: Resource Not Ready")))
	assert.Equal(t, central.StateUnauthorized, AdapterStateFromError(errors.New("permission denied")))
	assert.Equal(t, central.StateUnknown, AdapterStateFromError(errors.New("boom")))
}

func TestParseUUIDs(t *testing.T) {
	uuids, err := parseUUIDs([]string{"AAAA", "0000BBBB-0000-1000-8000-00805F9B34FB", "12345678"})
	require.NoError(t, err)
	require.Len(t, uuids, 3)
	assert.Equal(t, bluetooth.New16BitUUID(0xaaaa), uuids[0])
	assert.Equal(t, bluetooth.New16BitUUID(0xbbbb), uuids[1])
	assert.Equal(t, "12345678-0000-1000-8000-00805f9b34fb", uuids[2].String())

	none, err := parseUUIDs(nil)
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseUUIDs([]string{"xyz"})
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "0000180f-0000-1000-8000-00805f9b34fb", expand("180f"))
	assert.Equal(t,
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		expand("6e400001b5a3f393e0a9e50e24dcca9e"))
}

package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/gattuuid"
)

// Controller operation names recorded by ScriptedController.
const (
	OpRegister                = "register"
	OpConnect                 = "connect"
	OpCancelConnection        = "cancel_connection"
	OpDiscoverServices        = "discover_services"
	OpDiscoverCharacteristics = "discover_characteristics"
	OpSetNotifyValue          = "set_notify_value"
)

// ErrUnknownMockPeripheral is returned for requests about unconfigured peers.
var ErrUnknownMockPeripheral = errors.New("mock peripheral is not configured")

// Call is one recorded controller invocation.
type Call struct {
	Op     string
	Req    central.Request
	Filter []string

	Service        central.ServiceDescriptor        // DiscoverCharacteristics
	Characteristic central.CharacteristicDescriptor // SetNotifyValue
}

type heldRequest struct {
	ctx     context.Context
	req     central.Request
	respond func()
}

// ScriptedController is a central.Controller that answers every request
// synchronously from the configured peripheral profiles by posting the
// matching callback event to the delegate.
type ScriptedController struct {
	mu          sync.Mutex
	sink        central.EventSink
	peripherals map[central.PeerID]*MockPeripheral
	calls       []Call
	held        map[central.PeerID]heldRequest
	notify      map[central.PeerID]central.Request

	// EnableState is posted when Enable is called. StateUnknown posts nothing.
	EnableState central.AdapterState
	EnableErr   error
	RegisterErr error
}

// NewScriptedController creates a controller serving the given peripherals.
func NewScriptedController(peripherals ...*MockPeripheral) *ScriptedController {
	c := &ScriptedController{
		peripherals: make(map[central.PeerID]*MockPeripheral),
		held:        make(map[central.PeerID]heldRequest),
		notify:      make(map[central.PeerID]central.Request),
		EnableState: central.StatePoweredOn,
	}
	for _, p := range peripherals {
		c.AddPeripheral(p)
	}
	return c
}

// AddPeripheral registers a peripheral profile.
func (c *ScriptedController) AddPeripheral(p *MockPeripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peripherals[p.PeerID()] = p
}

func (c *ScriptedController) SetDelegate(sink central.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *ScriptedController) Enable(_ context.Context) error {
	if c.EnableErr != nil {
		return c.EnableErr
	}
	if c.EnableState != central.StateUnknown {
		c.post(central.AdapterStateChanged{State: c.EnableState})
	}
	return nil
}

func (c *ScriptedController) RegisterForConnectionEvents(signature []string) error {
	c.record(Call{Op: OpRegister, Filter: signature})
	return c.RegisterErr
}

func (c *ScriptedController) Connect(ctx context.Context, req central.Request, _ central.ConnectOptions) error {
	c.record(Call{Op: OpConnect, Req: req})
	p, err := c.peripheral(req.Peer)
	if err != nil {
		return err
	}

	c.answer(ctx, p, central.AwaitingConnection, req, func() {
		if err := p.failures[central.AwaitingConnection]; err != nil {
			c.post(central.PeripheralConnectFailed{Req: req, Err: err})
			return
		}
		c.post(central.PeripheralConnected{Req: req})
	})
	return nil
}

func (c *ScriptedController) CancelConnection(peer central.PeerID) error {
	c.record(Call{Op: OpCancelConnection, Req: central.Request{Peer: peer}})
	c.mu.Lock()
	delete(c.held, peer)
	c.mu.Unlock()
	return nil
}

func (c *ScriptedController) DiscoverServices(ctx context.Context, req central.Request, filter []string) error {
	c.record(Call{Op: OpDiscoverServices, Req: req, Filter: filter})
	p, err := c.peripheral(req.Peer)
	if err != nil {
		return err
	}

	c.answer(ctx, p, central.AwaitingServices, req, func() {
		if err := p.failures[central.AwaitingServices]; err != nil {
			c.post(central.ServicesDiscovered{Req: req, Err: err})
			return
		}
		var services []central.ServiceDescriptor
		for _, svc := range p.Services {
			if matches(svc.UUID, filter) {
				services = append(services, central.ServiceDescriptor{Peer: req.Peer, UUID: svc.UUID, Ref: svc})
			}
		}
		c.post(central.ServicesDiscovered{Req: req, Services: services})
	})
	return nil
}

func (c *ScriptedController) DiscoverCharacteristics(ctx context.Context, req central.Request, filter []string, svc central.ServiceDescriptor) error {
	c.record(Call{Op: OpDiscoverCharacteristics, Req: req, Filter: filter, Service: svc})
	p, err := c.peripheral(req.Peer)
	if err != nil {
		return err
	}

	c.answer(ctx, p, central.AwaitingCharacteristics, req, func() {
		if err := p.failures[central.AwaitingCharacteristics]; err != nil {
			c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Err: err})
			return
		}
		var chars []central.CharacteristicDescriptor
		if cfg, ok := p.service(svc); ok {
			for _, ch := range cfg.Characteristics {
				if matches(ch.UUID, filter) {
					chars = append(chars, central.CharacteristicDescriptor{
						Peer:       req.Peer,
						UUID:       ch.UUID,
						Service:    svc,
						Properties: ch.Properties,
						Ref:        ch,
					})
				}
			}
		}
		c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Characteristics: chars})
	})
	return nil
}

func (c *ScriptedController) SetNotifyValue(ctx context.Context, req central.Request, enabled bool, char central.CharacteristicDescriptor) error {
	c.record(Call{Op: OpSetNotifyValue, Req: req, Filter: []string{char.UUID}, Characteristic: char})
	p, err := c.peripheral(req.Peer)
	if err != nil {
		return err
	}

	c.answer(ctx, p, central.AwaitingSubscriptionAck, req, func() {
		if err := p.failures[central.AwaitingSubscriptionAck]; err != nil {
			c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: enabled, Err: err})
			return
		}

		c.mu.Lock()
		c.notify[req.Peer] = req
		c.mu.Unlock()

		if !p.implicit {
			c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: enabled})
		}
		for _, v := range p.Values {
			c.post(central.ValueUpdated{Req: req, Characteristic: char, Value: v})
		}
	})
	return nil
}

// answer runs respond now, or parks it when the stage is held.
func (c *ScriptedController) answer(ctx context.Context, p *MockPeripheral, stage central.Stage, req central.Request, respond func()) {
	if p.held[stage] {
		c.mu.Lock()
		c.held[req.Peer] = heldRequest{ctx: ctx, req: req, respond: respond}
		c.mu.Unlock()
		return
	}
	respond()
}

// Release answers the parked request of peer. It reports false when nothing
// is parked or the issuer already gave up on the request.
func (c *ScriptedController) Release(peer central.PeerID) bool {
	c.mu.Lock()
	h, ok := c.held[peer]
	delete(c.held, peer)
	c.mu.Unlock()

	if !ok || h.ctx.Err() != nil {
		return false
	}
	h.respond()
	return true
}

// HeldRequest returns the parked request of peer.
func (c *ScriptedController) HeldRequest(peer central.PeerID) (central.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.held[peer]
	return h.req, ok
}

// Notify delivers a value on the current subscription of peer.
func (c *ScriptedController) Notify(peer central.PeerID, value []byte) bool {
	c.mu.Lock()
	req, ok := c.notify[peer]
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.post(central.ValueUpdated{Req: req, Value: value})
	return true
}

// Subscription returns the request that enabled notifications for peer.
func (c *ScriptedController) Subscription(peer central.PeerID) (central.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.notify[peer]
	return req, ok
}

// PowerOn reports a powered-on adapter.
func (c *ScriptedController) PowerOn() {
	c.post(central.AdapterStateChanged{State: central.StatePoweredOn})
}

// SetAdapterState reports an arbitrary adapter state.
func (c *ScriptedController) SetAdapterState(state central.AdapterState, reason central.AuthReason) {
	c.post(central.AdapterStateChanged{State: state, Reason: reason})
}

// Connected reports a PeerConnected connection event for a configured peripheral.
func (c *ScriptedController) Connected(peer central.PeerID) {
	c.mu.Lock()
	info := central.PeerInfo{ID: peer}
	if p, ok := c.peripherals[peer]; ok {
		info = p.Info()
	}
	c.mu.Unlock()
	c.post(central.ConnectionEvent{Kind: central.PeerConnected, Peer: info})
}

// Disconnected reports a PeerDisconnected connection event.
func (c *ScriptedController) Disconnected(peer central.PeerID) {
	c.mu.Lock()
	delete(c.notify, peer)
	c.mu.Unlock()
	c.post(central.ConnectionEvent{Kind: central.PeerDisconnected, Peer: central.PeerInfo{ID: peer}})
}

// Other reports a PeerOther connection event, a lifecycle signal that is
// neither a connect nor a disconnect.
func (c *ScriptedController) Other(peer central.PeerID) {
	c.mu.Lock()
	delete(c.notify, peer)
	c.mu.Unlock()
	c.post(central.ConnectionEvent{Kind: central.PeerOther, Peer: central.PeerInfo{ID: peer}})
}

// ModifyServices reports a GATT database change on peer.
func (c *ScriptedController) ModifyServices(peer central.PeerID, invalidated ...string) {
	ev := central.ServicesModified{Peer: peer}
	for _, u := range invalidated {
		ev.Invalidated = append(ev.Invalidated, central.ServiceDescriptor{Peer: peer, UUID: u})
	}
	c.post(ev)
}

// Calls returns the recorded calls of the given operation, or all calls when
// op is empty.
func (c *ScriptedController) Calls(op string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// CallCount returns how many times op was invoked for peer ("" for any peer).
func (c *ScriptedController) CallCount(op string, peer central.PeerID) int {
	n := 0
	for _, call := range c.Calls(op) {
		if peer == "" || call.Req.Peer == peer {
			n++
		}
	}
	return n
}

func (c *ScriptedController) peripheral(peer central.PeerID) (*MockPeripheral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peripherals[peer]
	if !ok {
		return nil, ErrUnknownMockPeripheral
	}
	return p, nil
}

func (c *ScriptedController) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *ScriptedController) post(ev central.Event) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink.Post(ev)
	}
}

func matches(uuid string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if gattuuid.Equal(uuid, f) {
			return true
		}
	}
	return false
}

var _ central.Controller = (*ScriptedController)(nil)

// Package tinygo implements central.Controller on top of tinygo.org/x/bluetooth.
//
// Like the go-ble backend, interest in a service signature is a filtered
// scan. Link loss comes from the adapter connect handler. tinygo reports no
// characteristic properties, so descriptors carry none.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// Controller drives a tinygo bluetooth adapter.
type Controller struct {
	logger *logrus.Logger
	radio  radio

	mu      sync.RWMutex
	sink    central.EventSink
	ctx     context.Context
	enabled bool

	scanning  atomic.Bool
	clients   *hashmap.Map[central.PeerID, peripheral]
	announced *hashmap.Map[central.PeerID, string]
}

// NewController creates a controller for the default adapter.
func NewController(logger *logrus.Logger) *Controller {
	return newController(logger, newAdapterRadio(bluetooth.DefaultAdapter))
}

func newController(logger *logrus.Logger, r radio) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		logger:    logger,
		radio:     r,
		clients:   hashmap.New[central.PeerID, peripheral](),
		announced: hashmap.New[central.PeerID, string](),
	}
}

func (c *Controller) SetDelegate(sink central.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *Controller) post(ev central.Event) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		sink.Post(ev)
	}
}

// Enable turns the adapter on. Failures that describe an adapter condition
// are posted as adapter states; anything else is returned.
func (c *Controller) Enable(ctx context.Context) error {
	if err := c.radio.Enable(); err != nil {
		state := AdapterStateFromError(err)
		if state == central.StateUnknown {
			return fmt.Errorf("failed to enable BLE adapter: %w", err)
		}
		c.logger.WithError(err).WithField("state", state).Warn("BLE adapter unavailable")
		c.post(central.AdapterStateChanged{State: state})
		return nil
	}

	c.radio.OnDisconnect(c.onDisconnect)

	c.mu.Lock()
	c.ctx = ctx
	c.enabled = true
	c.mu.Unlock()

	groutine.Go(ctx, "tinygo-lifetime", func(ctx context.Context) {
		<-ctx.Done()
		c.shutdown()
	})

	c.logger.Debug("BLE adapter enabled")
	c.post(central.AdapterStateChanged{State: central.StatePoweredOn})
	return nil
}

func (c *Controller) shutdown() {
	if c.scanning.Load() {
		c.stopScan()
	}
	c.clients.Range(func(id central.PeerID, p peripheral) bool {
		if err := p.Disconnect(); err != nil {
			c.logger.WithError(err).WithField("peer", id).Debug("Failed to disconnect on shutdown")
		}
		return true
	})
}

func (c *Controller) lifetime() (context.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return nil, fmt.Errorf("%w: adapter is not enabled", central.ErrNotReady)
	}
	return c.ctx, nil
}

func (c *Controller) onDisconnect(id central.PeerID) {
	_, wasClient := c.clients.Get(id)
	c.clients.Del(id)
	_, wasAnnounced := c.announced.Get(id)
	c.announced.Del(id)
	if !wasClient && !wasAnnounced {
		return
	}

	c.logger.WithField("peer", id).Info("Peripheral disconnected")
	c.post(central.ConnectionEvent{Kind: central.PeerDisconnected, Peer: central.PeerInfo{ID: id}})
}

// RegisterForConnectionEvents starts a scan filtered on the signature
// services. A scan already running keeps serving the new registration.
func (c *Controller) RegisterForConnectionEvents(signature []string) error {
	ctx, err := c.lifetime()
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(signature)
	if err != nil {
		return err
	}
	if !c.scanning.CompareAndSwap(false, true) {
		return nil
	}

	groutine.Go(ctx, "tinygo-scan", func(ctx context.Context) {
		defer c.scanning.Store(false)

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				c.stopScan()
			case <-done:
			}
		}()

		c.logger.WithField("signature", signature).Info("Scanning for peripherals")
		err := c.radio.Scan(uuids, c.found)
		if err == nil || ctx.Err() != nil {
			c.logger.Debug("Scan stopped")
			return
		}

		c.logger.WithError(err).Error("Scan failed")
		if state := AdapterStateFromError(err); state != central.StateUnknown {
			c.post(central.AdapterStateChanged{State: state})
		}
	})
	return nil
}

func (c *Controller) stopScan() {
	if err := c.radio.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
		c.logger.WithError(err).Warn("Failed to stop scan")
	}
}

// found reports a signature peer once until it disconnects.
func (c *Controller) found(adv advert) {
	if _, loaded := c.announced.GetOrInsert(adv.ID, adv.Name); loaded {
		return
	}
	c.logger.WithFields(logrus.Fields{"peer": adv.ID, "name": adv.Name, "rssi": adv.RSSI}).
		Debug("Peripheral advertising signature service")
	c.post(central.ConnectionEvent{
		Kind: central.PeerConnected,
		Peer: central.PeerInfo{ID: adv.ID, Name: adv.Name},
	})
}

func (c *Controller) Connect(ctx context.Context, req central.Request, opts central.ConnectOptions) error {
	if _, err := c.lifetime(); err != nil {
		return err
	}
	if _, ok := c.clients.Get(req.Peer); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, req.Peer)
	}

	groutine.Go(ctx, "tinygo-connect", func(ctx context.Context) {
		logger := c.logger.WithField("peer", req.Peer)
		logger.Debug("Connecting to peripheral")

		// tinygo Connect cannot be interrupted; it ends on its own timeout.
		p, err := c.radio.Connect(req.Peer, opts.Timeout)
		if ctx.Err() != nil {
			if p != nil {
				_ = p.Disconnect()
			}
			logger.Debug("Connect abandoned")
			return
		}
		if err != nil {
			c.post(central.PeripheralConnectFailed{Req: req, Err: err})
			return
		}

		c.clients.Set(req.Peer, p)
		c.post(central.PeripheralConnected{Req: req})
	})
	return nil
}

func (c *Controller) CancelConnection(peer central.PeerID) error {
	p, ok := c.clients.Get(peer)
	if !ok {
		return nil
	}
	return p.Disconnect()
}

func (c *Controller) client(peer central.PeerID) (peripheral, error) {
	p, ok := c.clients.Get(peer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, peer)
	}
	return p, nil
}

func (c *Controller) DiscoverServices(ctx context.Context, req central.Request, filter []string) error {
	p, err := c.client(req.Peer)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	groutine.Go(ctx, "tinygo-discover-services", func(ctx context.Context) {
		services, err := p.DiscoverServices(uuids)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(central.ServicesDiscovered{Req: req, Err: err})
			return
		}

		out := make([]central.ServiceDescriptor, 0, len(services))
		for _, s := range services {
			out = append(out, central.ServiceDescriptor{Peer: req.Peer, UUID: s.UUID().String(), Ref: s})
		}
		c.post(central.ServicesDiscovered{Req: req, Services: out})
	})
	return nil
}

func (c *Controller) DiscoverCharacteristics(ctx context.Context, req central.Request, filter []string, svc central.ServiceDescriptor) error {
	if _, err := c.client(req.Peer); err != nil {
		return err
	}
	service, ok := svc.Ref.(gattService)
	if !ok {
		return ErrUnknownHandle
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	groutine.Go(ctx, "tinygo-discover-characteristics", func(ctx context.Context) {
		chars, err := service.DiscoverCharacteristics(uuids)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Err: err})
			return
		}

		out := make([]central.CharacteristicDescriptor, 0, len(chars))
		for _, ch := range chars {
			out = append(out, central.CharacteristicDescriptor{
				Peer:    req.Peer,
				UUID:    ch.UUID().String(),
				Service: svc,
				Ref:     ch,
			})
		}
		c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Characteristics: out})
	})
	return nil
}

// SetNotifyValue enables notifications on char for as long as ctx lives.
func (c *Controller) SetNotifyValue(ctx context.Context, req central.Request, enabled bool, char central.CharacteristicDescriptor) error {
	if _, err := c.client(req.Peer); err != nil {
		return err
	}
	ch, ok := char.Ref.(gattCharacteristic)
	if !ok {
		return ErrUnknownHandle
	}

	groutine.Go(ctx, "tinygo-subscribe", func(ctx context.Context) {
		if !enabled {
			err := ch.EnableNotifications(nil)
			if ctx.Err() == nil {
				c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: false, Err: err})
			}
			return
		}

		err := ch.EnableNotifications(func(buf []byte) {
			if ctx.Err() != nil {
				return
			}
			value := make([]byte, len(buf))
			copy(value, buf)
			c.post(central.ValueUpdated{Req: req, Characteristic: char, Value: value})
		})
		if ctx.Err() != nil {
			if err == nil {
				_ = ch.EnableNotifications(nil)
			}
			return
		}
		if err != nil {
			c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Err: err})
			return
		}
		c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: true})

		<-ctx.Done()
		if _, connected := c.clients.Get(req.Peer); connected {
			if err := ch.EnableNotifications(nil); err != nil {
				c.logger.WithError(err).WithField("peer", req.Peer).Debug("Failed to disable notifications")
			}
		}
	})
	return nil
}

var _ central.Controller = (*Controller)(nil)

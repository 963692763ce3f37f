// Package goble implements central.Controller on top of github.com/go-ble/ble.
//
// go-ble has no system-level connection-event registration, so interest in a
// service signature is expressed as a filtered scan: every peer advertising a
// signature service is reported once as PeerConnected, and reported as
// PeerDisconnected when its client link drops. Platform calls block, so each
// request runs in a named goroutine and posts its result to the delegate.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/gattuuid"
	"github.com/srg/blimon/internal/groutine"
	"github.com/srg/blimon/internal/ringchan"
)

// DefaultAdvertisementBuffer is the size of the queue between the scan
// handler and the connection-event reporter.
const DefaultAdvertisementBuffer = 64

// Controller drives a go-ble device.
type Controller struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	sink   central.EventSink
	device ble.Device
	ctx    context.Context
	cancel context.CancelFunc

	clients   *hashmap.Map[central.PeerID, ble.Client]
	announced *hashmap.Map[central.PeerID, string]
	adverts   *ringchan.RingChannel[ble.Advertisement]
}

// NewController creates a go-ble controller. The device is created on Enable.
func NewController(logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		logger:    logger,
		clients:   hashmap.New[central.PeerID, ble.Client](),
		announced: hashmap.New[central.PeerID, string](),
		adverts:   ringchan.New[ble.Advertisement](DefaultAdvertisementBuffer),
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

// Enable creates the platform device. Adapter conditions reported by go-ble
// while creating it (powered off, unauthorized...) are posted as adapter
// states; anything else is returned.
func (c *Controller) Enable(ctx context.Context) error {
	dev, err := DeviceFactory()
	if err != nil {
		state := AdapterStateFromError(err)
		if state == central.StateUnknown {
			return fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
		}
		c.logger.WithError(err).WithField("state", state).Warn("BLE device unavailable")
		c.post(central.AdapterStateChanged{State: state})
		return nil
	}

	ble.SetDefaultDevice(dev)

	lifetime, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.device = dev
	c.ctx = lifetime
	c.cancel = cancel
	c.mu.Unlock()

	groutine.Go(lifetime, "goble-lifetime", func(ctx context.Context) {
		<-ctx.Done()
		c.shutdown()
	})

	c.logger.Debug("BLE device created")
	c.post(central.AdapterStateChanged{State: central.StatePoweredOn})
	return nil
}

func (c *Controller) shutdown() {
	c.adverts.Close()
	c.clients.Range(func(id central.PeerID, client ble.Client) bool {
		if err := client.CancelConnection(); err != nil {
			c.logger.WithError(err).WithField("peer", id).Debug("Failed to cancel connection on shutdown")
		}
		return true
	})

	c.mu.RLock()
	dev := c.device
	c.mu.RUnlock()
	if dev != nil {
		if err := dev.Stop(); err != nil {
			c.logger.WithError(err).Debug("Failed to stop BLE device")
		}
	}
}

func (c *Controller) state() (ble.Device, context.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.device == nil {
		return nil, nil, fmt.Errorf("%w: device is not enabled", central.ErrNotReady)
	}
	return c.device, c.ctx, nil
}

// RegisterForConnectionEvents starts a scan filtered on the signature services.
func (c *Controller) RegisterForConnectionEvents(signature []string) error {
	dev, ctx, err := c.state()
	if err != nil {
		return err
	}

	uuids, err := parseUUIDs(signature)
	if err != nil {
		return err
	}

	groutine.Go(ctx, "goble-announcer", c.announce)
	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		c.logger.WithField("signature", signature).Info("Scanning for peripherals")

		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			if advertises(adv, uuids) {
				c.adverts.ForceSend(adv)
			}
		})
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
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

// announce turns queued advertisements into PeerConnected events, once per
// peer until it disconnects.
func (c *Controller) announce(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case adv, ok := <-c.adverts.C():
			if !ok {
				return
			}
			id := central.PeerID(adv.Addr().String())
			if _, loaded := c.announced.GetOrInsert(id, adv.LocalName()); loaded {
				continue
			}
			c.logger.WithFields(logrus.Fields{"peer": id, "name": adv.LocalName(), "rssi": adv.RSSI()}).
				Debug("Peripheral advertising signature service")
			c.post(central.ConnectionEvent{
				Kind: central.PeerConnected,
				Peer: central.PeerInfo{ID: id, Name: adv.LocalName()},
			})
		}
	}
}

func (c *Controller) Connect(ctx context.Context, req central.Request, opts central.ConnectOptions) error {
	dev, _, err := c.state()
	if err != nil {
		return err
	}
	if _, ok := c.clients.Get(req.Peer); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, req.Peer)
	}

	groutine.Go(ctx, "goble-connect", func(ctx context.Context) {
		dialCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		logger := c.logger.WithField("peer", req.Peer)
		logger.Debug("Dialing peripheral")

		client, err := dev.Dial(dialCtx, ble.NewAddr(string(req.Peer)))
		if ctx.Err() != nil {
			if client != nil {
				_ = client.CancelConnection()
			}
			logger.Debug("Connect abandoned")
			return
		}
		if err != nil {
			c.post(central.PeripheralConnectFailed{Req: req, Err: NormalizeError(err)})
			return
		}

		c.clients.Set(req.Peer, client)
		groutine.Go(c.lifetime(), "goble-link-watch", func(ctx context.Context) {
			c.watch(ctx, req.Peer, client)
		})
		c.post(central.PeripheralConnected{Req: req})
	})
	return nil
}

func (c *Controller) lifetime() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// watch reports PeerDisconnected when the client link drops.
func (c *Controller) watch(ctx context.Context, peer central.PeerID, client ble.Client) {
	select {
	case <-ctx.Done():
		return
	case <-client.Disconnected():
	}

	if current, ok := c.clients.Get(peer); ok && current == client {
		c.clients.Del(peer)
	}
	c.announced.Del(peer)

	c.logger.WithField("peer", peer).Info("Peripheral disconnected")
	c.post(central.ConnectionEvent{Kind: central.PeerDisconnected, Peer: central.PeerInfo{ID: peer}})
}

func (c *Controller) CancelConnection(peer central.PeerID) error {
	client, ok := c.clients.Get(peer)
	if !ok {
		// A pending Dial is abandoned through its request context.
		return nil
	}
	return NormalizeError(client.CancelConnection())
}

func (c *Controller) client(peer central.PeerID) (ble.Client, error) {
	client, ok := c.clients.Get(peer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, peer)
	}
	return client, nil
}

func (c *Controller) DiscoverServices(ctx context.Context, req central.Request, filter []string) error {
	client, err := c.client(req.Peer)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	groutine.Go(ctx, "goble-discover-services", func(ctx context.Context) {
		services, err := client.DiscoverServices(uuids)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(central.ServicesDiscovered{Req: req, Err: NormalizeError(err)})
			return
		}

		out := make([]central.ServiceDescriptor, 0, len(services))
		for _, s := range services {
			out = append(out, central.ServiceDescriptor{Peer: req.Peer, UUID: s.UUID.String(), Ref: s})
		}
		c.post(central.ServicesDiscovered{Req: req, Services: out})
	})
	return nil
}

func (c *Controller) DiscoverCharacteristics(ctx context.Context, req central.Request, filter []string, svc central.ServiceDescriptor) error {
	client, err := c.client(req.Peer)
	if err != nil {
		return err
	}
	bleSvc, ok := svc.Ref.(*ble.Service)
	if !ok {
		return ErrUnknownHandle
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	groutine.Go(ctx, "goble-discover-characteristics", func(ctx context.Context) {
		chars, err := client.DiscoverCharacteristics(uuids, bleSvc)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Err: NormalizeError(err)})
			return
		}

		out := make([]central.CharacteristicDescriptor, 0, len(chars))
		for _, ch := range chars {
			out = append(out, central.CharacteristicDescriptor{
				Peer:       req.Peer,
				UUID:       ch.UUID.String(),
				Service:    svc,
				Properties: propertyString(ch.Property),
				Ref:        ch,
			})
		}
		c.post(central.CharacteristicsDiscovered{Req: req, Service: svc, Characteristics: out})
	})
	return nil
}

// SetNotifyValue subscribes to char. The subscription lives as long as ctx:
// cancelling it unsubscribes, and notifications arriving after cancellation
// are dropped.
func (c *Controller) SetNotifyValue(ctx context.Context, req central.Request, enabled bool, char central.CharacteristicDescriptor) error {
	client, err := c.client(req.Peer)
	if err != nil {
		return err
	}
	bleChar, ok := char.Ref.(*ble.Characteristic)
	if !ok {
		return ErrUnknownHandle
	}

	groutine.Go(ctx, "goble-subscribe", func(ctx context.Context) {
		if !enabled {
			err := NormalizeError(client.Unsubscribe(bleChar, false))
			if ctx.Err() == nil {
				c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: false, Err: err})
			}
			return
		}

		// Subscribe writes the CCCD, which linux only knows after descriptor discovery.
		if bleChar.CCCD == nil {
			if _, err := client.DiscoverDescriptors(nil, bleChar); err != nil {
				if ctx.Err() == nil {
					c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Err: NormalizeError(err)})
				}
				return
			}
		}

		err := client.Subscribe(bleChar, false, func(data []byte) {
			if ctx.Err() != nil {
				return
			}
			value := make([]byte, len(data))
			copy(value, data)
			c.post(central.ValueUpdated{Req: req, Characteristic: char, Value: value})
		})
		if ctx.Err() != nil {
			if err == nil {
				_ = client.Unsubscribe(bleChar, false)
			}
			return
		}
		if err != nil {
			c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Err: NormalizeError(err)})
			return
		}

		c.post(central.NotificationStateUpdated{Req: req, Characteristic: char, Enabled: true})

		<-ctx.Done()
		if _, connected := c.clients.Get(req.Peer); connected {
			if err := client.Unsubscribe(bleChar, false); err != nil {
				c.logger.WithError(err).WithField("peer", req.Peer).Debug("Failed to unsubscribe")
			}
		}
	})
	return nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	normalized, err := gattuuid.Validate(uuids...)
	if err != nil {
		return nil, err
	}
	out := make([]ble.UUID, 0, len(normalized))
	for _, u := range normalized {
		parsed, err := ble.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func advertises(adv ble.Advertisement, uuids []ble.UUID) bool {
	for _, have := range adv.Services() {
		for _, want := range uuids {
			if have.Equal(want) {
				return true
			}
		}
	}
	return false
}

var _ central.Controller = (*Controller)(nil)

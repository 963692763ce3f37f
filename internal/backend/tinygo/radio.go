package tinygo

import (
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/gattuuid"
	"tinygo.org/x/bluetooth"
)

// advert is a scan result carrying a signature service.
type advert struct {
	ID   central.PeerID
	Name string
	RSSI int
}

// radio is the slice of the tinygo adapter used by the controller.
type radio interface {
	Enable() error
	OnDisconnect(handler func(id central.PeerID))
	Scan(signature []bluetooth.UUID, found func(advert)) error
	StopScan() error
	Connect(id central.PeerID, timeout time.Duration) (peripheral, error)
}

type peripheral interface {
	DiscoverServices(uuids []bluetooth.UUID) ([]gattService, error)
	Disconnect() error
}

type gattService interface {
	UUID() bluetooth.UUID
	DiscoverCharacteristics(uuids []bluetooth.UUID) ([]gattCharacteristic, error)
}

type gattCharacteristic interface {
	UUID() bluetooth.UUID
	EnableNotifications(callback func(buf []byte)) error
}

// adapterRadio drives a tinygo bluetooth.Adapter. Addresses seen during the
// scan are remembered so that Connect can dial by peer ID on every platform:
// a MAC on linux, a CoreBluetooth UUID on darwin.
type adapterRadio struct {
	adapter   *bluetooth.Adapter
	addresses *hashmap.Map[central.PeerID, bluetooth.Address]
}

func newAdapterRadio(adapter *bluetooth.Adapter) *adapterRadio {
	return &adapterRadio{
		adapter:   adapter,
		addresses: hashmap.New[central.PeerID, bluetooth.Address](),
	}
}

func (r *adapterRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *adapterRadio) OnDisconnect(handler func(id central.PeerID)) {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		handler(central.PeerID(device.Address.String()))
	})
}

func (r *adapterRadio) Scan(signature []bluetooth.UUID, found func(advert)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		for _, uuid := range signature {
			if result.HasServiceUUID(uuid) {
				id := central.PeerID(result.Address.String())
				r.addresses.Set(id, result.Address)
				found(advert{ID: id, Name: result.LocalName(), RSSI: int(result.RSSI)})
				return
			}
		}
	})
}

func (r *adapterRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *adapterRadio) Connect(id central.PeerID, timeout time.Duration) (peripheral, error) {
	addr, ok := r.addresses.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s was never seen by the scan", central.ErrUnknownPeer, id)
	}

	params := bluetooth.ConnectionParams{}
	if timeout > 0 {
		params.ConnectionTimeout = bluetooth.NewDuration(timeout)
	}

	device, err := r.adapter.Connect(addr, params)
	if err != nil {
		return nil, err
	}
	return &deviceLink{device: device}, nil
}

type deviceLink struct {
	device bluetooth.Device
}

func (l *deviceLink) DiscoverServices(uuids []bluetooth.UUID) ([]gattService, error) {
	services, err := l.device.DiscoverServices(uuids)
	if err != nil {
		return nil, err
	}
	out := make([]gattService, 0, len(services))
	for i := range services {
		out = append(out, &serviceLink{service: services[i]})
	}
	return out, nil
}

func (l *deviceLink) Disconnect() error {
	return l.device.Disconnect()
}

type serviceLink struct {
	service bluetooth.DeviceService
}

func (s *serviceLink) UUID() bluetooth.UUID {
	return s.service.UUID()
}

func (s *serviceLink) DiscoverCharacteristics(uuids []bluetooth.UUID) ([]gattCharacteristic, error) {
	chars, err := s.service.DiscoverCharacteristics(uuids)
	if err != nil {
		return nil, err
	}
	out := make([]gattCharacteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &characteristicLink{char: chars[i]})
	}
	return out, nil
}

type characteristicLink struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristicLink) UUID() bluetooth.UUID {
	return c.char.UUID()
}

func (c *characteristicLink) EnableNotifications(callback func(buf []byte)) error {
	return c.char.EnableNotifications(callback)
}

// parseUUIDs converts UUID strings of any accepted form to tinygo UUIDs.
// tinygo only parses the dashed 128-bit form, so short SIG UUIDs are expanded
// onto the Bluetooth base UUID first.
func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	normalized, err := gattuuid.Validate(uuids...)
	if err != nil {
		return nil, err
	}

	out := make([]bluetooth.UUID, 0, len(normalized))
	for _, u := range normalized {
		parsed, err := bluetooth.ParseUUID(expand(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// expand turns a normalized UUID into the dashed 128-bit form.
func expand(normalized string) string {
	u := normalized
	switch len(u) {
	case 4:
		u = "0000" + u + "00001000800000805f9b34fb"
	case 8:
		u = u + "00001000800000805f9b34fb"
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
}

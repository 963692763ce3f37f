package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/gattuuid"
)

// CharacteristicConfig represents a GATT characteristic of a mocked peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify"
}

// ServiceConfig represents a GATT service of a mocked peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfile is the complete description of a mocked peripheral
type PeripheralProfile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Services []ServiceConfig `json:"services"`

	// Values are delivered as notifications right after a successful subscription.
	Values [][]byte `json:"values,omitempty"`
}

// MockPeripheral is a built peripheral, consumed by ScriptedController.
type MockPeripheral struct {
	PeripheralProfile

	failures map[central.Stage]error
	held     map[central.Stage]bool
	implicit bool
}

// PeerID returns the peripheral identity.
func (p *MockPeripheral) PeerID() central.PeerID {
	return central.PeerID(p.ID)
}

// Info returns what a backend would report in a connection event.
func (p *MockPeripheral) Info() central.PeerInfo {
	return central.PeerInfo{ID: p.PeerID(), Name: p.Name}
}

// service resolves a discovered service descriptor back to its profile entry.
// Descriptors produced by ScriptedController carry the entry as Ref; others
// fall back to the first service with the same UUID.
func (p *MockPeripheral) service(svc central.ServiceDescriptor) (ServiceConfig, bool) {
	if cfg, ok := svc.Ref.(ServiceConfig); ok {
		return cfg, true
	}
	for _, s := range p.Services {
		if gattuuid.Equal(s.UUID, svc.UUID) {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// PeripheralBuilder builds mocked peripherals with services, characteristics
// and scripted failures.
type PeripheralBuilder struct {
	profile  PeripheralProfile
	failures map[central.Stage]error
	held     map[central.Stage]bool
	implicit bool
}

// NewPeripheralBuilder creates a new peripheral builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		profile:  PeripheralProfile{Services: []ServiceConfig{}},
		failures: map[central.Stage]error{},
		held:     map[central.Stage]bool{},
	}
}

// WithID sets the peripheral identity
func (b *PeripheralBuilder) WithID(id string) *PeripheralBuilder {
	b.profile.ID = id
	return b
}

// WithName sets the advertised name
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// WithNotifications queues values delivered right after the subscription is acknowledged
func (b *PeripheralBuilder) WithNotifications(values ...[]byte) *PeripheralBuilder {
	b.profile.Values = append(b.profile.Values, values...)
	return b
}

// FailAt makes the request of the given stage complete with err
func (b *PeripheralBuilder) FailAt(stage central.Stage, err error) *PeripheralBuilder {
	b.failures[stage] = err
	return b
}

// HoldAt makes the request of the given stage stay unanswered until
// ScriptedController.Release is called for it.
func (b *PeripheralBuilder) HoldAt(stage central.Stage) *PeripheralBuilder {
	b.held[stage] = true
	return b
}

// WithoutSubscriptionAck skips the notification-state callback, so only the
// first value update acknowledges the subscription.
func (b *PeripheralBuilder) WithoutSubscriptionAck() *PeripheralBuilder {
	b.implicit = true
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var profile PeripheralProfile
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = profile
	return b
}

// Build creates the mocked peripheral
func (b *PeripheralBuilder) Build() *MockPeripheral {
	if b.profile.ID == "" {
		panic("PeripheralBuilder.Build: peripheral ID is required")
	}

	p := &MockPeripheral{
		PeripheralProfile: b.profile,
		failures:          make(map[central.Stage]error, len(b.failures)),
		held:              make(map[central.Stage]bool, len(b.held)),
		implicit:          b.implicit,
	}
	for k, v := range b.failures {
		p.failures[k] = v
	}
	for k, v := range b.held {
		p.held[k] = v
	}
	return p
}

package central

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultDisplayName is shown for peripherals that did not report a name.
const DefaultDisplayName = "Peripheral"

// Peripheral is a registered peer handle.
type Peripheral struct {
	ID    PeerID          `json:"id"`
	Name  string          `json:"name,omitempty"`
	State ConnectionState `json:"state"`
}

// DisplayName returns Name, or DefaultDisplayName when the peer has none.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return DefaultDisplayName
	}
	return p.Name
}

// Registry is the insertion-ordered set of connected peripherals keyed by PeerID.
// Presentation reads it most recent first; rows are resolved to identities
// through that reversed view at selection time.
//
// Registry is not safe for concurrent use; it is owned by the event loop.
type Registry struct {
	peers *orderedmap.OrderedMap[PeerID, *Peripheral]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: orderedmap.New[PeerID, *Peripheral]()}
}

// Append inserts p at the most recent position and marks it Connected.
// If p.ID is already registered the entry keeps its position, a non-empty
// name replaces the stored one, and Append returns false.
func (r *Registry) Append(p Peripheral) bool {
	if existing, ok := r.peers.Get(p.ID); ok {
		if p.Name != "" {
			existing.Name = p.Name
		}
		return false
	}
	p.State = Connected
	r.peers.Set(p.ID, &p)
	return true
}

// RemoveByID removes the peripheral with the given identity. Removing an
// absent identity is a no-op.
func (r *Registry) RemoveByID(id PeerID) (Peripheral, bool) {
	p, ok := r.peers.Delete(id)
	if !ok {
		return Peripheral{}, false
	}
	removed := *p
	removed.State = Disconnected
	return removed, true
}

// Get returns a copy of the registered peripheral.
func (r *Registry) Get(id PeerID) (Peripheral, bool) {
	p, ok := r.peers.Get(id)
	if !ok {
		return Peripheral{}, false
	}
	return *p, true
}

// Count returns the number of registered peripherals.
func (r *Registry) Count() int {
	return r.peers.Len()
}

// ListMostRecentFirst returns a copy of the registry, newest entry first.
func (r *Registry) ListMostRecentFirst() []Peripheral {
	out := make([]Peripheral, 0, r.peers.Len())
	for pair := r.peers.Newest(); pair != nil; pair = pair.Prev() {
		out = append(out, *pair.Value)
	}
	return out
}

// IDs returns the registered identities in insertion order.
func (r *Registry) IDs() []PeerID {
	out := make([]PeerID, 0, r.peers.Len())
	for pair := r.peers.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// IDAtRow resolves a row of the most-recent-first view to an identity.
func (r *Registry) IDAtRow(row int) (PeerID, error) {
	if row < 0 || row >= r.peers.Len() {
		return "", fmt.Errorf("%w: %d (have %d peripherals)", ErrRowOutOfRange, row, r.peers.Len())
	}
	i := 0
	for pair := r.peers.Newest(); pair != nil; pair = pair.Prev() {
		if i == row {
			return pair.Key, nil
		}
		i++
	}
	return "", fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
}

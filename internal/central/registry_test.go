package central

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AppendAndListMostRecentFirst(t *testing.T) {
	// GOAL: Verify the presentation view lists the newest peripheral first
	//
	// TEST SCENARIO: Append p1, p2, p3 → list is p3, p2, p1 and all are Connected

	r := NewRegistry()
	for _, id := range []PeerID{"p1", "p2", "p3"} {
		require.True(t, r.Append(Peripheral{ID: id}), "new identity %s MUST be appended", id)
	}

	list := r.ListMostRecentFirst()
	require.Len(t, list, 3)
	assert.Equal(t, []PeerID{"p3", "p2", "p1"}, []PeerID{list[0].ID, list[1].ID, list[2].ID})
	for _, p := range list {
		assert.Equal(t, Connected, p.State, "registered peripheral MUST be Connected")
	}
	assert.Equal(t, []PeerID{"p1", "p2", "p3"}, r.IDs(), "IDs MUST keep insertion order")
}

func TestRegistry_AppendExistingRefreshesName(t *testing.T) {
	// GOAL: Verify a repeated identity never creates a duplicate entry
	//
	// TEST SCENARIO: Append p1 twice with a new name → one entry, name updated, position kept

	r := NewRegistry()
	r.Append(Peripheral{ID: "p1"})
	r.Append(Peripheral{ID: "p2"})

	assert.False(t, r.Append(Peripheral{ID: "p1", Name: "Thermo"}), "existing identity MUST not be appended again")
	assert.False(t, r.Append(Peripheral{ID: "p1"}), "empty name MUST not clear the stored name")

	assert.Equal(t, 2, r.Count())
	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Thermo", p.Name)

	list := r.ListMostRecentFirst()
	assert.Equal(t, PeerID("p1"), list[1].ID, "refresh MUST keep the original position")
}

func TestRegistry_RemoveByID(t *testing.T) {
	r := NewRegistry()
	r.Append(Peripheral{ID: "p1", Name: "A"})
	r.Append(Peripheral{ID: "p2", Name: "B"})

	removed, ok := r.RemoveByID("p1")
	require.True(t, ok)
	assert.Equal(t, Disconnected, removed.State, "removed peripheral MUST be Disconnected")
	assert.Equal(t, "A", removed.Name)

	_, ok = r.RemoveByID("p1")
	assert.False(t, ok, "removing an absent identity MUST be a no-op")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_NamesDoNotTakePartInIdentity(t *testing.T) {
	r := NewRegistry()
	r.Append(Peripheral{ID: "p1", Name: "Same"})
	r.Append(Peripheral{ID: "p2", Name: "Same"})

	_, ok := r.RemoveByID("p2")
	require.True(t, ok)

	p, ok := r.Get("p1")
	require.True(t, ok, "peripheral with the same name MUST survive removal of another identity")
	assert.Equal(t, "Same", p.Name)
}

func TestRegistry_IDAtRow(t *testing.T) {
	r := NewRegistry()
	r.Append(Peripheral{ID: "p1"})
	r.Append(Peripheral{ID: "p2"})

	id, err := r.IDAtRow(0)
	require.NoError(t, err)
	assert.Equal(t, PeerID("p2"), id, "row 0 MUST resolve to the most recent peripheral")

	id, err = r.IDAtRow(1)
	require.NoError(t, err)
	assert.Equal(t, PeerID("p1"), id)

	_, err = r.IDAtRow(2)
	assert.True(t, errors.Is(err, ErrRowOutOfRange))
	_, err = r.IDAtRow(-1)
	assert.True(t, errors.Is(err, ErrRowOutOfRange))
}

func TestPeripheral_DisplayName(t *testing.T) {
	assert.Equal(t, DefaultDisplayName, Peripheral{ID: "p1"}.DisplayName())
	assert.Equal(t, "Thermo", Peripheral{ID: "p1", Name: "Thermo"}.DisplayName())
}

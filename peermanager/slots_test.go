package peermanager

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// bruteForceSelect returns the live slot containing target by scanning the
// whole table.
func bruteForceSelect(slots []Slot, target uint64) PeerID {
	for _, s := range slots {
		if s.score > 0 && s.contains(target) {
			return s.peerID
		}
	}

	return NoPeer
}

// TestSlotPredicates checks the half open interval predicates.
func TestSlotPredicates(t *testing.T) {
	t.Parallel()

	s := Slot{start: 100, score: 10, peerID: 1}
	require.EqualValues(t, 110, s.Stop())

	require.True(t, s.follows(99))
	require.False(t, s.contains(99))

	require.True(t, s.contains(100))
	require.True(t, s.contains(109))
	require.False(t, s.precedes(109))

	require.False(t, s.contains(110))
	require.True(t, s.precedes(110))
	require.False(t, s.follows(110))
}

// TestSelectPeerBoundaries checks that a point equal to the stop of a slot
// belongs to the next slot.
func TestSelectPeerBoundaries(t *testing.T) {
	t.Parallel()

	var table slotTable
	require.Equal(t, NoPeer, table.selectPeer(0))

	table.insert(10, 0)
	table.insert(20, 1)
	table.insert(5, 2)
	require.EqualValues(t, 35, table.slotCount)

	tests := []struct {
		target   uint64
		expected PeerID
	}{
		{0, 0},
		{9, 0},
		{10, 1},
		{29, 1},
		{30, 2},
		{34, 2},
		{35, NoPeer},
		{1 << 40, NoPeer},
	}
	for _, test := range tests {
		require.Equal(
			t, test.expected, table.selectPeer(test.target),
			"target %d", test.target,
		)
	}

	// A target in the gap of a removed slot selects nothing.
	table.removeAt(1)
	require.Equal(t, NoPeer, table.selectPeer(10))
	require.Equal(t, NoPeer, table.selectPeer(29))
	require.Equal(t, PeerID(2), table.selectPeer(30))
	require.Equal(t, PeerID(0), table.selectPeer(9))

	// The span is still checked against the caller's bound.
	require.Equal(t, NoPeer, selectPeerImpl(table.slots, 5, 5))
	require.Equal(t, PeerID(0), selectPeerImpl(table.slots, 4, 5))
}

// TestSlotRemoval checks the fragmentation accounting of removals.
func TestSlotRemoval(t *testing.T) {
	t.Parallel()

	var table slotTable
	for i := 0; i < 4; i++ {
		table.insert(100, PeerID(i))
	}
	require.NoError(t, table.verify())

	// Removing a slot in the middle leaves a tombstone.
	table.removeAt(1)
	require.EqualValues(t, 400, table.slotCount)
	require.EqualValues(t, 100, table.fragmentation)
	require.Len(t, table.slots, 4)
	require.NoError(t, table.verify())

	table.removeAt(2)
	require.EqualValues(t, 400, table.slotCount)
	require.EqualValues(t, 200, table.fragmentation)
	require.NoError(t, table.verify())

	// Removing the last slot truncates it along with the tombstones in
	// front of it.
	table.removeAt(3)
	require.Len(t, table.slots, 1)
	require.EqualValues(t, 100, table.slotCount)
	require.Zero(t, table.fragmentation)
	require.NoError(t, table.verify())

	table.removeAt(0)
	require.Empty(t, table.slots)
	require.Zero(t, table.slotCount)
	require.Zero(t, table.fragmentation)
	require.NoError(t, table.verify())
}

// TestSlotCompact checks that compaction packs live slots in order.
func TestSlotCompact(t *testing.T) {
	t.Parallel()

	var table slotTable
	table.insert(10, 0)
	table.insert(20, 1)
	table.insert(30, 2)
	table.insert(40, 3)

	require.Zero(t, table.compact(func(PeerID, int) {
		t.Fatal("nothing to reindex")
	}))

	table.removeAt(0)
	table.removeAt(2)

	reindexed := make(map[PeerID]int)
	reclaimed := table.compact(func(id PeerID, i int) {
		reindexed[id] = i
	})
	require.EqualValues(t, 40, reclaimed)
	require.Equal(t, map[PeerID]int{1: 0, 3: 1}, reindexed)
	require.EqualValues(t, 60, table.slotCount)
	require.Zero(t, table.fragmentation)
	require.NoError(t, table.verify())

	for target := uint64(0); target < table.slotCount; target++ {
		require.NotEqual(t, NoPeer, table.selectPeer(target))
	}
	require.Equal(t, PeerID(1), table.selectPeer(19))
	require.Equal(t, PeerID(3), table.selectPeer(20))
}

// TestSlotTableProperties runs random sequences of insertions, removals and
// compactions and checks the table against a linear scan.
func TestSlotTableProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var (
			table  slotTable
			live   = make(map[PeerID]int)
			nextID PeerID
		)

		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			op := rapid.IntRange(0, 9).Draw(t, "op")

			switch {
			case op < 5 || len(live) == 0:
				score := rapid.Uint32Range(1, 1000).Draw(
					t, "score",
				)
				live[nextID] = table.insert(score, nextID)
				nextID++

			case op < 9:
				ids := make([]PeerID, 0, len(live))
				for id := range live {
					ids = append(ids, id)
				}
				slices.Sort(ids)
				id := rapid.SampledFrom(ids).Draw(t, "remove")

				table.removeAt(live[id])
				delete(live, id)

			default:
				before := table.fragmentation
				reclaimed := table.compact(func(id PeerID,
					i int) {

					live[id] = i
				})
				require.Equal(t, before, reclaimed)
				require.Zero(t, table.fragmentation)
			}

			require.NoError(t, table.verify())
			require.Equal(
				t, table.slotCount,
				table.liveScore()+table.fragmentation,
			)

			for id, i := range live {
				require.Equal(t, id, table.slots[i].peerID)
			}

			if table.slotCount == 0 {
				require.Empty(t, live)
				continue
			}

			target := rapid.Uint64Range(
				0, table.slotCount-1,
			).Draw(t, "target")
			require.Equal(
				t, bruteForceSelect(table.slots, target),
				table.selectPeer(target),
			)

			if table.fragmentation == 0 {
				require.NotEqual(
					t, NoPeer, table.selectPeer(target),
				)
			}
		}
	})
}

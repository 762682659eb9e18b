package peermanager

import (
	"fmt"
	"math"
)

// PeerID identifies a peer. Ids are assigned in increasing order and never
// reused.
type PeerID uint32

// NoPeer is returned by lookups and selections that found no peer.
const NoPeer = PeerID(math.MaxUint32)

// Slot maps the half open interval [start, start+score) of the selection
// space to a peer. A slot with a zero score is a tombstone left behind by a
// removed peer.
type Slot struct {
	start  uint64
	score  uint32
	peerID PeerID
}

// Start returns the first point of the slot.
func (s Slot) Start() uint64 {
	return s.start
}

// Score returns the width of the slot.
func (s Slot) Score() uint32 {
	return s.score
}

// Stop returns the first point past the end of the slot.
func (s Slot) Stop() uint64 {
	return s.start + uint64(s.score)
}

// PeerID returns the peer owning the slot, or NoPeer for a tombstone.
func (s Slot) PeerID() PeerID {
	return s.peerID
}

// contains returns true if the point falls inside the slot.
func (s Slot) contains(t uint64) bool {
	return s.start <= t && t < s.Stop()
}

// precedes returns true if the whole slot lies before the point.
func (s Slot) precedes(t uint64) bool {
	return t >= s.Stop()
}

// follows returns true if the whole slot lies after the point.
func (s Slot) follows(t uint64) bool {
	return s.start > t
}

// slotTable is the ordered list of slots. Slots are sorted by start and
// never overlap. The span of the table, slotCount, always equals the stop of
// the last slot, which is always live, so fragmentation is exactly the part
// of the span not covered by a live slot.
type slotTable struct {
	slots         []Slot
	slotCount     uint64
	fragmentation uint64
}

// insert appends a slot for the peer at the end of the table and returns its
// index.
func (t *slotTable) insert(score uint32, peerID PeerID) int {
	t.slots = append(t.slots, Slot{
		start:  t.slotCount,
		score:  score,
		peerID: peerID,
	})
	t.slotCount += uint64(score)

	return len(t.slots) - 1
}

// removeAt releases the slot at index i. The last slot is truncated away
// along with any tombstones it uncovers, every other slot becomes a
// tombstone and its score is accounted as fragmentation.
func (t *slotTable) removeAt(i int) {
	score := t.slots[i].score

	if i != len(t.slots)-1 {
		t.slots[i].score = 0
		t.slots[i].peerID = NoPeer
		t.fragmentation += uint64(score)

		return
	}

	oldCount := t.slotCount
	t.slots = t.slots[:i]
	for len(t.slots) > 0 && t.slots[len(t.slots)-1].score == 0 {
		t.slots = t.slots[:len(t.slots)-1]
	}

	t.slotCount = 0
	if len(t.slots) > 0 {
		t.slotCount = t.slots[len(t.slots)-1].Stop()
	}

	// Whatever lay between the new end of the table and the removed slot
	// was fragmentation that is now gone with it.
	t.fragmentation -= oldCount - uint64(score) - t.slotCount
}

// selectPeer returns the peer whose slot contains the point, or NoPeer if
// the point is out of range or falls into a gap left by a removed slot.
func (t *slotTable) selectPeer(target uint64) PeerID {
	return selectPeerImpl(t.slots, target, t.slotCount)
}

// selectPeerImpl runs a binary search for the slot containing target over
// slots spanning [0, max).
func selectPeerImpl(slots []Slot, target, max uint64) PeerID {
	if target >= max || len(slots) == 0 {
		return NoPeer
	}

	begin, end := 0, len(slots)
	for begin < end {
		i := begin + (end-begin)/2
		s := slots[i]

		switch {
		case s.contains(target):
			return s.peerID

		case s.precedes(target):
			begin = i + 1

		case s.follows(target):
			end = i

		// A slot either contains, precedes or follows any point.
		default:
			return NoPeer
		}
	}

	// The point is in a gap.
	return NoPeer
}

// compact drops every tombstone and packs the live slots back to back from
// zero, keeping their order. reindex is called for every live slot with its
// new index. The amount of reclaimed space is returned.
func (t *slotTable) compact(reindex func(PeerID, int)) uint64 {
	if t.fragmentation == 0 {
		return 0
	}

	live := make([]Slot, 0, len(t.slots))
	var start uint64
	for _, s := range t.slots {
		if s.score == 0 {
			continue
		}

		live = append(live, Slot{
			start:  start,
			score:  s.score,
			peerID: s.peerID,
		})
		start += uint64(s.score)

		reindex(s.peerID, len(live)-1)
	}

	reclaimed := t.slotCount - start

	t.slots = live
	t.slotCount = start
	t.fragmentation = 0

	return reclaimed
}

// liveScore returns the sum of the scores of all live slots.
func (t *slotTable) liveScore() uint64 {
	var sum uint64
	for _, s := range t.slots {
		sum += uint64(s.score)
	}

	return sum
}

// verify checks the ordering and accounting invariants of the table.
func (t *slotTable) verify() error {
	var prevStop uint64
	for i, s := range t.slots {
		if s.start < prevStop {
			return fmt.Errorf("slot %d starts at %d before the "+
				"previous slot stops at %d", i, s.start,
				prevStop)
		}
		prevStop = s.Stop()

		if s.score == 0 && s.peerID != NoPeer {
			return fmt.Errorf("tombstone %d still owned by peer "+
				"%d", i, s.peerID)
		}
		if s.score != 0 && s.peerID == NoPeer {
			return fmt.Errorf("live slot %d has no peer", i)
		}
	}

	if prevStop != t.slotCount {
		return fmt.Errorf("slot count %d does not match the end of "+
			"the table %d", t.slotCount, prevStop)
	}

	if n := len(t.slots); n > 0 && t.slots[n-1].score == 0 {
		return fmt.Errorf("table ends with a tombstone")
	}

	live := t.liveScore()
	if live+t.fragmentation != t.slotCount {
		return fmt.Errorf("fragmentation %d plus live score %d does "+
			"not match slot count %d", t.fragmentation, live,
			t.slotCount)
	}

	return nil
}

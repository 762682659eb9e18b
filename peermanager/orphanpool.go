package peermanager

import (
	"errors"
	"slices"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// orphanEntry is a proof held by the orphan pool. Its cache size is the
// number of stakes it commits to, so the pool capacity bounds the amount of
// memory orphans can use regardless of how their stakes are spread over
// proofs.
type orphanEntry struct {
	proof *avaproof.Proof

	// seq orders entries by the time they entered the pool.
	seq uint64
}

// Size returns the number of stakes of the proof.
//
// NOTE: Part of the cache.Value interface.
func (e *orphanEntry) Size() (uint64, error) {
	return uint64(len(e.proof.Stakes)), nil
}

// orphanPool holds proofs whose stakes cannot currently be confirmed against
// the coin view. Once the pool is full the least recently added proofs are
// evicted.
type orphanPool struct {
	capacity uint64

	// lru owns eviction. It is only touched on insertion and removal so
	// lookups don't refresh an entry.
	lru *lru.Cache[avaproof.ProofID, *orphanEntry]

	// entries mirrors the content of the lru.
	entries map[avaproof.ProofID]*orphanEntry

	// byOutPoint indexes entries by the outpoints they stake. Orphans may
	// share outpoints, only live peers must not.
	byOutPoint map[wire.OutPoint]fn.Set[avaproof.ProofID]

	stakes  uint64
	nextSeq uint64
}

// newOrphanPool creates a pool holding at most capacity stakes.
func newOrphanPool(capacity uint64) *orphanPool {
	return &orphanPool{
		capacity: capacity,
		lru: lru.NewCache[avaproof.ProofID, *orphanEntry](
			capacity,
		),
		entries:    make(map[avaproof.ProofID]*orphanEntry),
		byOutPoint: make(map[wire.OutPoint]fn.Set[avaproof.ProofID]),
	}
}

// add inserts the proof, evicting older proofs if needed, and returns the
// ids of the evicted proofs. False is returned if the proof is already
// pooled or does not fit in an empty pool.
func (o *orphanPool) add(proof *avaproof.Proof) ([]avaproof.ProofID, bool) {
	id := proof.ID()
	if _, ok := o.entries[id]; ok {
		return nil, false
	}

	entry := &orphanEntry{
		proof: proof,
		seq:   o.nextSeq,
	}
	size, _ := entry.Size()
	if size > o.capacity {
		log.Debugf("Orphan proof %v with %d stakes exceeds the pool "+
			"capacity of %d stakes", id, size, o.capacity)

		return nil, false
	}

	evicted, err := o.lru.Put(id, entry)
	if err != nil {
		log.Errorf("Unable to add orphan proof %v: %v", id, err)
		return nil, false
	}
	o.nextSeq++

	o.index(entry)

	if !evicted {
		return nil, true
	}

	return o.dropEvicted(), true
}

// index adds the entry to the lookup maps.
func (o *orphanPool) index(entry *orphanEntry) {
	id := entry.proof.ID()
	o.entries[id] = entry
	o.stakes += uint64(len(entry.proof.Stakes))

	for _, op := range entry.proof.OutPoints() {
		ids, ok := o.byOutPoint[op]
		if !ok {
			ids = fn.NewSet[avaproof.ProofID]()
			o.byOutPoint[op] = ids
		}
		ids.Add(id)
	}
}

// unindex removes the entry from the lookup maps.
func (o *orphanPool) unindex(entry *orphanEntry) {
	id := entry.proof.ID()
	delete(o.entries, id)
	o.stakes -= uint64(len(entry.proof.Stakes))

	for _, op := range entry.proof.OutPoints() {
		ids, ok := o.byOutPoint[op]
		if !ok {
			continue
		}

		ids.Remove(id)
		if len(ids) == 0 {
			delete(o.byOutPoint, op)
		}
	}
}

// dropEvicted removes from the indexes every entry the lru let go of and
// returns their ids.
func (o *orphanPool) dropEvicted() []avaproof.ProofID {
	live := fn.NewSet[avaproof.ProofID]()
	o.lru.Range(func(id avaproof.ProofID, _ *orphanEntry) bool {
		live.Add(id)
		return true
	})

	var evicted []avaproof.ProofID
	for id, entry := range o.entries {
		if live.Contains(id) {
			continue
		}

		log.Debugf("Evicted orphan proof %v", id)
		o.unindex(entry)
		evicted = append(evicted, id)
	}

	return evicted
}

// remove drops the proof from the pool.
func (o *orphanPool) remove(id avaproof.ProofID) bool {
	entry, ok := o.entries[id]
	if !ok {
		return false
	}

	o.lru.Delete(id)
	o.unindex(entry)

	return true
}

// has returns true if the proof is pooled.
func (o *orphanPool) has(id avaproof.ProofID) bool {
	_, ok := o.entries[id]
	return ok
}

// getProof returns the pooled proof with the given id.
func (o *orphanPool) getProof(id avaproof.ProofID) fn.Option[*avaproof.Proof] {
	entry, ok := o.entries[id]
	if !ok {
		return fn.None[*avaproof.Proof]()
	}

	return fn.Some(entry.proof)
}

// proofsSpending returns the ids of the pooled proofs staking the outpoint.
func (o *orphanPool) proofsSpending(op wire.OutPoint) []avaproof.ProofID {
	ids, ok := o.byOutPoint[op]
	if !ok {
		return nil
	}

	return ids.ToSlice()
}

// len returns the number of pooled proofs.
func (o *orphanPool) len() int {
	return len(o.entries)
}

// numStakes returns the number of stakes held by pooled proofs.
func (o *orphanPool) numStakes() uint64 {
	return o.stakes
}

// snapshot returns the pooled proofs, oldest first.
func (o *orphanPool) snapshot() []*avaproof.Proof {
	entries := make([]*orphanEntry, 0, len(o.entries))
	for _, entry := range o.entries {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b *orphanEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}

		return 0
	})

	return fn.Map(entries, func(e *orphanEntry) *avaproof.Proof {
		return e.proof
	})
}

// verify checks that the indexes agree with the lru.
func (o *orphanPool) verify() error {
	if o.lru.Len() != len(o.entries) {
		return errors.New("orphan lru and index sizes differ")
	}

	inLRU := fn.NewSet[avaproof.ProofID]()
	o.lru.Range(func(id avaproof.ProofID, _ *orphanEntry) bool {
		inLRU.Add(id)
		return true
	})

	var stakes uint64
	for id, entry := range o.entries {
		if !inLRU.Contains(id) {
			return errors.New("indexed orphan missing from lru")
		}

		stakes += uint64(len(entry.proof.Stakes))
		for _, op := range entry.proof.OutPoints() {
			if !o.byOutPoint[op].Contains(id) {
				return errors.New("orphan outpoint not " +
					"indexed")
			}
		}
	}

	if stakes != o.stakes {
		return errors.New("orphan stake count mismatch")
	}
	if stakes > o.capacity {
		return errors.New("orphan pool over capacity")
	}

	return nil
}

// ReassessResult splits a set of orphan proofs by the outcome of checking
// them against the coin view.
type ReassessResult struct {
	// Promoted proofs have all their stakes confirmed.
	Promoted []*avaproof.Proof

	// StillOrphan proofs still reference unconfirmed stakes.
	StillOrphan []*avaproof.Proof

	// Invalid proofs can never become valid.
	Invalid []*avaproof.Proof
}

// reassessProofs checks every proof against the coin view. It does not touch
// any shared state and can run without the peer manager lock.
func reassessProofs(proofs []*avaproof.Proof, view avaproof.CoinView,
	minConfs uint32) ReassessResult {

	var res ReassessResult
	for _, proof := range proofs {
		result := proof.VerifyStakes(view, minConfs)

		switch {
		case result.IsValid():
			res.Promoted = append(res.Promoted, proof)

		case result.IsOrphan():
			res.StillOrphan = append(res.StillOrphan, proof)

		default:
			log.Debugf("Orphan proof %v is invalid: %v",
				proof.ID(), result)

			res.Invalid = append(res.Invalid, proof)
		}
	}

	return res
}

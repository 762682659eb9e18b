package peermanager

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/avapeer/avaproof"
)

// Peer is an avalanche participant backed by a valid proof. Its chance of
// being polled is proportional to the score of its proof.
type Peer struct {
	// ID is the unique identifier of the peer.
	ID PeerID

	// Proof is the stake proof backing the peer.
	Proof *avaproof.Proof

	// NodeCount is the number of nodes currently vouching for the peer.
	NodeCount uint32

	// RegistrationTime is the time the proof was accepted.
	RegistrationTime time.Time

	slotIndex int
}

// Score returns the selection weight of the peer.
func (p *Peer) Score() uint32 {
	return p.Proof.Score()
}

// ProofID returns the id of the proof backing the peer.
func (p *Peer) ProofID() avaproof.ProofID {
	return p.Proof.ID()
}

// peerRegistry indexes live peers by id and by proof id, owns their slots
// and tracks which outpoints they stake.
type peerRegistry struct {
	peers   map[PeerID]*Peer
	byProof map[avaproof.ProofID]*Peer

	// utxos maps every staked outpoint to the peer claiming it.
	utxos map[wire.OutPoint]PeerID

	slots slotTable

	nextPeerID PeerID
}

func newPeerRegistry() peerRegistry {
	return peerRegistry{
		peers:   make(map[PeerID]*Peer),
		byProof: make(map[avaproof.ProofID]*Peer),
		utxos:   make(map[wire.OutPoint]PeerID),
	}
}

// get returns the peer with the given id.
func (r *peerRegistry) get(id PeerID) (*Peer, bool) {
	peer, ok := r.peers[id]
	return peer, ok
}

// getByProof returns the peer backed by the given proof.
func (r *peerRegistry) getByProof(id avaproof.ProofID) (*Peer, bool) {
	peer, ok := r.byProof[id]
	return peer, ok
}

// conflictingPeer returns the live peer staking any of the proof's
// outpoints.
func (r *peerRegistry) conflictingPeer(proof *avaproof.Proof) (PeerID, bool) {
	for _, op := range proof.OutPoints() {
		if id, ok := r.utxos[op]; ok {
			return id, true
		}
	}

	return NoPeer, false
}

// add creates a peer for the proof and allocates its slot. The caller must
// have checked that the proof is neither registered nor conflicting.
func (r *peerRegistry) add(proof *avaproof.Proof, now time.Time) *Peer {
	peer := &Peer{
		ID:               r.nextPeerID,
		Proof:            proof,
		RegistrationTime: now,
	}
	r.nextPeerID++

	peer.slotIndex = r.slots.insert(proof.Score(), peer.ID)

	r.peers[peer.ID] = peer
	r.byProof[proof.ID()] = peer
	for _, op := range proof.OutPoints() {
		r.utxos[op] = peer.ID
	}

	return peer
}

// remove drops the peer and releases its slot.
func (r *peerRegistry) remove(id PeerID) (*Peer, bool) {
	peer, ok := r.peers[id]
	if !ok {
		return nil, false
	}

	r.slots.removeAt(peer.slotIndex)

	delete(r.peers, id)
	delete(r.byProof, peer.ProofID())
	for _, op := range peer.Proof.OutPoints() {
		delete(r.utxos, op)
	}

	return peer, true
}

// compact packs the slot table and points every peer to its new slot.
func (r *peerRegistry) compact() uint64 {
	return r.slots.compact(func(id PeerID, i int) {
		r.peers[id].slotIndex = i
	})
}

// verify checks that the indexes and the slot table agree.
func (r *peerRegistry) verify() error {
	if err := r.slots.verify(); err != nil {
		return err
	}

	if len(r.byProof) != len(r.peers) {
		return fmt.Errorf("%d peers indexed by proof, %d by id",
			len(r.byProof), len(r.peers))
	}

	var numStakes int
	for id, peer := range r.peers {
		if peer.ID != id {
			return fmt.Errorf("peer %d indexed as %d", peer.ID, id)
		}
		if r.byProof[peer.ProofID()] != peer {
			return fmt.Errorf("peer %d not indexed by proof", id)
		}
		if id >= r.nextPeerID {
			return fmt.Errorf("peer %d above next id %d", id,
				r.nextPeerID)
		}

		if peer.slotIndex < 0 || peer.slotIndex >= len(r.slots.slots) {
			return fmt.Errorf("peer %d has slot index %d out of "+
				"range", id, peer.slotIndex)
		}
		slot := r.slots.slots[peer.slotIndex]
		if slot.peerID != id || slot.score != peer.Score() {
			return fmt.Errorf("peer %d (score %d) does not own "+
				"slot %d (peer %d, score %d)", id,
				peer.Score(), peer.slotIndex, slot.peerID,
				slot.score)
		}

		for _, op := range peer.Proof.OutPoints() {
			if r.utxos[op] != id {
				return fmt.Errorf("outpoint %v of peer %d not "+
					"indexed", op, id)
			}
		}
		numStakes += len(peer.Proof.Stakes)
	}

	if numStakes != len(r.utxos) {
		return fmt.Errorf("%d staked outpoints indexed, expected %d",
			len(r.utxos), numStakes)
	}

	// Every live slot must belong to a live peer.
	for i, slot := range r.slots.slots {
		if slot.score == 0 {
			continue
		}

		peer, ok := r.peers[slot.peerID]
		if !ok || peer.slotIndex != i {
			return fmt.Errorf("slot %d owned by unknown peer %d",
				i, slot.peerID)
		}
	}

	return nil
}

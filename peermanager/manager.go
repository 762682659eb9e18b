// Package peermanager keeps track of the avalanche peers that can be polled,
// weights them by the score of their stake proof and picks them at random in
// proportion to that weight.
package peermanager

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// RegistrationResult is the outcome of registering a proof.
type RegistrationResult uint8

const (
	// Registered means a new peer was created for the proof.
	Registered RegistrationResult = iota

	// AlreadyRegistered means a peer already exists for the proof.
	AlreadyRegistered

	// Orphaned means the stakes of the proof are not confirmed yet and
	// the proof was added to the orphan pool.
	Orphaned

	// Invalid means the proof is malformed or its stakes do not match the
	// utxo set.
	Invalid

	// Conflicting means a stake of the proof is already claimed by a live
	// peer.
	Conflicting

	// Rejected means the proof is orphaned but the orphan pool cannot
	// hold it.
	Rejected
)

// String returns a human readable name for the result.
func (r RegistrationResult) String() string {
	switch r {
	case Registered:
		return "registered"
	case AlreadyRegistered:
		return "already-registered"
	case Orphaned:
		return "orphaned"
	case Invalid:
		return "invalid"
	case Conflicting:
		return "conflicting"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the size of the peer manager state.
type Stats struct {
	Peers             int
	Nodes             int
	PendingNodes      int
	OrphanProofs      int
	OrphanStakes      uint64
	SlotCount         uint64
	Fragmentation     uint64
	UnbroadcastProofs int
}

// PeerManager tracks peers, the nodes vouching for them and the orphan
// proofs that may become peers once their stakes confirm. All methods are
// safe for concurrent use.
type PeerManager struct {
	cfg Config

	// mu guards everything below, including cfg.Rand.
	mu sync.Mutex

	peers       peerRegistry
	nodes       nodeRegistry
	pending     pendingNodes
	orphans     *orphanPool
	unbroadcast fn.Set[avaproof.ProofID]

	// events are delivered to cfg.Notifier once the lock is released.
	events []func(EventNotifier)
}

// New creates a peer manager.
func New(cfg Config) (*PeerManager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &PeerManager{
		cfg:         cfg,
		peers:       newPeerRegistry(),
		nodes:       newNodeRegistry(),
		pending:     newPendingNodes(),
		orphans:     newOrphanPool(cfg.MaxOrphanStakes),
		unbroadcast: fn.NewSet[avaproof.ProofID](),
	}, nil
}

// RegisterProof creates a peer for the proof if its stakes are confirmed,
// or stores it as an orphan if they are not yet. The stakes are checked
// against the coin view without holding the lock.
func (m *PeerManager) RegisterProof(proof *avaproof.Proof) (PeerID,
	RegistrationResult) {

	if proof == nil {
		return NoPeer, Invalid
	}

	id := proof.ID()
	if res := proof.CheckSanity(m.cfg.MaxProofStakes); !res.IsValid() {
		log.Debugf("Rejecting malformed proof %v: %v", id, res)
		return NoPeer, Invalid
	}

	m.mu.Lock()
	peer, ok := m.peers.getByProof(id)
	m.mu.Unlock()
	if ok {
		return peer.ID, AlreadyRegistered
	}

	res := proof.VerifyStakes(m.cfg.CoinView, m.cfg.StakeUTXOConfirmations)

	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	// The proof may have been registered while the stakes were checked.
	if peer, ok := m.peers.getByProof(id); ok {
		return peer.ID, AlreadyRegistered
	}

	switch {
	case res.IsOrphan():
		if m.orphans.has(id) {
			return NoPeer, Orphaned
		}
		if !m.addOrphanLocked(proof) {
			return NoPeer, Rejected
		}

		log.Debugf("Proof %v is orphaned: %v", id, res)
		m.queueEventLocked(func(n EventNotifier) {
			n.NotifyProofOrphaned(proof)
		})

		return NoPeer, Orphaned

	case !res.IsValid():
		log.Debugf("Proof %v failed stake verification: %v", id, res)
		m.dropProofLocked(id)

		return NoPeer, Invalid
	}

	if other, ok := m.peers.conflictingPeer(proof); ok {
		log.Debugf("Proof %v conflicts with peer %d", id, other)
		return NoPeer, Conflicting
	}

	peer = m.createPeerLocked(proof)

	return peer.ID, Registered
}

// GetPeerID returns the id of the peer backed by the proof, registering the
// proof if needed. NoPeer is returned if no peer can be created for it.
func (m *PeerManager) GetPeerID(proof *avaproof.Proof) PeerID {
	id, _ := m.RegisterProof(proof)
	return id
}

// createPeerLocked creates the peer for a verified, non conflicting proof
// and attaches the nodes waiting on it.
func (m *PeerManager) createPeerLocked(proof *avaproof.Proof) *Peer {
	now := m.cfg.Clock.Now()

	peer := m.peers.add(proof, now)
	m.orphans.remove(proof.ID())
	m.unbroadcast.Add(proof.ID())

	for nodeID, pending := range m.pending.take(proof.ID()) {
		m.nodes.add(&Node{
			ID:              nodeID,
			PeerID:          peer.ID,
			PubKey:          pending.pubKey,
			NextRequestTime: now,
		})
		peer.NodeCount++
	}

	log.Infof("Registered peer %d with score %d for proof %v (%d nodes)",
		peer.ID, peer.Score(), proof.ID(), peer.NodeCount)
	log.Tracef("Peer %d proof: %v", peer.ID, spewClosure(proof))

	added := *peer
	m.queueEventLocked(func(n EventNotifier) {
		n.NotifyPeerAdded(added)
	})

	return peer
}

// addOrphanLocked pools the proof and forgets the nodes waiting on the
// proofs it evicted.
func (m *PeerManager) addOrphanLocked(proof *avaproof.Proof) bool {
	evicted, ok := m.orphans.add(proof)
	for _, id := range evicted {
		m.dropPendingLocked(id)
	}

	return ok
}

// dropProofLocked forgets an orphan proof along with the nodes waiting on
// it.
func (m *PeerManager) dropProofLocked(id avaproof.ProofID) {
	m.orphans.remove(id)
	m.dropPendingLocked(id)
}

// dropPendingLocked forgets the nodes waiting on the proof.
func (m *PeerManager) dropPendingLocked(id avaproof.ProofID) {
	for nodeID := range m.pending.take(id) {
		log.Debugf("Dropping node %d pending on proof %v", nodeID, id)
	}
}

// destroyPeerLocked removes the peer and its nodes.
func (m *PeerManager) destroyPeerLocked(id PeerID) (*Peer, bool) {
	peer, ok := m.peers.remove(id)
	if !ok {
		return nil, false
	}

	m.nodes.removeForPeer(id)
	peer.NodeCount = 0
	m.unbroadcast.Remove(peer.ProofID())

	removed := *peer
	m.queueEventLocked(func(n EventNotifier) {
		n.NotifyPeerRemoved(removed)
	})

	return peer, true
}

// RemovePeer removes the peer and every node vouching for it. The proof is
// forgotten.
func (m *PeerManager) RemovePeer(id PeerID) bool {
	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	peer, ok := m.destroyPeerLocked(id)
	if !ok {
		return false
	}

	log.Infof("Removed peer %d with proof %v", id, peer.ProofID())

	return true
}

// AddNode binds the node to the peer backed by the delegated proof,
// creating the peer if needed. A node already bound to another peer is
// moved. If the proof is orphaned the node is kept pending until the proof
// is promoted, and false is returned.
func (m *PeerManager) AddNode(id NodeID, delegation *avaproof.Delegation) bool {
	if delegation == nil || delegation.Proof == nil {
		return false
	}

	peerID, res := m.RegisterProof(delegation.Proof)

	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	proofID := delegation.ProofID()
	pubKey := delegation.PubKey()

	if peerID == NoPeer {
		if res != Orphaned || !m.orphans.has(proofID) {
			return false
		}

		m.detachNodeLocked(id)
		m.pending.add(id, proofID, pubKey)

		log.Debugf("Node %d pending on orphan proof %v", id, proofID)

		return false
	}

	// The peer may have been removed since it was registered.
	peer, ok := m.peers.get(peerID)
	if !ok {
		return false
	}

	m.pending.remove(id)

	if node, ok := m.nodes.get(id); ok {
		if node.PeerID == peer.ID {
			node.PubKey = pubKey
			return true
		}

		m.detachNodeLocked(id)
	}

	m.nodes.add(&Node{
		ID:              id,
		PeerID:          peer.ID,
		PubKey:          pubKey,
		NextRequestTime: m.cfg.Clock.Now(),
	})
	peer.NodeCount++

	log.Debugf("Node %d bound to peer %d", id, peer.ID)

	return true
}

// detachNodeLocked unbinds the node from its peer, destroying the peer if
// it was its last node.
func (m *PeerManager) detachNodeLocked(id NodeID) bool {
	node, ok := m.nodes.remove(id)
	if !ok {
		return false
	}

	peer, ok := m.peers.get(node.PeerID)
	if !ok {
		return true
	}

	peer.NodeCount--
	if peer.NodeCount == 0 {
		log.Debugf("Last node %d of peer %d left", id, peer.ID)
		m.destroyPeerLocked(peer.ID)
	}

	return true
}

// RemoveNode unbinds the node. A peer left without any node is removed.
func (m *PeerManager) RemoveNode(id NodeID) bool {
	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	if m.pending.remove(id) {
		return true
	}

	return m.detachNodeLocked(id)
}

// UpdateNextRequestTime sets the earliest time the node can be polled.
func (m *PeerManager) UpdateNextRequestTime(id NodeID, t time.Time) bool {
	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	return m.nodes.setNextRequestTime(id, t)
}

// SelectPeer returns a random peer with a probability proportional to its
// score, or NoPeer.
func (m *PeerManager) SelectPeer() PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < SelectPeerMaxRetry; i++ {
		if id := m.drawPeerLocked(); id != NoPeer {
			return id
		}
	}

	return NoPeer
}

// drawPeerLocked makes a single draw over the slot table. NoPeer is returned
// if the table is empty or the draw fell into a gap.
func (m *PeerManager) drawPeerLocked() PeerID {
	count := m.peers.slots.slotCount
	if count == 0 {
		return NoPeer
	}

	return m.peers.slots.selectPeer(m.cfg.Rand.Uint64N(count))
}

// SelectNode picks a peer like SelectPeer and returns one of its nodes that
// can be polled now, chosen uniformly. NoNode is returned if no suitable
// node was found.
func (m *PeerManager) SelectNode() NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	for i := 0; i < SelectNodeMaxRetry; i++ {
		peerID := m.drawPeerLocked()
		if peerID == NoPeer {
			if m.peers.slots.fragmentation == 0 {
				return NoNode
			}

			// The draw fell into a gap, pack the table so the
			// next one can't.
			m.compactLocked()

			continue
		}

		eligible := m.nodes.eligible(peerID, now)
		if len(eligible) == 0 {
			continue
		}

		return eligible[m.cfg.Rand.IntN(len(eligible))]
	}

	return NoNode
}

// Compact reclaims the slot space of removed peers and returns its size.
func (m *PeerManager) Compact() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.compactLocked()
}

func (m *PeerManager) compactLocked() uint64 {
	defer m.debugCheckLocked()

	reclaimed := m.peers.compact()
	if reclaimed > 0 {
		log.Debugf("Compacted slot table, reclaimed %d, slot count "+
			"now %d", reclaimed, m.peers.slots.slotCount)
	}

	return reclaimed
}

// demotion is a live peer whose stakes failed verification.
type demotion struct {
	proof  *avaproof.Proof
	result avaproof.ValidationResult
}

// UpdatedBlockTip checks every live and orphan proof against the coin view
// after the chain tip changed. Live peers whose stakes are no longer valid
// are removed, and their proofs go back to the orphan pool if the stakes may
// confirm again. Orphans whose stakes are confirmed are promoted to peers.
func (m *PeerManager) UpdatedBlockTip() {
	m.mu.Lock()
	live := make([]*Peer, 0, len(m.peers.peers))
	for _, peer := range m.peers.peers {
		live = append(live, peer)
	}
	slices.SortFunc(live, func(a, b *Peer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	liveProofs := fn.Map(live, func(p *Peer) *avaproof.Proof {
		return p.Proof
	})
	orphans := m.orphans.snapshot()
	m.mu.Unlock()

	view := m.cfg.CoinView
	minConfs := m.cfg.StakeUTXOConfirmations

	var demotions []demotion
	for _, proof := range liveProofs {
		res := proof.VerifyStakes(view, minConfs)
		if res.IsValid() {
			continue
		}

		demotions = append(demotions, demotion{
			proof:  proof,
			result: res,
		})
	}
	reassessed := reassessProofs(orphans, view, minConfs)

	m.mu.Lock()
	defer m.unlock()
	defer m.debugCheckLocked()

	// Demote first so that promoted orphans can take over the stakes of
	// the peers that went away.
	var newOrphans []*avaproof.Proof
	for _, d := range demotions {
		id := d.proof.ID()
		peer, ok := m.peers.getByProof(id)
		if !ok || peer.Proof != d.proof {
			continue
		}

		if d.result.IsOrphan() {
			for _, node := range m.nodes.removeForPeer(peer.ID) {
				m.pending.add(node.ID, id, node.PubKey)
			}
			newOrphans = append(newOrphans, d.proof)
		}

		m.destroyPeerLocked(peer.ID)

		log.Infof("Demoted peer %d with proof %v: %v", peer.ID, id,
			d.result)
	}

	for _, proof := range reassessed.Promoted {
		id := proof.ID()
		if !m.orphans.has(id) {
			continue
		}

		if _, ok := m.peers.getByProof(id); ok {
			m.orphans.remove(id)
			continue
		}

		if other, ok := m.peers.conflictingPeer(proof); ok {
			log.Debugf("Orphan proof %v conflicts with peer %d",
				id, other)
			continue
		}

		m.createPeerLocked(proof)
	}

	for _, proof := range reassessed.Invalid {
		m.dropProofLocked(proof.ID())
	}

	for _, proof := range newOrphans {
		if !m.addOrphanLocked(proof) {
			m.dropProofLocked(proof.ID())
			continue
		}

		m.queueEventLocked(func(n EventNotifier) {
			n.NotifyProofOrphaned(proof)
		})
	}
}

// GetPeers returns a copy of every live peer, ordered by id.
func (m *PeerManager) GetPeers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers := make([]Peer, 0, len(m.peers.peers))
	for _, peer := range m.peers.peers {
		peers = append(peers, *peer)
	}
	slices.SortFunc(peers, func(a, b Peer) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return peers
}

// GetPeer returns a copy of the peer.
func (m *PeerManager) GetPeer(id PeerID) fn.Option[Peer] {
	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.peers.get(id)
	if !ok {
		return fn.None[Peer]()
	}

	return fn.Some(*peer)
}

// GetNodeIDsForPeer returns the nodes bound to the peer, ordered by next
// request time.
func (m *PeerManager) GetNodeIDsForPeer(id PeerID) []NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nodes.forPeer(id)
}

// GetSlotCount returns the span of the slot table.
func (m *PeerManager) GetSlotCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.peers.slots.slotCount
}

// GetFragmentation returns the slot space lost to removed peers.
func (m *PeerManager) GetFragmentation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.peers.slots.fragmentation
}

// IsOrphan returns true if the proof is in the orphan pool.
func (m *PeerManager) IsOrphan(id avaproof.ProofID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.orphans.has(id)
}

// GetOrphan returns the orphan proof with the given id.
func (m *PeerManager) GetOrphan(id avaproof.ProofID) fn.Option[*avaproof.Proof] {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.orphans.getProof(id)
}

// GetOrphansSpending returns the orphan proofs staking the outpoint.
func (m *PeerManager) GetOrphansSpending(
	op wire.OutPoint) []avaproof.ProofID {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.orphans.proofsSpending(op)
}

// GetProof returns the proof backing a live peer.
func (m *PeerManager) GetProof(id avaproof.ProofID) fn.Option[*avaproof.Proof] {
	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.peers.getByProof(id)
	if !ok {
		return fn.None[*avaproof.Proof]()
	}

	return fn.Some(peer.Proof)
}

// GetProofRegistrationTime returns the time the proof became a peer.
func (m *PeerManager) GetProofRegistrationTime(
	id avaproof.ProofID) fn.Option[time.Time] {

	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.peers.getByProof(id)
	if !ok {
		return fn.None[time.Time]()
	}

	return fn.Some(peer.RegistrationTime)
}

// IsBoundToPeer returns true if a live peer is backed by the proof.
func (m *PeerManager) IsBoundToPeer(id avaproof.ProofID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.peers.getByProof(id)
	return ok
}

// Exists returns true if the proof is either live or orphaned.
func (m *PeerManager) Exists(id avaproof.ProofID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.peers.getByProof(id)
	return ok || m.orphans.has(id)
}

// ForPeer calls f with a copy of the peer backed by the proof. False is
// returned if there is no such peer.
func (m *PeerManager) ForPeer(id avaproof.ProofID, f func(Peer)) bool {
	m.mu.Lock()
	peer, ok := m.peers.getByProof(id)
	var cp Peer
	if ok {
		cp = *peer
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	f(cp)

	return true
}

// ForNode calls f with a copy of the node. False is returned if the node is
// not bound to a peer.
func (m *PeerManager) ForNode(id NodeID, f func(Node)) bool {
	m.mu.Lock()
	node, ok := m.nodes.get(id)
	var cp Node
	if ok {
		cp = *node
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	f(cp)

	return true
}

// IsPendingNode returns true if the node waits on an orphan proof.
func (m *PeerManager) IsPendingNode(id NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pending.has(id)
}

// NodePubKey returns the delegated key of a bound node.
func (m *PeerManager) NodePubKey(id NodeID) fn.Option[*btcec.PublicKey] {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes.get(id)
	if !ok {
		return fn.None[*btcec.PublicKey]()
	}

	return fn.Some(node.PubKey)
}

// GetUnbroadcastProofIDs returns the ids of the proofs that still need to be
// announced.
func (m *PeerManager) GetUnbroadcastProofIDs() []avaproof.ProofID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unbroadcast.ToSlice()
}

// GetUnbroadcastProofs returns the proofs that still need to be announced.
func (m *PeerManager) GetUnbroadcastProofs() []*avaproof.Proof {
	m.mu.Lock()
	defer m.mu.Unlock()

	proofs := make([]*avaproof.Proof, 0, len(m.unbroadcast))
	for id := range m.unbroadcast {
		if peer, ok := m.peers.getByProof(id); ok {
			proofs = append(proofs, peer.Proof)
		}
	}

	return proofs
}

// AddUnbroadcastProof schedules the proof of a live peer for announcement.
func (m *PeerManager) AddUnbroadcastProof(id avaproof.ProofID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.peers.getByProof(id); !ok {
		return false
	}
	m.unbroadcast.Add(id)

	return true
}

// RemoveUnbroadcastProof marks the proof as announced.
func (m *PeerManager) RemoveUnbroadcastProof(id avaproof.ProofID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unbroadcast.Remove(id)
}

// Stats returns the current size of the state.
func (m *PeerManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Peers:             len(m.peers.peers),
		Nodes:             m.nodes.len(),
		PendingNodes:      m.pending.len(),
		OrphanProofs:      m.orphans.len(),
		OrphanStakes:      m.orphans.numStakes(),
		SlotCount:         m.peers.slots.slotCount,
		Fragmentation:     m.peers.slots.fragmentation,
		UnbroadcastProofs: len(m.unbroadcast),
	}
}

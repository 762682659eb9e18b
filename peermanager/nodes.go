package peermanager

import (
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/btree"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NodeID identifies a network connection.
type NodeID int64

// NoNode is returned by node selection when no node is available.
const NoNode = NodeID(-1)

// nodeIndexDegree is the degree of the btree ordering nodes by peer.
const nodeIndexDegree = 16

// Node is a network connection vouching for a peer.
type Node struct {
	// ID is the unique identifier of the node.
	ID NodeID

	// PeerID is the peer the node represents.
	PeerID PeerID

	// PubKey is the key the node was delegated.
	PubKey *btcec.PublicKey

	// NextRequestTime is the earliest time the node may be polled again.
	NextRequestTime time.Time
}

// nodeKey is the position of a node in the per peer index.
type nodeKey struct {
	peerID PeerID
	next   time.Time
	nodeID NodeID
}

// lessNodeKey orders nodes by peer, then by next request time.
func lessNodeKey(a, b nodeKey) bool {
	if a.peerID != b.peerID {
		return a.peerID < b.peerID
	}
	if !a.next.Equal(b.next) {
		return a.next.Before(b.next)
	}

	return a.nodeID < b.nodeID
}

func (n *Node) key() nodeKey {
	return nodeKey{
		peerID: n.PeerID,
		next:   n.NextRequestTime,
		nodeID: n.ID,
	}
}

// nodeRegistry indexes nodes by id and by (peer, next request time).
type nodeRegistry struct {
	nodes map[NodeID]*Node
	index *btree.BTreeG[nodeKey]
}

func newNodeRegistry() nodeRegistry {
	return nodeRegistry{
		nodes: make(map[NodeID]*Node),
		index: btree.NewG(nodeIndexDegree, lessNodeKey),
	}
}

// get returns the node with the given id.
func (r *nodeRegistry) get(id NodeID) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// add inserts a node that isn't registered yet.
func (r *nodeRegistry) add(node *Node) {
	r.nodes[node.ID] = node
	r.index.ReplaceOrInsert(node.key())
}

// remove drops the node.
func (r *nodeRegistry) remove(id NodeID) (*Node, bool) {
	node, ok := r.nodes[id]
	if !ok {
		return nil, false
	}

	delete(r.nodes, id)
	r.index.Delete(node.key())

	return node, true
}

// setNextRequestTime moves the node within the index.
func (r *nodeRegistry) setNextRequestTime(id NodeID, t time.Time) bool {
	node, ok := r.nodes[id]
	if !ok {
		return false
	}

	r.index.Delete(node.key())
	node.NextRequestTime = t
	r.index.ReplaceOrInsert(node.key())

	return true
}

// ascendPeer visits the nodes of the peer by increasing next request time
// until visit returns false.
func (r *nodeRegistry) ascendPeer(peerID PeerID, visit func(nodeKey) bool) {
	pivot := nodeKey{
		peerID: peerID,
		nodeID: math.MinInt64,
	}
	r.index.AscendGreaterOrEqual(pivot, func(k nodeKey) bool {
		if k.peerID != peerID {
			return false
		}

		return visit(k)
	})
}

// forPeer returns the ids of all the nodes of the peer.
func (r *nodeRegistry) forPeer(peerID PeerID) []NodeID {
	var ids []NodeID
	r.ascendPeer(peerID, func(k nodeKey) bool {
		ids = append(ids, k.nodeID)
		return true
	})

	return ids
}

// eligible returns the nodes of the peer that may be polled at the given
// time.
func (r *nodeRegistry) eligible(peerID PeerID, now time.Time) []NodeID {
	var ids []NodeID
	r.ascendPeer(peerID, func(k nodeKey) bool {
		if k.next.After(now) {
			return false
		}

		ids = append(ids, k.nodeID)

		return true
	})

	return ids
}

// removeForPeer drops every node of the peer and returns them.
func (r *nodeRegistry) removeForPeer(peerID PeerID) []*Node {
	removed := make([]*Node, 0)
	for _, id := range r.forPeer(peerID) {
		if node, ok := r.remove(id); ok {
			removed = append(removed, node)
		}
	}

	return removed
}

// len returns the number of registered nodes.
func (r *nodeRegistry) len() int {
	return len(r.nodes)
}

// verify checks that the node indexes agree with each other and with the
// node counts of the peers.
func (r *nodeRegistry) verify(peers *peerRegistry) error {
	if r.index.Len() != len(r.nodes) {
		return fmt.Errorf("%d nodes in the index, %d by id",
			r.index.Len(), len(r.nodes))
	}

	counts := make(map[PeerID]uint32, len(peers.peers))
	for id, node := range r.nodes {
		if node.ID != id {
			return fmt.Errorf("node %d indexed as %d", node.ID, id)
		}
		if !r.index.Has(node.key()) {
			return fmt.Errorf("node %d missing from the peer "+
				"index", id)
		}
		if _, ok := peers.peers[node.PeerID]; !ok {
			return fmt.Errorf("node %d bound to unknown peer %d",
				id, node.PeerID)
		}

		counts[node.PeerID]++
	}

	for id, peer := range peers.peers {
		if peer.NodeCount != counts[id] {
			return fmt.Errorf("peer %d has node count %d, %d "+
				"nodes found", id, peer.NodeCount, counts[id])
		}
	}

	return nil
}

// pendingNode is a node waiting for its orphan proof to be promoted.
type pendingNode struct {
	proofID avaproof.ProofID
	pubKey  *btcec.PublicKey
}

// pendingNodes holds nodes that vouch for proofs which have no peer yet.
type pendingNodes struct {
	nodes   map[NodeID]pendingNode
	byProof map[avaproof.ProofID]fn.Set[NodeID]
}

func newPendingNodes() pendingNodes {
	return pendingNodes{
		nodes:   make(map[NodeID]pendingNode),
		byProof: make(map[avaproof.ProofID]fn.Set[NodeID]),
	}
}

// add records the node as waiting on the proof, replacing any previous
// record of the same node.
func (p *pendingNodes) add(id NodeID, proofID avaproof.ProofID,
	pubKey *btcec.PublicKey) {

	p.remove(id)

	p.nodes[id] = pendingNode{
		proofID: proofID,
		pubKey:  pubKey,
	}

	ids, ok := p.byProof[proofID]
	if !ok {
		ids = fn.NewSet[NodeID]()
		p.byProof[proofID] = ids
	}
	ids.Add(id)
}

// remove drops the node.
func (p *pendingNodes) remove(id NodeID) bool {
	node, ok := p.nodes[id]
	if !ok {
		return false
	}

	delete(p.nodes, id)

	ids := p.byProof[node.proofID]
	ids.Remove(id)
	if len(ids) == 0 {
		delete(p.byProof, node.proofID)
	}

	return true
}

// take removes and returns every node waiting on the proof.
func (p *pendingNodes) take(proofID avaproof.ProofID) map[NodeID]pendingNode {
	ids, ok := p.byProof[proofID]
	if !ok {
		return nil
	}

	taken := make(map[NodeID]pendingNode, len(ids))
	for id := range ids {
		taken[id] = p.nodes[id]
		delete(p.nodes, id)
	}
	delete(p.byProof, proofID)

	return taken
}

// has returns true if the node is pending.
func (p *pendingNodes) has(id NodeID) bool {
	_, ok := p.nodes[id]
	return ok
}

// len returns the number of pending nodes.
func (p *pendingNodes) len() int {
	return len(p.nodes)
}

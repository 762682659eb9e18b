package main

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/tipwatch"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// simStartHeight is the height the simulated chain starts at.
	simStartHeight = 1000

	// maxSimScore bounds the score of the proofs the simulation creates.
	maxSimScore = 1000

	// nodesPerPeer is the number of nodes announced for each new proof.
	nodesPerPeer = 2

	// epochQueueSize is the number of blocks buffered per epoch client.
	epochQueueSize = 20

	// defaultSpendOdds is the 1 in n chance that a block spends the stake
	// of a live peer.
	defaultSpendOdds = 4

	// defaultLeaveOdds is the 1 in n chance that a live peer leaves on a
	// block.
	defaultLeaveOdds = 8
)

// errChainStopped is returned when registering with a stopped chain.
var errChainStopped = errors.New("simulated chain stopped")

// PeerManager is the part of the peer manager the simulated chain churns.
type PeerManager interface {
	GetPeerID(proof *avaproof.Proof) peermanager.PeerID
	RemovePeer(id peermanager.PeerID) bool
	AddNode(id peermanager.NodeID, delegation *avaproof.Delegation) bool
	GetPeers() []peermanager.Peer
}

// simChain is an in-memory chain that mines a block on every tick and churns
// the stakes backing the peer manager. It delivers its blocks through the
// tipwatch.ChainNotifier interface.
type simChain struct {
	chain *prooftest.Chain
	pm    PeerManager
	rand  *rand.Rand

	blockTicker ticker.Ticker

	// spendOdds and leaveOdds drive the churn of mined blocks. Zero
	// disables that kind of churn.
	spendOdds int
	leaveOdds int

	mu        sync.Mutex
	height    uint32
	stopped   bool
	clients   map[uint64]chan *tipwatch.BlockEpoch
	nextID    uint64
	nextNode  peermanager.NodeID
	immature  []avaproof.Stake
	broadcast fn.Set[avaproof.ProofID]
}

// A compile-time check to ensure that simChain implements
// tipwatch.ChainNotifier.
var _ tipwatch.ChainNotifier = (*simChain)(nil)

// newSimChain creates a simulated chain. The peer manager is set with
// setPeerManager once it exists since it reads the chain's coin view.
func newSimChain(seed uint64, blockTicker ticker.Ticker) *simChain {
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &simChain{
		chain:       prooftest.NewChain(simStartHeight),
		rand:        rand.New(rand.NewPCG(seed, seed>>1)),
		blockTicker: blockTicker,
		spendOdds:   defaultSpendOdds,
		leaveOdds:   defaultLeaveOdds,
		height:      simStartHeight,
		clients:     make(map[uint64]chan *tipwatch.BlockEpoch),
		broadcast:   fn.NewSet[avaproof.ProofID](),
	}
}

// View returns the coin view the chain keeps up to date.
func (s *simChain) View() avaproof.CoinView {
	return s.chain.View
}

// setPeerManager sets the peer manager the chain churns.
func (s *simChain) setPeerManager(pm PeerManager) {
	s.pm = pm
}

// blockHash derives the hash of the block at the height.
func blockHash(height uint32) *chainhash.Hash {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], height)
	hash := chainhash.DoubleHashH(b[:])

	return &hash
}

// RegisterBlockEpochNtfn registers for new block notifications. The current
// tip is sent right away when bestBlock is nil.
//
// NOTE: Part of the tipwatch.ChainNotifier interface.
func (s *simChain) RegisterBlockEpochNtfn(
	bestBlock *tipwatch.BlockEpoch) (*tipwatch.BlockEpochEvent, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, errChainStopped
	}

	id := s.nextID
	s.nextID++

	epochs := make(chan *tipwatch.BlockEpoch, epochQueueSize)
	s.clients[id] = epochs

	if bestBlock == nil {
		epochs <- &tipwatch.BlockEpoch{
			Hash:   blockHash(s.height),
			Height: int32(s.height),
		}
	}

	return &tipwatch.BlockEpochEvent{
		Epochs: epochs,
		Cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if c, ok := s.clients[id]; ok {
				delete(s.clients, id)
				close(c)
			}
		},
	}, nil
}

// Broadcast records the proof as announced to the simulated network.
func (s *simChain) Broadcast(proof *avaproof.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errChainStopped
	}
	s.broadcast.Add(proof.ID())

	avpdLog.Tracef("Announced proof %v", proof.ID())

	return nil
}

// numBroadcast returns the number of proofs announced so far.
func (s *simChain) numBroadcast() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.broadcast)
}

// fund registers n new peers backed by confirmed stakes.
func (s *simChain) fund(n int) {
	for i := 0; i < n; i++ {
		stake := s.chain.ConfirmedStake(s.randomAmount())
		s.registerProof(s.chain.Proof(stake))
	}
}

// randomAmount returns a stake amount worth between the minimum score and
// maxSimScore.
func (s *simChain) randomAmount() btcutil.Amount {
	minScore := uint64(avaproof.MinValidProofScore)
	score := minScore + s.rand.Uint64N(maxSimScore-minScore+1)

	return btcutil.Amount(score) * avaproof.ScoreUnit
}

// registerProof registers the proof and announces its nodes. Nodes of orphan
// proofs stay pending until the proof is promoted.
func (s *simChain) registerProof(proof *avaproof.Proof) {
	peerID := s.pm.GetPeerID(proof)

	delegation := avaproof.NewDelegation(proof)
	for i := 0; i < nodesPerPeer; i++ {
		s.mu.Lock()
		nodeID := s.nextNode
		s.nextNode++
		s.mu.Unlock()

		s.pm.AddNode(nodeID, delegation)
	}

	avpdLog.Debugf("Registered proof %v with score %d as peer %d",
		proof.ID(), proof.Score(), peerID)
}

// mineBlock advances the tip, confirms the stakes waiting for it and churns
// the peer set, then notifies every client.
func (s *simChain) mineBlock() {
	s.mu.Lock()
	s.height++
	height := s.height
	immature := s.immature
	s.immature = nil
	s.mu.Unlock()

	for _, stake := range immature {
		s.chain.Confirm(stake)
	}
	s.chain.View.SetBestHeight(height)

	// A new peer announces a proof over a stake the next block confirms.
	// The proof stays orphan until then.
	stake := s.chain.UnconfirmedStake(s.randomAmount())
	s.registerProof(s.chain.Proof(stake))

	s.mu.Lock()
	s.immature = append(s.immature, stake)
	s.mu.Unlock()

	// Occasionally a peer spends its stake or leaves.
	peers := s.pm.GetPeers()
	if len(peers) > 0 && s.spendOdds > 0 &&
		s.rand.IntN(s.spendOdds) == 0 {


		peer := peers[s.rand.IntN(len(peers))]
		stakes := peer.Proof.Stakes
		s.chain.Spend(stakes[s.rand.IntN(len(stakes))])

		avpdLog.Debugf("Peer %d spent a stake", peer.ID)
	}
	if len(peers) > 1 && s.leaveOdds > 0 &&
		s.rand.IntN(s.leaveOdds) == 0 {


		peer := peers[s.rand.IntN(len(peers))]
		s.pm.RemovePeer(peer.ID)

		avpdLog.Debugf("Peer %d left", peer.ID)
	}

	s.notify(&tipwatch.BlockEpoch{
		Hash:   blockHash(height),
		Height: int32(height),
	})
}

// notify delivers the epoch to every client. Clients with a full queue miss
// the block; the next one reassesses the same state.
func (s *simChain) notify(epoch *tipwatch.BlockEpoch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		select {
		case c <- epoch:
		default:
			avpdLog.Warnf("Epoch client %d is lagging, skipped "+
				"block %d", id, epoch.Height)
		}
	}
}

// run mines a block on every tick until the context is done.
func (s *simChain) run(ctx context.Context) error {
	s.blockTicker.Resume()
	defer s.blockTicker.Stop()

	defer s.stop()

	for {
		select {
		case <-s.blockTicker.Ticks():
			s.mineBlock()

		case <-ctx.Done():
			return nil
		}
	}
}

// stop closes every epoch client.
func (s *simChain) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c)
	}
}

// pollLoop selects a node on every tick the way an avalanche poll would and
// puts it on cooldown.
func pollLoop(ctx context.Context, pm *peermanager.PeerManager,
	pollTicker ticker.Ticker, cooldown time.Duration) error {

	pollTicker.Resume()
	defer pollTicker.Stop()

	for {
		select {
		case now := <-pollTicker.Ticks():
			nodeID := pm.SelectNode()
			if nodeID == peermanager.NoNode {
				avpdLog.Debugf("No node available for polling")
				continue
			}

			pm.UpdateNextRequestTime(nodeID, now.Add(cooldown))
			avpdLog.Tracef("Polled node %d", nodeID)

		case <-ctx.Done():
			return nil
		}
	}
}

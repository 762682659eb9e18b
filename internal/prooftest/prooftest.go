// Package prooftest contains helpers to build keys, stakes and proofs backed
// by an in-memory coin view.
package prooftest

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/coinview"
)

// DefaultHeight is the tip height a new Chain starts at.
const DefaultHeight = 100

// Chain hands out deterministic keys and outpoints and keeps a coin view
// in sync with the stakes it creates.
type Chain struct {
	mu sync.Mutex

	// View is the coin view stakes are confirmed in.
	View *coinview.Memory

	nextIndex uint32
	nextKey   uint64
	nextSeq   uint64
}

// NewChain creates a chain whose tip is at the given height.
func NewChain(height uint32) *Chain {
	return &Chain{
		View: coinview.NewMemory(height),
	}
}

// PubKey derives a deterministic public key from the seed.
func PubKey(seed uint64) *btcec.PublicKey {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seed)
	digest := sha256.Sum256(b[:])

	_, pub := btcec.PrivKeyFromBytes(digest[:])

	return pub
}

// Key returns a fresh public key.
func (c *Chain) Key() *btcec.PublicKey {
	c.mu.Lock()
	c.nextKey++
	seed := c.nextKey
	c.mu.Unlock()

	return PubKey(seed)
}

// OutPoint returns a fresh outpoint that has never been handed out before.
func (c *Chain) OutPoint() wire.OutPoint {
	c.mu.Lock()
	c.nextIndex++
	n := c.nextIndex
	c.mu.Unlock()

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)

	return wire.OutPoint{
		Hash:  chainhash.HashH(b[:]),
		Index: n % 4,
	}
}

// StakeAt builds a stake over the outpoint claiming the given height,
// without touching the coin view.
func (c *Chain) StakeAt(op wire.OutPoint, amt btcutil.Amount,
	height uint32) avaproof.Stake {

	return avaproof.Stake{
		OutPoint: op,
		Amount:   amt,
		Height:   height,
		PubKey:   c.Key(),
	}
}

// UnconfirmedStake builds a stake over a fresh outpoint claiming the next
// block height. The coin is not added to the view.
func (c *Chain) UnconfirmedStake(amt btcutil.Amount) avaproof.Stake {
	return c.StakeAt(c.OutPoint(), amt, c.View.BestHeight()+1)
}

// ConfirmedStake builds a stake over a fresh outpoint and confirms it at the
// current tip.
func (c *Chain) ConfirmedStake(amt btcutil.Amount) avaproof.Stake {
	stake := c.StakeAt(c.OutPoint(), amt, c.View.BestHeight())
	c.Confirm(stake)

	return stake
}

// Confirm adds the stake's coin to the view at the claimed height, moving the
// tip forward if needed.
func (c *Chain) Confirm(stake avaproof.Stake) {
	if stake.Height > c.View.BestHeight() {
		c.View.SetBestHeight(stake.Height)
	}

	c.View.AddCoin(stake.OutPoint, avaproof.Coin{
		Amount:     stake.Amount,
		Height:     stake.Height,
		IsCoinbase: stake.IsCoinbase,
	})
}

// ConfirmAt adds the stake's coin to the view at a height that may differ
// from the claimed one.
func (c *Chain) ConfirmAt(stake avaproof.Stake, height uint32) {
	if height > c.View.BestHeight() {
		c.View.SetBestHeight(height)
	}

	c.View.AddCoin(stake.OutPoint, avaproof.Coin{
		Amount:     stake.Amount,
		Height:     height,
		IsCoinbase: stake.IsCoinbase,
	})
}

// Spend marks the stake's coin as spent.
func (c *Chain) Spend(stake avaproof.Stake) bool {
	return c.View.SpendCoin(stake.OutPoint)
}

// Proof builds a proof with a fresh master key over the stakes.
func (c *Chain) Proof(stakes ...avaproof.Stake) *avaproof.Proof {
	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.mu.Unlock()

	return avaproof.NewProof(seq, 0, c.Key(), stakes)
}

// ProofWithScore builds a proof backed by a single confirmed stake worth
// exactly the given score.
func (c *Chain) ProofWithScore(score uint32) *avaproof.Proof {
	amt := btcutil.Amount(score) * avaproof.ScoreUnit

	return c.Proof(c.ConfirmedStake(amt))
}

// MinStake is the smallest stake amount that passes the sanity checks.
const MinStake = avaproof.StakeDustThreshold

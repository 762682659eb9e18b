package avaproof

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// errCoinNotFound is used internally when a staked output is absent from the
// coin view.
var errCoinNotFound = errors.New("coin not found")

// Coin is an unspent output as seen by the active chain.
type Coin struct {
	// Amount is the value of the output.
	Amount btcutil.Amount

	// Height is the height of the block that confirmed the output.
	Height uint32

	// IsCoinbase indicates whether the output was created by a coinbase
	// transaction.
	IsCoinbase bool
}

// Confirmations returns the number of confirmations of the coin given the
// height of the current best block.
func (c Coin) Confirmations(bestHeight uint32) uint32 {
	if c.Height > bestHeight {
		return 0
	}

	return bestHeight - c.Height + 1
}

// CoinView is the read only view over the utxo set of the active chain that
// stake verification needs. Implementations must be safe for concurrent use
// and lookups are expected to be fast.
type CoinView interface {
	// FetchCoin returns the unspent output for the outpoint, if any.
	FetchCoin(op wire.OutPoint) fn.Option[Coin]

	// IsSpent returns true if the outpoint is known to have been spent.
	IsSpent(op wire.OutPoint) bool

	// BestHeight returns the height of the current chain tip.
	BestHeight() uint32
}

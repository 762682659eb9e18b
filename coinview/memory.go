// Package coinview provides an in-memory implementation of the
// avaproof.CoinView used by the simulator, the daemon and tests.
package coinview

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Memory is a utxo set held in memory. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	coins map[wire.OutPoint]avaproof.Coin
	spent fn.Set[wire.OutPoint]

	bestHeight uint32
}

// A compile time check to ensure Memory implements the CoinView interface.
var _ avaproof.CoinView = (*Memory)(nil)

// NewMemory returns an empty coin view with its tip at the given height.
func NewMemory(bestHeight uint32) *Memory {
	return &Memory{
		coins:      make(map[wire.OutPoint]avaproof.Coin),
		spent:      fn.NewSet[wire.OutPoint](),
		bestHeight: bestHeight,
	}
}

// AddCoin confirms a coin. If the outpoint was previously marked as spent,
// for instance because the spending block was disconnected, it becomes
// unspent again.
func (m *Memory) AddCoin(op wire.OutPoint, coin avaproof.Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.coins[op] = coin
	m.spent.Remove(op)
}

// SpendCoin marks the coin as spent. It returns false if the coin is not in
// the view.
func (m *Memory) SpendCoin(op wire.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coins[op]; !ok {
		return false
	}

	delete(m.coins, op)
	m.spent.Add(op)

	return true
}

// RemoveCoin drops the coin without marking it as spent, which is what
// happens to an output whose confirming block is disconnected.
func (m *Memory) RemoveCoin(op wire.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coins[op]; !ok {
		return false
	}
	delete(m.coins, op)

	return true
}

// SetBestHeight moves the tip of the view.
func (m *Memory) SetBestHeight(height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bestHeight = height
}

// FetchCoin returns the unspent coin for the outpoint.
//
// NOTE: Part of the avaproof.CoinView interface.
func (m *Memory) FetchCoin(op wire.OutPoint) fn.Option[avaproof.Coin] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coin, ok := m.coins[op]
	if !ok {
		return fn.None[avaproof.Coin]()
	}

	return fn.Some(coin)
}

// IsSpent returns true if the outpoint has been spent.
//
// NOTE: Part of the avaproof.CoinView interface.
func (m *Memory) IsSpent(op wire.OutPoint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.spent.Contains(op)
}

// BestHeight returns the height of the tip.
//
// NOTE: Part of the avaproof.CoinView interface.
func (m *Memory) BestHeight() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bestHeight
}

// NumCoins returns the number of unspent coins in the view.
func (m *Memory) NumCoins() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.coins)
}

package peermanager

import (
	"testing"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/stretchr/testify/require"
)

// mustAdd adds the proof to the pool and returns the ids it evicted.
func mustAdd(t *testing.T, pool *orphanPool,
	proof *avaproof.Proof) []avaproof.ProofID {

	t.Helper()

	evicted, ok := pool.add(proof)
	require.True(t, ok)

	return evicted
}

// refused returns true if the pool does not take the proof.
func refused(pool *orphanPool, proof *avaproof.Proof) bool {
	evicted, ok := pool.add(proof)
	return !ok && len(evicted) == 0
}

// TestOrphanPoolIndexes checks insertion, lookup and removal.
func TestOrphanPoolIndexes(t *testing.T) {
	t.Parallel()

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pool := newOrphanPool(10)

	shared := chain.UnconfirmedStake(prooftest.MinStake)
	p1 := chain.Proof(shared)
	p2 := chain.Proof(shared, chain.UnconfirmedStake(prooftest.MinStake))

	require.Empty(t, mustAdd(t, pool, p1))
	require.True(t, refused(pool, p1))
	require.Empty(t, mustAdd(t, pool, p2))
	require.NoError(t, pool.verify())

	require.Equal(t, 2, pool.len())
	require.EqualValues(t, 3, pool.numStakes())
	require.ElementsMatch(
		t, []avaproof.ProofID{p1.ID(), p2.ID()},
		pool.proofsSpending(shared.OutPoint),
	)
	require.Equal(t, p2, pool.getProof(p2.ID()).UnwrapOrFail(t))

	require.True(t, pool.remove(p1.ID()))
	require.False(t, pool.remove(p1.ID()))
	require.True(t, pool.getProof(p1.ID()).IsNone())
	require.Equal(
		t, []avaproof.ProofID{p2.ID()},
		pool.proofsSpending(shared.OutPoint),
	)
	require.EqualValues(t, 2, pool.numStakes())
	require.NoError(t, pool.verify())
}

// TestOrphanPoolEviction checks that the pool never holds more stakes than
// its capacity and evicts the oldest proofs first.
func TestOrphanPoolEviction(t *testing.T) {
	t.Parallel()

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pool := newOrphanPool(4)

	proof := func(numStakes int) *avaproof.Proof {
		stakes := make([]avaproof.Stake, numStakes)
		for i := range stakes {
			stakes[i] = chain.UnconfirmedStake(prooftest.MinStake)
		}

		return chain.Proof(stakes...)
	}

	// A proof larger than the whole pool is refused.
	require.True(t, refused(pool, proof(5)))
	require.Zero(t, pool.len())

	p1, p2, p3 := proof(2), proof(1), proof(1)
	require.Empty(t, mustAdd(t, pool, p1))
	require.Empty(t, mustAdd(t, pool, p2))
	require.Empty(t, mustAdd(t, pool, p3))
	require.EqualValues(t, 4, pool.numStakes())

	// Lookups don't refresh entries, so the oldest proof goes first.
	require.True(t, pool.getProof(p1.ID()).IsSome())

	p4 := proof(2)
	require.Equal(t, []avaproof.ProofID{p1.ID()}, mustAdd(t, pool, p4))
	require.False(t, pool.has(p1.ID()))
	require.True(t, pool.has(p2.ID()))
	require.True(t, pool.has(p3.ID()))
	require.True(t, pool.has(p4.ID()))
	require.EqualValues(t, 4, pool.numStakes())
	require.NoError(t, pool.verify())

	for _, op := range p1.OutPoints() {
		require.Empty(t, pool.proofsSpending(op))
	}

	// The snapshot is ordered from oldest to newest.
	require.Equal(
		t, []*avaproof.Proof{p2, p3, p4}, pool.snapshot(),
	)
}

// TestOrphanPoolReassess checks that a snapshot of the pool is split by the
// outcome of the stake checks.
func TestOrphanPoolReassess(t *testing.T) {
	t.Parallel()

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pool := newOrphanPool(DefaultMaxOrphanStakes)

	confirmed := chain.UnconfirmedStake(prooftest.MinStake)
	pending := chain.UnconfirmedStake(prooftest.MinStake)
	wrongAmount := chain.UnconfirmedStake(prooftest.MinStake)

	promoted := chain.Proof(confirmed)
	stillOrphan := chain.Proof(pending)
	invalid := chain.Proof(wrongAmount)
	for _, p := range []*avaproof.Proof{promoted, stillOrphan, invalid} {
		mustAdd(t, pool, p)
	}

	chain.Confirm(confirmed)
	wrongAmount.Amount++
	chain.Confirm(wrongAmount)

	res := reassessProofs(pool.snapshot(), chain.View, 1)
	require.Equal(t, []*avaproof.Proof{promoted}, res.Promoted)
	require.Equal(t, []*avaproof.Proof{stillOrphan}, res.StillOrphan)
	require.Equal(t, []*avaproof.Proof{invalid}, res.Invalid)

	// Reassessing is read only.
	require.Equal(t, 3, pool.len())
}

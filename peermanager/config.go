package peermanager

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultMaxOrphanStakes is the default number of stakes the orphan
	// pool holds across all of its proofs.
	DefaultMaxOrphanStakes = 10000

	// DefaultStakeUTXOConfirmations is the default number of confirmations
	// a staked output needs before the proof can back a peer.
	DefaultStakeUTXOConfirmations = 1

	// SelectPeerMaxRetry is the number of draws SelectPeer makes before
	// giving up.
	SelectPeerMaxRetry = 3

	// SelectNodeMaxRetry is the number of peers SelectNode tries before
	// giving up.
	SelectNodeMaxRetry = 3
)

var (
	// ErrNoCoinView is returned when the config has no coin view.
	ErrNoCoinView = errors.New("coin view must be set")

	// ErrInvalidOrphanCapacity is returned when the orphan pool cannot
	// hold a single proof.
	ErrInvalidOrphanCapacity = errors.New("orphan pool capacity must be " +
		"positive")

	// ErrInvalidMaxStakes is returned when the configured stake limit
	// per proof is not positive.
	ErrInvalidMaxStakes = errors.New("max proof stakes must be positive")
)

// Config holds the collaborators and limits of a PeerManager.
type Config struct {
	// CoinView is the view over the utxo set used to check stakes.
	CoinView avaproof.CoinView

	// Clock is used to time stamp registrations and to find nodes whose
	// request cooldown expired. Defaults to the system clock.
	Clock clock.Clock

	// Rand is the source of randomness for peer and node selection.
	// Defaults to a PCG generator seeded from the runtime.
	Rand *rand.Rand

	// MaxOrphanStakes bounds the total number of stakes held by orphan
	// proofs.
	MaxOrphanStakes uint64

	// MaxProofStakes bounds the number of stakes a single proof may
	// commit to.
	MaxProofStakes int

	// StakeUTXOConfirmations is the minimum number of confirmations of
	// every staked output.
	StakeUTXOConfirmations uint32

	// DebugChecks makes every mutation verify the internal state and
	// panic on inconsistency.
	DebugChecks bool

	// Notifier is informed of peers coming and going and of proofs
	// entering the orphan pool. It is called without the lock held and
	// may be nil. The events of a single call are delivered in order, but
	// the events of concurrent calls may interleave.
	Notifier EventNotifier
}

// withDefaults returns a copy of the config with unset optional fields
// filled in.
func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.MaxOrphanStakes == 0 {
		c.MaxOrphanStakes = DefaultMaxOrphanStakes
	}
	if c.MaxProofStakes == 0 {
		c.MaxProofStakes = avaproof.DefaultMaxProofStakes
	}

	return c
}

// validate checks that the config is usable.
func (c *Config) validate() error {
	switch {
	case c.CoinView == nil:
		return ErrNoCoinView

	case c.MaxOrphanStakes == 0:
		return ErrInvalidOrphanCapacity

	case c.MaxProofStakes <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidMaxStakes,
			c.MaxProofStakes)
	}

	return nil
}

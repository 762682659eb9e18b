package avaproof

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ValidationResult describes the outcome of checking a proof, either on its
// own or against the current coin view.
type ValidationResult uint8

const (
	// Valid means the proof passed every check.
	Valid ValidationResult = iota

	// NoStake means the proof does not commit to any stake.
	NoStake

	// TooManyStakes means the proof commits to more stakes than allowed.
	TooManyStakes

	// DustThreshold means a stake is below the dust threshold.
	DustThreshold

	// InvalidAmount means a stake, or the sum of all stakes, is out of the
	// valid monetary range.
	InvalidAmount

	// DuplicateStake means the same outpoint appears twice in the proof.
	DuplicateStake

	// MissingUTXO means a staked output does not exist in the coin view,
	// either because it is not confirmed yet or because it was spent.
	MissingUTXO

	// HeightMismatch means a staked output was confirmed at a different
	// height than the proof claims.
	HeightMismatch

	// ImmatureUTXO means a staked output does not have enough
	// confirmations yet.
	ImmatureUTXO

	// AmountMismatch means a staked output holds a different value than
	// the proof claims.
	AmountMismatch

	// CoinbaseMismatch means the coinbase flag of a staked output does not
	// match the proof.
	CoinbaseMismatch
)

// String returns a human readable name for the result.
func (r ValidationResult) String() string {
	switch r {
	case Valid:
		return "valid"
	case NoStake:
		return "no-stake"
	case TooManyStakes:
		return "too-many-stakes"
	case DustThreshold:
		return "dust-threshold"
	case InvalidAmount:
		return "invalid-amount"
	case DuplicateStake:
		return "duplicate-stake"
	case MissingUTXO:
		return "missing-utxo"
	case HeightMismatch:
		return "height-mismatch"
	case ImmatureUTXO:
		return "immature-utxo"
	case AmountMismatch:
		return "amount-mismatch"
	case CoinbaseMismatch:
		return "coinbase-mismatch"
	default:
		return "unknown"
	}
}

// IsValid returns true if the result is Valid.
func (r ValidationResult) IsValid() bool {
	return r == Valid
}

// IsOrphan returns true if the failure is caused by the current state of
// the chain and may resolve itself once the chain moves.
func (r ValidationResult) IsOrphan() bool {
	switch r {
	case MissingUTXO, HeightMismatch, ImmatureUTXO:
		return true
	default:
		return false
	}
}

// CheckSanity performs the context free checks on the proof: it must commit
// to at least one and at most maxStakes stakes, every stake must be above the
// dust threshold, amounts must be in range and no outpoint may be staked
// twice.
func (p *Proof) CheckSanity(maxStakes int) ValidationResult {
	if len(p.Stakes) == 0 {
		return NoStake
	}
	if maxStakes > 0 && len(p.Stakes) > maxStakes {
		return TooManyStakes
	}

	var (
		total btcutil.Amount
		seen  = fn.NewSet[wire.OutPoint]()
	)
	for _, s := range p.Stakes {
		if s.Amount > btcutil.MaxSatoshi {
			return InvalidAmount
		}
		if s.Amount < StakeDustThreshold {
			return DustThreshold
		}

		total += s.Amount
		if total > btcutil.MaxSatoshi {
			return InvalidAmount
		}

		if seen.Contains(s.OutPoint) {
			return DuplicateStake
		}
		seen.Add(s.OutPoint)
	}

	return Valid
}

// VerifyStakes checks every stake of the proof against the coin view. An
// output must exist, be unspent, be confirmed at the claimed height with at
// least minConfs confirmations and match the claimed amount and coinbase
// flag.
func (p *Proof) VerifyStakes(view CoinView, minConfs uint32) ValidationResult {
	bestHeight := view.BestHeight()

	for _, s := range p.Stakes {
		if view.IsSpent(s.OutPoint) {
			return MissingUTXO
		}

		coin, err := view.FetchCoin(s.OutPoint).UnwrapOrErr(
			errCoinNotFound,
		)
		if err != nil {
			return MissingUTXO
		}

		if coin.Height != s.Height {
			return HeightMismatch
		}

		if coin.Confirmations(bestHeight) < minConfs {
			return ImmatureUTXO
		}

		if coin.Amount != s.Amount {
			return AmountMismatch
		}

		if coin.IsCoinbase != s.IsCoinbase {
			return CoinbaseMismatch
		}
	}

	return Valid
}

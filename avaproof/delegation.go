package avaproof

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Delegation authorizes a network node to speak on behalf of a proof. Each
// level hands the authority over to a new key, starting from the proof
// master. Level signatures are checked before a delegation is handed to the
// peer manager.
type Delegation struct {
	// Proof is the proof being delegated.
	Proof *Proof

	// Levels are the successive delegated keys.
	Levels []*btcec.PublicKey
}

// NewDelegation creates a delegation of the proof through the given keys. A
// delegation without levels lets the master key represent the proof
// directly.
func NewDelegation(proof *Proof, levels ...*btcec.PublicKey) *Delegation {
	return &Delegation{
		Proof:  proof,
		Levels: levels,
	}
}

// ProofID returns the id of the delegated proof.
func (d *Delegation) ProofID() ProofID {
	return d.Proof.ID()
}

// PubKey returns the key of the final delegate.
func (d *Delegation) PubKey() *btcec.PublicKey {
	if len(d.Levels) == 0 {
		return d.Proof.Master
	}

	return d.Levels[len(d.Levels)-1]
}

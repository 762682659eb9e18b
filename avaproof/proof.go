// Package avaproof defines the stake proofs that grant avalanche polling
// weight, together with the coin view abstraction used to check that the
// staked outputs backing a proof are confirmed and unspent.
//
// Signature and delegation chain verification are performed elsewhere; a
// Proof reaching this package is assumed to be well formed and signed.
package avaproof

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// ScoreUnit is the amount of staked value that is worth a single
	// point of score.
	ScoreUnit = btcutil.Amount(1_000_000)

	// StakeDustThreshold is the minimum amount a single stake must commit
	// for the proof to be considered.
	StakeDustThreshold = btcutil.Amount(btcutil.SatoshiPerBitcoin)

	// DefaultMaxProofStakes is the default maximum number of stakes a
	// single proof may carry.
	DefaultMaxProofStakes = 1000
)

// MinValidProofScore is the score of a proof that stakes exactly the dust
// threshold. No valid proof can have a lower score.
var MinValidProofScore = AmountToScore(StakeDustThreshold)

// AmountToScore converts a staked amount into selection score.
func AmountToScore(amt btcutil.Amount) uint32 {
	if amt <= 0 {
		return 0
	}

	return uint32(amt / ScoreUnit)
}

// ProofID uniquely identifies a proof. It commits to every field of the
// proof, so two proofs with the same stakes but different masters or
// sequence numbers have different ids.
type ProofID chainhash.Hash

// String returns the proof id in the same byte-reversed hex form used for
// transaction and block hashes.
func (p ProofID) String() string {
	return chainhash.Hash(p).String()
}

// Stake is a single unspent output committed to a proof.
type Stake struct {
	// OutPoint is the staked output.
	OutPoint wire.OutPoint

	// Amount is the value of the staked output.
	Amount btcutil.Amount

	// Height is the height at which the proof claims the output was
	// confirmed.
	Height uint32

	// IsCoinbase indicates whether the output was created by a coinbase
	// transaction.
	IsCoinbase bool

	// PubKey is the key the output is locked to.
	PubKey *btcec.PublicKey
}

// Proof is a claim over a set of stakes. Proofs are immutable once created
// and are shared by pointer between the components that track them.
type Proof struct {
	// Sequence allows the master to replace a proof with a newer one.
	Sequence uint64

	// Expiration is the unix time after which the proof should no longer
	// be considered. Zero means no expiration.
	Expiration int64

	// Master is the key that controls the proof and signs delegations.
	Master *btcec.PublicKey

	// Stakes is the ordered list of staked outputs.
	Stakes []Stake

	id    ProofID
	score uint32
}

// NewProof creates a proof and computes its id and score. The stakes slice
// is copied.
func NewProof(sequence uint64, expiration int64, master *btcec.PublicKey,
	stakes []Stake) *Proof {

	p := &Proof{
		Sequence:   sequence,
		Expiration: expiration,
		Master:     master,
		Stakes:     append([]Stake(nil), stakes...),
	}

	var total btcutil.Amount
	for _, s := range p.Stakes {
		total += s.Amount
	}
	if total > btcutil.MaxSatoshi {
		total = btcutil.MaxSatoshi
	}
	p.score = AmountToScore(total)
	p.id = p.computeID()

	return p
}

// ID returns the proof id.
func (p *Proof) ID() ProofID {
	return p.id
}

// Score returns the selection score granted by the proof.
func (p *Proof) Score() uint32 {
	return p.score
}

// StakedAmount returns the total value committed by the proof.
func (p *Proof) StakedAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, s := range p.Stakes {
		total += s.Amount
	}

	return total
}

// OutPoints returns the outpoints of all the stakes in order.
func (p *Proof) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(p.Stakes))
	for _, s := range p.Stakes {
		ops = append(ops, s.OutPoint)
	}

	return ops
}

// String returns a short human readable description of the proof.
func (p *Proof) String() string {
	return fmt.Sprintf("proof(id=%v, stakes=%d, score=%d)", p.id,
		len(p.Stakes), p.score)
}

// computeID hashes the canonical commitment of the proof.
func (p *Proof) computeID() ProofID {
	var (
		b       bytes.Buffer
		scratch [8]byte
	)

	binary.LittleEndian.PutUint64(scratch[:], p.Sequence)
	b.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(p.Expiration))
	b.Write(scratch[:])
	writePubKey(&b, p.Master)

	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarInt(&b, 0, uint64(len(p.Stakes)))
	for _, s := range p.Stakes {
		b.Write(s.OutPoint.Hash[:])
		binary.LittleEndian.PutUint32(scratch[:4], s.OutPoint.Index)
		b.Write(scratch[:4])
		binary.LittleEndian.PutUint64(scratch[:], uint64(s.Amount))
		b.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:4], s.Height)
		b.Write(scratch[:4])
		if s.IsCoinbase {
			b.WriteByte(1)
		} else {
			b.WriteByte(0)
		}
		writePubKey(&b, s.PubKey)
	}

	return ProofID(chainhash.DoubleHashH(b.Bytes()))
}

// writePubKey writes the compressed serialization of the key, or an all
// zero placeholder if the key is nil.
func writePubKey(b *bytes.Buffer, key *btcec.PublicKey) {
	if key == nil {
		var zero [btcec.PubKeyBytesLenCompressed]byte
		b.Write(zero[:])

		return
	}

	b.Write(key.SerializeCompressed())
}

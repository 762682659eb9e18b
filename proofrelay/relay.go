// Package proofrelay periodically announces the proofs of new peers until
// the announcement succeeds.
package proofrelay

import (
	"errors"
	"sync"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/lnd/ticker"
)

// ProofSource is the set of proofs waiting to be announced.
type ProofSource interface {
	// GetUnbroadcastProofs returns the proofs to announce.
	GetUnbroadcastProofs() []*avaproof.Proof

	// RemoveUnbroadcastProof marks the proof as announced.
	RemoveUnbroadcastProof(id avaproof.ProofID)
}

// Config holds the collaborators of a Relay.
type Config struct {
	// Source provides the proofs to announce.
	Source ProofSource

	// Broadcast sends the proof to the network.
	Broadcast func(*avaproof.Proof) error

	// Ticker triggers a round of announcements on each tick.
	Ticker ticker.Ticker
}

// Relay announces unbroadcast proofs on every tick. Proofs whose broadcast
// fails are retried on the next tick.
type Relay struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a relay.
func New(cfg Config) (*Relay, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("proof source must be set")

	case cfg.Broadcast == nil:
		return nil, errors.New("broadcast function must be set")

	case cfg.Ticker == nil:
		return nil, errors.New("ticker must be set")
	}

	return &Relay{
		cfg:  cfg,
		quit: make(chan struct{}),
	}, nil
}

// Start starts the relay.
func (r *Relay) Start() error {
	r.started.Do(func() {
		log.Info("Proof relay starting")

		r.cfg.Ticker.Resume()

		r.wg.Add(1)
		go r.relayProofs()
	})

	return nil
}

// Stop stops the relay and waits for it to exit.
func (r *Relay) Stop() error {
	r.stopped.Do(func() {
		log.Info("Proof relay shutting down...")
		defer log.Debug("Proof relay shutdown complete")

		close(r.quit)
		r.wg.Wait()

		r.cfg.Ticker.Stop()
	})

	return nil
}

// relayProofs runs a broadcast round on every tick.
//
// NOTE: Must be run as a goroutine.
func (r *Relay) relayProofs() {
	defer r.wg.Done()

	for {
		select {
		case <-r.cfg.Ticker.Ticks():
			r.broadcastRound()

		case <-r.quit:
			return
		}
	}
}

// broadcastRound announces every pending proof once and returns the number
// of successful announcements.
func (r *Relay) broadcastRound() int {
	proofs := r.cfg.Source.GetUnbroadcastProofs()
	if len(proofs) == 0 {
		return 0
	}

	var sent int
	for _, proof := range proofs {
		if err := r.cfg.Broadcast(proof); err != nil {
			log.Debugf("Unable to broadcast proof %v, will "+
				"retry: %v", proof.ID(), err)

			continue
		}

		r.cfg.Source.RemoveUnbroadcastProof(proof.ID())
		sent++
	}

	log.Debugf("Broadcast %d of %d pending proofs", sent, len(proofs))

	return sent
}

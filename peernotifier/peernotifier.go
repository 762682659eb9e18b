// Package peernotifier publishes the changes of the avalanche peer set to
// any number of subscribers.
package peernotifier

import (
	"sync"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/subscribe"
)

// Event is implemented by every event of the notifier.
type Event interface {
	// ProofID returns the proof the event is about.
	ProofID() avaproof.ProofID
}

// PeerAddedEvent represents a proof that became a peer.
type PeerAddedEvent struct {
	// Peer is the new peer.
	Peer peermanager.Peer
}

// ProofID returns the proof backing the peer.
func (e PeerAddedEvent) ProofID() avaproof.ProofID {
	return e.Peer.ProofID()
}

// PeerRemovedEvent represents a peer that went away.
type PeerRemovedEvent struct {
	// Peer is the removed peer.
	Peer peermanager.Peer
}

// ProofID returns the proof that backed the peer.
func (e PeerRemovedEvent) ProofID() avaproof.ProofID {
	return e.Peer.ProofID()
}

// ProofOrphanedEvent represents a proof that entered the orphan pool.
type ProofOrphanedEvent struct {
	// Proof is the orphaned proof.
	Proof *avaproof.Proof
}

// ProofID returns the id of the orphaned proof.
func (e ProofOrphanedEvent) ProofID() avaproof.ProofID {
	return e.Proof.ID()
}

// PeerNotifier is a subsystem which observes the peer manager. It takes
// subscriptions for its events, and whenever it observes a new event it
// notifies its subscribers.
type PeerNotifier struct {
	started sync.Once
	stopped sync.Once

	ntfnServer *subscribe.Server[Event]
}

// A compile-time check to ensure that PeerNotifier implements
// peermanager.EventNotifier.
var _ peermanager.EventNotifier = (*PeerNotifier)(nil)

// New creates a new peer notifier.
func New() *PeerNotifier {
	return &PeerNotifier{
		ntfnServer: subscribe.NewServer[Event](),
	}
}

// Start starts the PeerNotifier's subscription server.
func (p *PeerNotifier) Start() error {
	var err error
	p.started.Do(func() {
		log.Info("PeerNotifier starting")
		err = p.ntfnServer.Start()
	})

	return err
}

// Stop signals the notifier for a graceful shutdown.
func (p *PeerNotifier) Stop() error {
	var err error
	p.stopped.Do(func() {
		log.Info("PeerNotifier shutting down...")
		defer log.Debug("PeerNotifier shutdown complete")

		err = p.ntfnServer.Stop()
	})

	return err
}

// SubscribePeerEvents returns a client that will receive every event sent
// after the subscription.
func (p *PeerNotifier) SubscribePeerEvents() (*subscribe.Client[Event],
	error) {

	return p.ntfnServer.Subscribe()
}

// sendEvent hands the event to the subscription server.
func (p *PeerNotifier) sendEvent(event Event) {
	if err := p.ntfnServer.SendUpdate(event); err != nil {
		log.Warnf("Unable to send %T for proof %v: %v", event,
			event.ProofID(), err)
	}
}

// NotifyPeerAdded sends a peer added event to all subscribers.
//
// NOTE: Part of the peermanager.EventNotifier interface.
func (p *PeerNotifier) NotifyPeerAdded(peer peermanager.Peer) {
	log.Debugf("PeerNotifier notifying peer %d added", peer.ID)

	p.sendEvent(PeerAddedEvent{Peer: peer})
}

// NotifyPeerRemoved sends a peer removed event to all subscribers.
//
// NOTE: Part of the peermanager.EventNotifier interface.
func (p *PeerNotifier) NotifyPeerRemoved(peer peermanager.Peer) {
	log.Debugf("PeerNotifier notifying peer %d removed", peer.ID)

	p.sendEvent(PeerRemovedEvent{Peer: peer})
}

// NotifyProofOrphaned sends a proof orphaned event to all subscribers.
//
// NOTE: Part of the peermanager.EventNotifier interface.
func (p *PeerNotifier) NotifyProofOrphaned(proof *avaproof.Proof) {
	log.Debugf("PeerNotifier notifying proof %v orphaned", proof.ID())

	p.sendEvent(ProofOrphanedEvent{Proof: proof})
}

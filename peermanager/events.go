package peermanager

import "github.com/lightningnetwork/avapeer/avaproof"

// EventNotifier receives the changes of the peer set.
type EventNotifier interface {
	// NotifyPeerAdded is called when a proof becomes a peer.
	NotifyPeerAdded(peer Peer)

	// NotifyPeerRemoved is called when a peer is removed, demoted or
	// loses its last node.
	NotifyPeerRemoved(peer Peer)

	// NotifyProofOrphaned is called when a proof enters the orphan pool,
	// either on registration or on demotion of its peer.
	NotifyProofOrphaned(proof *avaproof.Proof)
}

// queueEventLocked schedules an event for delivery once the lock is
// released.
func (m *PeerManager) queueEventLocked(event func(EventNotifier)) {
	if m.cfg.Notifier == nil {
		return
	}

	m.events = append(m.events, event)
}

// unlock releases the lock and then delivers the queued events in order.
// Events queued by another caller after the release are delivered by that
// caller, possibly before these.
func (m *PeerManager) unlock() {
	events := m.events
	m.events = nil
	m.mu.Unlock()

	for _, event := range events {
		event(m.cfg.Notifier)
	}
}

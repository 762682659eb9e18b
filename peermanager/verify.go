package peermanager

import (
	"errors"
	"fmt"
)

// ErrInconsistentState is returned by Verify when the internal indexes of
// the peer manager disagree. It always indicates a bug.
var ErrInconsistentState = errors.New("peer manager state is inconsistent")

// Verify checks every internal invariant of the peer manager.
func (m *PeerManager) Verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.verifyLocked()
}

func (m *PeerManager) verifyLocked() error {
	if err := m.peers.verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentState, err)
	}

	if err := m.nodes.verify(&m.peers); err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentState, err)
	}

	if err := m.orphans.verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentState, err)
	}

	for id := range m.orphans.entries {
		if _, ok := m.peers.getByProof(id); ok {
			return fmt.Errorf("%w: proof %v is both orphan and "+
				"live", ErrInconsistentState, id)
		}
	}

	for id, node := range m.pending.nodes {
		if _, ok := m.nodes.get(id); ok {
			return fmt.Errorf("%w: node %d is both pending and "+
				"bound", ErrInconsistentState, id)
		}

		if !m.orphans.has(node.proofID) {
			return fmt.Errorf("%w: node %d is pending on proof %v "+
				"which is not an orphan", ErrInconsistentState,
				id, node.proofID)
		}
	}

	for id := range m.unbroadcast {
		if _, ok := m.peers.getByProof(id); !ok {
			return fmt.Errorf("%w: unbroadcast proof %v has no "+
				"peer", ErrInconsistentState, id)
		}
	}

	return nil
}

// debugCheckLocked verifies the state when debug checks are enabled and
// panics on failure.
func (m *PeerManager) debugCheckLocked() {
	if !m.cfg.DebugChecks {
		return
	}

	if err := m.verifyLocked(); err != nil {
		log.Criticalf("Unable to verify peer manager: %v", err)
		panic(err)
	}
}

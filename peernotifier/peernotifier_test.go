package peernotifier

import (
	"testing"
	"time"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/subscribe"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, client *subscribe.Client[Event]) Event {
	t.Helper()

	select {
	case event := <-client.Updates():
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// TestPeerEvents checks that the peer manager changes reach the subscribers
// in order.
func TestPeerEvents(t *testing.T) {
	t.Parallel()

	notifier := New()
	require.NoError(t, notifier.Start())
	t.Cleanup(func() {
		require.NoError(t, notifier.Stop())
	})

	client, err := notifier.SubscribePeerEvents()
	require.NoError(t, err)
	t.Cleanup(client.Cancel)

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pm, err := peermanager.New(peermanager.Config{
		CoinView:               chain.View,
		StakeUTXOConfirmations: 1,
		DebugChecks:            true,
		Notifier:               notifier,
	})
	require.NoError(t, err)

	live := chain.ConfirmedStake(prooftest.MinStake)
	liveProof := chain.Proof(live)
	peerID := pm.GetPeerID(liveProof)
	require.NotEqual(t, peermanager.NoPeer, peerID)

	added, ok := nextEvent(t, client).(PeerAddedEvent)
	require.True(t, ok)
	require.Equal(t, peerID, added.Peer.ID)
	require.Equal(t, liveProof.ID(), added.ProofID())

	orphan := chain.Proof(chain.UnconfirmedStake(prooftest.MinStake))
	require.Equal(t, peermanager.NoPeer, pm.GetPeerID(orphan))

	orphaned, ok := nextEvent(t, client).(ProofOrphanedEvent)
	require.True(t, ok)
	require.Equal(t, orphan.ID(), orphaned.ProofID())

	// Registering the orphan again does not repeat the event.
	require.Equal(t, peermanager.NoPeer, pm.GetPeerID(orphan))

	// Spending the stake demotes the peer back to the orphan pool.
	require.True(t, chain.Spend(live))
	pm.UpdatedBlockTip()

	removed, ok := nextEvent(t, client).(PeerRemovedEvent)
	require.True(t, ok)
	require.Equal(t, peerID, removed.Peer.ID)

	demoted, ok := nextEvent(t, client).(ProofOrphanedEvent)
	require.True(t, ok)
	require.Equal(t, liveProof.ID(), demoted.ProofID())

	var events []Event
	select {
	case event := <-client.Updates():
		events = append(events, event)
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, events)
}

// TestNotifierWithoutSubscribers checks that events are dropped when nobody
// listens and that a stopped notifier does not block the peer manager.
func TestNotifierWithoutSubscribers(t *testing.T) {
	t.Parallel()

	notifier := New()
	require.NoError(t, notifier.Start())

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pm, err := peermanager.New(peermanager.Config{
		CoinView: chain.View,
		Notifier: notifier,
	})
	require.NoError(t, err)

	require.NotEqual(t, peermanager.NoPeer,
		pm.GetPeerID(chain.ProofWithScore(100)))

	require.NoError(t, notifier.Stop())

	proof := chain.ProofWithScore(100)
	id := pm.GetPeerID(proof)
	require.NotEqual(t, peermanager.NoPeer, id)
	require.True(t, pm.AddNode(1, avaproof.NewDelegation(proof)))
	require.True(t, pm.RemovePeer(id))
}

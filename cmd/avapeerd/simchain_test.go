package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/tipwatch"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

func newTestSimChain(t *testing.T) (*simChain, *peermanager.PeerManager) {
	t.Helper()

	chain := newSimChain(7, ticker.NewForce(time.Hour))
	chain.spendOdds = 0
	chain.leaveOdds = 0
	pm, err := peermanager.New(peermanager.Config{
		CoinView:               chain.View(),
		StakeUTXOConfirmations: 1,
		DebugChecks:            true,
	})
	require.NoError(t, err)
	chain.setPeerManager(pm)

	return chain, pm
}

func receiveEpoch(t *testing.T,
	event *tipwatch.BlockEpochEvent) *tipwatch.BlockEpoch {

	t.Helper()

	select {
	case epoch, ok := <-event.Epochs:
		require.True(t, ok)
		return epoch

	case <-time.After(time.Second):
		t.Fatal("no epoch received")
		return nil
	}
}

// TestSimChainBlocks checks that mined blocks reach the clients and that the
// orphan announced with a block is promoted by the next one.
func TestSimChainBlocks(t *testing.T) {
	t.Parallel()

	chain, pm := newTestSimChain(t)
	chain.fund(3)
	require.Len(t, pm.GetPeers(), 3)
	require.Equal(t, 6, pm.Stats().Nodes)

	event, err := chain.RegisterBlockEpochNtfn(nil)
	require.NoError(t, err)

	tip := receiveEpoch(t, event)
	require.EqualValues(t, simStartHeight, tip.Height)
	require.Equal(t, blockHash(simStartHeight), tip.Hash)

	chain.mineBlock()
	epoch := receiveEpoch(t, event)
	require.EqualValues(t, simStartHeight+1, epoch.Height)

	// The proof announced with the block waits for its stake.
	stats := pm.Stats()
	require.Equal(t, 1, stats.OrphanProofs)
	require.Equal(t, 2, stats.PendingNodes)

	chain.mineBlock()
	receiveEpoch(t, event)
	pm.UpdatedBlockTip()

	stats = pm.Stats()
	require.Equal(t, 4, stats.Peers)
	require.Equal(t, 1, stats.OrphanProofs)
	require.Equal(t, 8, stats.Nodes)
	require.Equal(t, 2, stats.PendingNodes)
	require.NoError(t, pm.Verify())

	event.Cancel()
	_, ok := <-event.Epochs
	require.False(t, ok)

	// Cancelling twice is fine.
	event.Cancel()
}

// TestSimChainRun checks that the chain mines on ticks and closes its
// clients once stopped.
func TestSimChainRun(t *testing.T) {
	t.Parallel()

	chain, _ := newTestSimChain(t)
	force := chain.blockTicker.(*ticker.Force)

	event, err := chain.RegisterBlockEpochNtfn(&tipwatch.BlockEpoch{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- chain.run(ctx)
	}()

	force.Force <- time.Now()
	epoch := receiveEpoch(t, event)
	require.EqualValues(t, simStartHeight+1, epoch.Height)

	cancel()
	require.NoError(t, <-done)

	_, ok := <-event.Epochs
	require.False(t, ok)

	_, err = chain.RegisterBlockEpochNtfn(nil)
	require.ErrorIs(t, err, errChainStopped)
	require.ErrorIs(t, chain.Broadcast(nil), errChainStopped)
}

// TestPollLoop checks that polled nodes are put on cooldown.
func TestPollLoop(t *testing.T) {
	t.Parallel()

	chain, pm := newTestSimChain(t)
	chain.fund(1)

	pollTicker := ticker.NewForce(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pollLoop(ctx, pm, pollTicker, time.Hour)
	}()

	now := time.Now()
	for i := 0; i < nodesPerPeer; i++ {
		pollTicker.Force <- now
	}

	// Every node of the only peer is on cooldown.
	require.Eventually(t, func() bool {
		return pm.SelectNode() == peermanager.NoNode
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// TestSubLoggerManager checks that debug levels apply to the registered
// subsystem loggers.
func TestSubLoggerManager(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := btclog.NewDefaultHandler(&buf, btclog.WithNoTimestamp())
	root := newSubLoggerManager(handler)

	first := root.genSubLogger("AAAA")
	second := root.genSubLogger("BBBB")
	require.Equal(t, []string{"AAAA", "BBBB"}, root.SupportedSubsystems())

	err := build.ParseAndSetDebugLevels("error,AAAA=debug", root)
	require.NoError(t, err)
	require.Equal(t, btclog.LevelDebug, first.Level())
	require.Equal(t, btclog.LevelError, second.Level())

	first.Debugf("visible")
	second.Infof("hidden")
	require.Contains(t, buf.String(), "visible")
	require.NotContains(t, buf.String(), "hidden")

	require.Error(t, build.ParseAndSetDebugLevels("CCCC=info", root))
}

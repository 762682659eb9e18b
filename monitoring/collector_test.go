package monitoring

import (
	"testing"

	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// gatherGauges collects every gauge of the registry keyed by name and label
// value.
func gatherGauges(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	gauges := make(map[string]float64)
	for _, family := range families {
		require.Equal(t, dto.MetricType_GAUGE, family.GetType())

		for _, m := range family.GetMetric() {
			key := family.GetName()
			for _, label := range m.GetLabel() {
				key += "/" + label.GetValue()
			}
			gauges[key] = m.GetGauge().GetValue()
		}
	}

	return gauges
}

// TestPeerManagerCollector checks the exported values against the peer
// manager state.
func TestPeerManagerCollector(t *testing.T) {
	t.Parallel()

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	pm, err := peermanager.New(peermanager.Config{
		CoinView:    chain.View,
		DebugChecks: true,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPeerManagerCollector(pm))

	gauges := gatherGauges(t, reg)
	require.Zero(t, gauges["avapeer_peer_count"])
	require.Zero(t, gauges["avapeer_slot_count"])

	p1 := chain.ProofWithScore(100)
	p2 := chain.ProofWithScore(200)
	p3 := chain.ProofWithScore(300)
	for _, p := range []*avaproof.Proof{p1, p2, p3} {
		require.NotEqual(t, peermanager.NoPeer, pm.GetPeerID(p))
	}
	require.True(t, pm.AddNode(7, avaproof.NewDelegation(p1)))
	require.True(t, pm.RemovePeer(pm.GetPeerID(p2)))

	orphan := chain.Proof(chain.UnconfirmedStake(prooftest.MinStake))
	require.False(t, pm.AddNode(8, avaproof.NewDelegation(orphan)))

	gauges = gatherGauges(t, reg)
	require.EqualValues(t, 2, gauges["avapeer_peer_count"])
	require.EqualValues(t, 1, gauges["avapeer_node_count"])
	require.EqualValues(t, 1, gauges["avapeer_pending_node_count"])
	require.EqualValues(t, 1, gauges["avapeer_orphan_proof_count"])
	require.EqualValues(t, 1, gauges["avapeer_orphan_stake_count"])
	require.EqualValues(t, 600, gauges["avapeer_slot_count"])
	require.EqualValues(t, 200, gauges["avapeer_slot_fragmentation"])
	require.EqualValues(t, 2, gauges["avapeer_unbroadcast_proof_count"])
	require.EqualValues(t, 100, gauges["avapeer_peer_score_by_peer/0"])
	require.EqualValues(t, 300, gauges["avapeer_peer_score_by_peer/2"])
	require.EqualValues(t, 1, gauges["avapeer_peer_node_count_by_peer/0"])
	require.Zero(t, gauges["avapeer_peer_node_count_by_peer/2"])
}

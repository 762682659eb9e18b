package monitoring

import (
	"strconv"

	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/prometheus/client_golang/prometheus"
)

// PeerSource is the view of the peer manager the collector exports.
type PeerSource interface {
	// Stats returns the size of the peer manager state.
	Stats() peermanager.Stats

	// GetPeers returns the live peers.
	GetPeers() []peermanager.Peer
}

// PeerManagerCollector exports the state of the peer manager.
type PeerManagerCollector struct {
	source PeerSource

	peersDesc         *prometheus.Desc
	nodesDesc         *prometheus.Desc
	pendingNodesDesc  *prometheus.Desc
	orphanProofsDesc  *prometheus.Desc
	orphanStakesDesc  *prometheus.Desc
	slotCountDesc     *prometheus.Desc
	fragmentationDesc *prometheus.Desc
	unbroadcastDesc   *prometheus.Desc

	// ByPeer (peer_id)
	scoreDesc     *prometheus.Desc
	nodeCountDesc *prometheus.Desc
}

// NewPeerManagerCollector creates a collector over the source.
func NewPeerManagerCollector(source PeerSource) *PeerManagerCollector {
	labels := []string{"peer_id"}

	return &PeerManagerCollector{
		source: source,
		peersDesc: prometheus.NewDesc(
			"avapeer_peer_count",
			"Number of live peers.",
			nil, nil,
		),
		nodesDesc: prometheus.NewDesc(
			"avapeer_node_count",
			"Number of nodes bound to a peer.",
			nil, nil,
		),
		pendingNodesDesc: prometheus.NewDesc(
			"avapeer_pending_node_count",
			"Number of nodes waiting on an orphan proof.",
			nil, nil,
		),
		orphanProofsDesc: prometheus.NewDesc(
			"avapeer_orphan_proof_count",
			"Number of proofs in the orphan pool.",
			nil, nil,
		),
		orphanStakesDesc: prometheus.NewDesc(
			"avapeer_orphan_stake_count",
			"Number of stakes held by orphan proofs.",
			nil, nil,
		),
		slotCountDesc: prometheus.NewDesc(
			"avapeer_slot_count",
			"Span of the peer selection slot table.",
			nil, nil,
		),
		fragmentationDesc: prometheus.NewDesc(
			"avapeer_slot_fragmentation",
			"Slot space lost to removed peers.",
			nil, nil,
		),
		unbroadcastDesc: prometheus.NewDesc(
			"avapeer_unbroadcast_proof_count",
			"Number of proofs waiting to be announced.",
			nil, nil,
		),
		scoreDesc: prometheus.NewDesc(
			"avapeer_peer_score_by_peer",
			"Selection score by peer.",
			labels, nil,
		),
		nodeCountDesc: prometheus.NewDesc(
			"avapeer_peer_node_count_by_peer",
			"Number of nodes by peer.",
			labels, nil,
		),
	}
}

// Describe sends the descriptors of the exported metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *PeerManagerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peersDesc
	ch <- c.nodesDesc
	ch <- c.pendingNodesDesc
	ch <- c.orphanProofsDesc
	ch <- c.orphanStakesDesc
	ch <- c.slotCountDesc
	ch <- c.fragmentationDesc
	ch <- c.unbroadcastDesc
	ch <- c.scoreDesc
	ch <- c.nodeCountDesc
}

// Collect sends the current value of every metric.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *PeerManagerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(
			desc, prometheus.GaugeValue, v, labels...,
		)
	}

	gauge(c.peersDesc, float64(stats.Peers))
	gauge(c.nodesDesc, float64(stats.Nodes))
	gauge(c.pendingNodesDesc, float64(stats.PendingNodes))
	gauge(c.orphanProofsDesc, float64(stats.OrphanProofs))
	gauge(c.orphanStakesDesc, float64(stats.OrphanStakes))
	gauge(c.slotCountDesc, float64(stats.SlotCount))
	gauge(c.fragmentationDesc, float64(stats.Fragmentation))
	gauge(c.unbroadcastDesc, float64(stats.UnbroadcastProofs))

	for _, peer := range c.source.GetPeers() {
		id := strconv.FormatUint(uint64(peer.ID), 10)

		gauge(c.scoreDesc, float64(peer.Score()), id)
		gauge(c.nodeCountDesc, float64(peer.NodeCount), id)
	}

	log.Tracef("Collected peer manager metrics for %d peers", stats.Peers)
}

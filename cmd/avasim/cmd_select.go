package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/urfave/cli"
)

var selectCommand = cli.Command{
	Name:  "select",
	Usage: "Compare the observed node selection against the peer scores.",
	Description: `
	Registers peers with increasing scores, binds one node to each and
	draws nodes. Each peer should be selected in proportion to its score.
	Removing peers before drawing exercises the tombstones of the slot
	table, optionally compacted away.
	`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "peers",
			Value: 8,
			Usage: "number of peers to register",
		},
		cli.IntFlag{
			Name:  "draws",
			Value: 100_000,
			Usage: "number of nodes to draw",
		},
		cli.IntFlag{
			Name:  "remove",
			Usage: "number of peers to remove before drawing",
		},
		cli.BoolFlag{
			Name:  "compact",
			Usage: "compact the slot table before drawing",
		},
	},
	Action: selectNodes,
}

// selectParams are the parameters of a selection run.
type selectParams struct {
	peers   int
	draws   int
	remove  int
	compact bool
}

// peerSelection is the outcome of a selection run for a single peer.
type peerSelection struct {
	id       peermanager.PeerID
	score    uint32
	expected float64
	observed float64
}

// selectionResult is the outcome of a selection run.
type selectionResult struct {
	peers         []peerSelection
	misses        int
	slotCount     uint64
	fragmentation uint64
	reclaimed     uint64
}

func selectNodes(ctx *cli.Context) error {
	params := selectParams{
		peers:   ctx.Int("peers"),
		draws:   ctx.Int("draws"),
		remove:  ctx.Int("remove"),
		compact: ctx.Bool("compact"),
	}

	env, err := newSimEnv(ctx)
	if err != nil {
		return err
	}

	result, err := runSelection(env, params)
	if err != nil {
		return err
	}

	t := newTable(
		fmt.Sprintf("%d draws over %d peers", params.draws,
			len(result.peers)),
		table.Row{"Peer", "Score", "Expected", "Observed", "Delta"},
	)
	for _, p := range result.peers {
		t.AppendRow(table.Row{
			p.id, p.score,
			fmt.Sprintf("%.2f%%", p.expected*100),
			fmt.Sprintf("%.2f%%", p.observed*100),
			fmt.Sprintf("%+.2f%%", (p.observed-p.expected)*100),
		})
	}
	t.AppendFooter(table.Row{
		"Slots", result.slotCount,
		"Fragmentation", result.fragmentation,
		fmt.Sprintf("misses %d, reclaimed %d", result.misses,
			result.reclaimed),
	})
	t.Render()

	return nil
}

// runSelection registers the peers, applies the removals and draws nodes.
func runSelection(env *simEnv, params selectParams) (*selectionResult,
	error) {

	switch {
	case params.peers <= 0:
		return nil, errors.New("at least one peer is needed")

	case params.remove < 0 || params.remove >= params.peers:
		return nil, fmt.Errorf("can remove between 0 and %d peers",
			params.peers-1)

	case params.draws <= 0:
		return nil, errors.New("at least one draw is needed")
	}

	nodeToPeer := make(map[peermanager.NodeID]peermanager.PeerID)
	ids := make([]peermanager.PeerID, 0, params.peers)
	for i := 0; i < params.peers; i++ {
		score := uint32(i+1) * avaproof.MinValidProofScore
		proof := env.chain.ProofWithScore(score)

		id, res := env.pm.RegisterProof(proof)
		if res != peermanager.Registered {
			return nil, fmt.Errorf("unable to register peer %d: %v",
				i, res)
		}

		nodeID := peermanager.NodeID(i)
		if !env.pm.AddNode(nodeID, avaproof.NewDelegation(proof)) {
			return nil, fmt.Errorf("unable to add node %d", nodeID)
		}
		nodeToPeer[nodeID] = id
		ids = append(ids, id)
	}

	// Remove the even peers first, then the odd ones, so that the
	// tombstones are spread over the table.
	order := make([]peermanager.PeerID, 0, len(ids))
	for i := 0; i < len(ids); i += 2 {
		order = append(order, ids[i])
	}
	for i := 1; i < len(ids); i += 2 {
		order = append(order, ids[i])
	}
	for _, id := range order[:params.remove] {
		env.pm.RemovePeer(id)
	}

	result := &selectionResult{}
	if params.compact {
		result.reclaimed = env.pm.Compact()
	}
	result.slotCount = env.pm.GetSlotCount()
	result.fragmentation = env.pm.GetFragmentation()

	counts := make(map[peermanager.PeerID]int)
	for i := 0; i < params.draws; i++ {
		nodeID := env.pm.SelectNode()
		if nodeID == peermanager.NoNode {
			result.misses++
			continue
		}
		counts[nodeToPeer[nodeID]]++
	}

	peers := env.pm.GetPeers()
	var total uint64
	for _, peer := range peers {
		total += uint64(peer.Score())
	}
	for _, peer := range peers {
		result.peers = append(result.peers, peerSelection{
			id:       peer.ID,
			score:    peer.Score(),
			expected: float64(peer.Score()) / float64(total),
			observed: float64(counts[peer.ID]) /
				float64(params.draws),
		})
	}
	sort.Slice(result.peers, func(i, j int) bool {
		return result.peers[i].id < result.peers[j].id
	})

	return result, nil
}

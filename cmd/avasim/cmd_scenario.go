package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/avapeer/avaproof"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/urfave/cli"
)

var scenarioCommand = cli.Command{
	Name:      "scenario",
	Usage:     "Replay a proof lifecycle scenario step by step.",
	ArgsUsage: "orphans | compaction",
	Description: `
	orphans:    three proofs backed by a confirmed, an unconfirmed and a
	            height mismatched stake go through a block, a spend and
	            a reorg.
	compaction: four peers of equal score are removed from the middle,
	            the end and the front of the slot table, which is then
	            compacted.
	`,
	Action: runScenarioCommand,
}

// scenarioStep is the peer manager state after a step of a scenario.
type scenarioStep struct {
	name          string
	peers         int
	orphans       int
	pendingNodes  int
	slotCount     uint64
	fragmentation uint64
}

// scenarioRecorder collects the state of the peer manager after each step.
type scenarioRecorder struct {
	env   *simEnv
	steps []scenarioStep
}

// record appends the current state under the step name.
func (r *scenarioRecorder) record(format string, args ...any) {
	stats := r.env.pm.Stats()
	r.steps = append(r.steps, scenarioStep{
		name:          fmt.Sprintf(format, args...),
		peers:         stats.Peers,
		orphans:       stats.OrphanProofs,
		pendingNodes:  stats.PendingNodes,
		slotCount:     stats.SlotCount,
		fragmentation: stats.Fragmentation,
	})
}

// scenarios maps the scenario names to their implementation.
var scenarios = map[string]func(*simEnv) ([]scenarioStep, error){
	"orphans":    orphanScenario,
	"compaction": compactionScenario,
}

func runScenarioCommand(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "scenario")
	}

	name := ctx.Args().First()
	scenario, ok := scenarios[name]
	if !ok {
		return fmt.Errorf("unknown scenario %q", name)
	}

	env, err := newSimEnv(ctx)
	if err != nil {
		return err
	}

	steps, err := scenario(env)
	if err != nil {
		return err
	}

	t := newTable(
		fmt.Sprintf("scenario %s", name),
		table.Row{
			"Step", "Peers", "Orphans", "Pending nodes", "Slots",
			"Fragmentation",
		},
	)
	for _, step := range steps {
		t.AppendRow(table.Row{
			step.name, step.peers, step.orphans, step.pendingNodes,
			step.slotCount, step.fragmentation,
		})
	}
	t.Render()

	return env.pm.Verify()
}

// orphanScenario walks proofs through the orphan pool.
func orphanScenario(env *simEnv) ([]scenarioStep, error) {
	chain := env.chain
	rec := &scenarioRecorder{env: env}

	confirmed := chain.ConfirmedStake(prooftest.MinStake)
	unconfirmed := chain.UnconfirmedStake(prooftest.MinStake)
	mismatched := chain.StakeAt(
		chain.OutPoint(), prooftest.MinStake, prooftest.DefaultHeight-50,
	)
	chain.ConfirmAt(mismatched, prooftest.DefaultHeight-40)

	proofs := []*avaproof.Proof{
		chain.Proof(confirmed), chain.Proof(unconfirmed),
		chain.Proof(mismatched),
	}
	for i, proof := range proofs {
		_, res := env.pm.RegisterProof(proof)
		env.pm.AddNode(
			peermanager.NodeID(i), avaproof.NewDelegation(proof),
		)
		rec.record("register proof %d: %v", i+1, res)
	}

	chain.Confirm(unconfirmed)
	env.pm.UpdatedBlockTip()
	rec.record("block confirms proof 2")

	if !chain.Spend(confirmed) {
		return nil, fmt.Errorf("stake of proof 1 already spent")
	}
	env.pm.UpdatedBlockTip()
	rec.record("block spends proof 1")

	chain.Confirm(confirmed)
	env.pm.UpdatedBlockTip()
	rec.record("reorg restores proof 1")

	return rec.steps, nil
}

// compactionScenario fragments the slot table and compacts it.
func compactionScenario(env *simEnv) ([]scenarioStep, error) {
	rec := &scenarioRecorder{env: env}

	ids := make([]peermanager.PeerID, 4)
	for i := range ids {
		proof := env.chain.ProofWithScore(avaproof.MinValidProofScore)

		var res peermanager.RegistrationResult
		ids[i], res = env.pm.RegisterProof(proof)
		if res != peermanager.Registered {
			return nil, fmt.Errorf("unable to register peer %d: %v",
				i, res)
		}
	}
	rec.record("register 4 peers")

	for _, i := range []int{1, 3, 0} {
		if !env.pm.RemovePeer(ids[i]) {
			return nil, fmt.Errorf("peer %d not removed", ids[i])
		}
		rec.record("remove peer %d", ids[i])
	}

	reclaimed := env.pm.Compact()
	rec.record("compact, reclaimed %d", reclaimed)

	return rec.steps, nil
}

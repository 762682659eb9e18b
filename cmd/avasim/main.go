// Command avasim exercises the peer manager on an in-memory chain and prints
// the outcome as tables.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/internal/prooftest"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/urfave/cli"
)

// simStartTime is the wall clock time simulations start at.
var simStartTime = time.Unix(1_700_000_000, 0)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[avasim] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "avasim"
	app.Version = fmt.Sprintf("%s commit=%s", build.Version(), build.Commit)
	app.Usage = "simulate avalanche peer selection and proof lifecycles"
	app.Flags = []cli.Flag{
		cli.Uint64Flag{
			Name:  "seed",
			Usage: "seed of the selection PRNG; 0 picks a random one",
		},
		cli.BoolFlag{
			Name:  "debugchecks",
			Usage: "verify the peer manager state after every change",
		},
	}
	app.Commands = []cli.Command{
		selectCommand,
		scenarioCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// simEnv is a peer manager over a fresh in-memory chain.
type simEnv struct {
	chain *prooftest.Chain
	clock *clock.TestClock
	pm    *peermanager.PeerManager
}

// newSimEnv creates the environment from the global flags.
func newSimEnv(ctx *cli.Context) (*simEnv, error) {
	return newSimEnvWithSeed(
		ctx.GlobalUint64("seed"), ctx.GlobalBool("debugchecks"),
	)
}

// newSimEnvWithSeed creates an environment whose selection draws are seeded.
func newSimEnvWithSeed(seed uint64, debugChecks bool) (*simEnv, error) {
	if seed == 0 {
		seed = rand.Uint64()
	}

	chain := prooftest.NewChain(prooftest.DefaultHeight)
	testClock := clock.NewTestClock(simStartTime)

	pm, err := peermanager.New(peermanager.Config{
		CoinView:    chain.View,
		Clock:       testClock,
		Rand:        rand.New(rand.NewPCG(seed, ^seed)),
		DebugChecks: build.DebugChecks(debugChecks),
	})
	if err != nil {
		return nil, err
	}

	return &simEnv{
		chain: chain,
		clock: testClock,
		pm:    pm,
	}, nil
}

// newTable creates a table writing to stdout.
func newTable(title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.AppendHeader(header)

	return t
}

// Command avapeerd runs the avalanche peer manager against a simulated chain.
// It registers funded peers, mines blocks that confirm and spend their
// stakes, polls nodes and announces new proofs, exporting the peer manager
// state to Prometheus when built with the monitoring tag.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/avapeer/avacfg"
	"github.com/lightningnetwork/avapeer/build"
	"github.com/lightningnetwork/avapeer/monitoring"
	"github.com/lightningnetwork/avapeer/peernotifier"
	"github.com/lightningnetwork/avapeer/peermanager"
	"github.com/lightningnetwork/avapeer/proofrelay"
	"github.com/lightningnetwork/avapeer/signal"
	"github.com/lightningnetwork/avapeer/subscribe"
	"github.com/lightningnetwork/avapeer/tipwatch"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// pollInterval is the interval between two simulated polls.
	pollInterval = 100 * time.Millisecond

	// pollCooldown is the time a polled node is left alone.
	pollCooldown = time.Second
)

func main() {
	// Hook interceptor for os signals.
	interceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load the configuration, and parse any command line options.
	cfg, err := avacfg.LoadConfig(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if cfg.ShowVersion {
		fmt.Println("avapeerd version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := Main(cfg, interceptor); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main is the true entry point of avapeerd. It returns once the interceptor
// signals a shutdown or a subsystem fails.
func Main(cfg *avacfg.Config, interceptor signal.Interceptor) error {
	// Set up the loggers before anything else so startup is logged.
	rotator := build.NewRotatingLogWriter()
	root := newSubLoggerManager(build.NewRootHandler(cfg.LogConfig, rotator))
	setupLoggers(root, interceptor)

	if !cfg.LogConfig.File.Disable {
		logFile := filepath.Join(cfg.LogDir, avacfg.DefaultLogFilename)
		err := rotator.InitLogRotator(cfg.LogConfig.File, logFile)
		if err != nil {
			return fmt.Errorf("unable to init log rotator: %w", err)
		}
	}
	defer func() {
		if err := rotator.Close(); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
	}()

	if cfg.DebugLevel == build.ShowSubsystems {
		fmt.Println("Supported subsystems",
			root.SupportedSubsystems())

		return nil
	}

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		return err
	}

	avpdLog.Infof("Version: %s commit=%s, build=%s, logging=%s",
		build.Version(), build.Commit, build.Deployment,
		build.LoggingType)

	if err := cfg.ConfigFileError(); err != nil {
		avpdLog.Warnf("%v", err)
	}

	notifier := peernotifier.New()
	if err := notifier.Start(); err != nil {
		return err
	}
	defer func() {
		_ = notifier.Stop()
	}()

	events, err := notifier.SubscribePeerEvents()
	if err != nil {
		return err
	}
	defer events.Cancel()

	chain := newSimChain(cfg.Sim.Seed, ticker.New(cfg.Sim.BlockInterval))

	pmCfg := cfg.PeerManagerConfig(chain.View())
	pmCfg.Notifier = notifier

	pm, err := peermanager.New(pmCfg)
	if err != nil {
		return fmt.Errorf("unable to create peer manager: %w", err)
	}
	chain.setPeerManager(pm)

	if cfg.Prometheus.Enabled() {
		if !monitoring.Enabled {
			return errors.New("avapeerd must be built with the " +
				"monitoring tag to export Prometheus metrics")
		}

		err := monitoring.ExportPrometheusMetrics(
			*cfg.Prometheus, monitoring.NewPeerManagerCollector(pm),
		)
		if err != nil {
			return fmt.Errorf("unable to start metrics exporter: "+
				"%w", err)
		}
	}

	watcher, err := tipwatch.New(tipwatch.Config{
		Notifier:         chain,
		PeerManager:      pm,
		CompactThreshold: cfg.TipWatch.CompactThreshold,
	})
	if err != nil {
		return err
	}

	relay, err := proofrelay.New(proofrelay.Config{
		Source:    pm,
		Broadcast: chain.Broadcast,
		Ticker:    ticker.New(cfg.Relay.Interval),
	})
	if err != nil {
		return err
	}

	chain.fund(cfg.Sim.Peers)
	avpdLog.Infof("Funded %d peers, slot count %d", cfg.Sim.Peers,
		pm.GetSlotCount())

	if err := watcher.Start(); err != nil {
		return err
	}
	defer func() {
		_ = watcher.Stop()
	}()

	if err := relay.Start(); err != nil {
		return err
	}
	defer func() {
		_ = relay.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()
		case <-ctx.Done():
		}

		return nil
	})
	g.Go(func() error {
		return chain.run(ctx)
	})
	g.Go(func() error {
		return logPeerEvents(ctx, events)
	})
	g.Go(func() error {
		return pollLoop(ctx, pm, ticker.New(pollInterval), pollCooldown)
	})

	avpdLog.Info("avapeerd started")

	err = g.Wait()

	stats := pm.Stats()
	avpdLog.Infof("Shutting down with %d peers, %d nodes, %d orphans, "+
		"%d proofs announced", stats.Peers, stats.Nodes,
		stats.OrphanProofs, chain.numBroadcast())

	return err
}

// logPeerEvents logs the changes of the peer set until the context is done.
func logPeerEvents(ctx context.Context,
	client *subscribe.Client[peernotifier.Event]) error {

	for {
		select {
		case event := <-client.Updates():
			switch e := event.(type) {
			case peernotifier.PeerAddedEvent:
				avpdLog.Infof("Peer %d joined with score %d",
					e.Peer.ID, e.Peer.Score())

			case peernotifier.PeerRemovedEvent:
				avpdLog.Infof("Peer %d left after %v", e.Peer.ID,
					time.Since(e.Peer.RegistrationTime))

			case peernotifier.ProofOrphanedEvent:
				avpdLog.Infof("Proof %v waits for its stakes",
					e.ProofID())
			}

		case <-client.Quit():
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

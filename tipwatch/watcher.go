// Package tipwatch drives the peer manager from chain tip notifications.
package tipwatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultCompactThreshold is the share of the slot space that may be lost to
// removed peers before the watcher compacts the slot table.
const DefaultCompactThreshold = 0.25

// ErrNoNotifier is returned when the watcher has no chain notifier.
var ErrNoNotifier = errors.New("chain notifier must be set")

// BlockEpoch describes a new chain tip.
type BlockEpoch struct {
	// Hash is the hash of the block.
	Hash *chainhash.Hash

	// Height is the height of the block.
	Height int32
}

// BlockEpochEvent delivers block epochs to a single client.
type BlockEpochEvent struct {
	// Epochs receives a notification for each new block. The channel is
	// closed when the notifier shuts down.
	Epochs <-chan *BlockEpoch

	// Cancel stops the delivery of epochs.
	Cancel func()
}

// ChainNotifier delivers new chain tips.
type ChainNotifier interface {
	// RegisterBlockEpochNtfn registers for new block notifications. If
	// bestBlock is nil the current tip is sent right away.
	RegisterBlockEpochNtfn(bestBlock *BlockEpoch) (*BlockEpochEvent, error)
}

// PeerManager is the part of the peer manager the watcher drives.
type PeerManager interface {
	// UpdatedBlockTip reassesses every proof against the new tip.
	UpdatedBlockTip()

	// GetSlotCount returns the span of the slot table.
	GetSlotCount() uint64

	// GetFragmentation returns the slot space lost to removed peers.
	GetFragmentation() uint64

	// Compact reclaims the slot space of removed peers.
	Compact() uint64
}

// Config holds the collaborators of a Watcher.
type Config struct {
	// Notifier delivers new chain tips.
	Notifier ChainNotifier

	// PeerManager is notified of every new tip.
	PeerManager PeerManager

	// CompactThreshold is the share of fragmented slot space above which
	// the slot table is compacted after a tip update. Zero disables
	// compaction.
	CompactThreshold float64
}

// Watcher calls UpdatedBlockTip on the peer manager for every new block and
// keeps the slot table compact.
type Watcher struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	height atomic.Int32

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher.
func New(cfg Config) (*Watcher, error) {
	switch {
	case cfg.Notifier == nil:
		return nil, ErrNoNotifier

	case cfg.PeerManager == nil:
		return nil, errors.New("peer manager must be set")

	case cfg.CompactThreshold < 0 || cfg.CompactThreshold > 1:
		return nil, fmt.Errorf("invalid compact threshold %v",
			cfg.CompactThreshold)
	}

	return &Watcher{
		cfg:  cfg,
		quit: make(chan struct{}),
	}, nil
}

// Start registers for block notifications and starts processing them.
func (w *Watcher) Start() error {
	var startErr error
	w.started.Do(func() {
		log.Info("Tip watcher starting")

		epochs, err := w.cfg.Notifier.RegisterBlockEpochNtfn(nil)
		if err != nil {
			startErr = fmt.Errorf("register block epoch ntfn: %w",
				err)
			return
		}

		w.wg.Add(1)
		go w.watchBlocks(epochs)
	})

	return startErr
}

// Stop stops processing block notifications and waits for the watcher to
// exit.
func (w *Watcher) Stop() error {
	w.stopped.Do(func() {
		log.Info("Tip watcher shutting down...")
		defer log.Debug("Tip watcher shutdown complete")

		close(w.quit)
		w.wg.Wait()
	})

	return nil
}

// CurrentHeight returns the height of the last processed block.
func (w *Watcher) CurrentHeight() int32 {
	return w.height.Load()
}

// watchBlocks processes block epochs until the watcher is stopped or the
// notifier goes away.
//
// NOTE: Must be run as a goroutine.
func (w *Watcher) watchBlocks(epochs *BlockEpochEvent) {
	defer w.wg.Done()
	defer epochs.Cancel()

	for {
		select {
		case epoch, ok := <-epochs.Epochs:
			if !ok {
				log.Debugf("Block epoch channel closed")
				return
			}

			w.handleEpoch(epoch)

		case <-w.quit:
			return
		}
	}
}

// handleEpoch reassesses the proofs for the new tip and compacts the slot
// table once too much of it is fragmented.
func (w *Watcher) handleEpoch(epoch *BlockEpoch) {
	log.Debugf("New block %v at height %d", epoch.Hash, epoch.Height)

	w.cfg.PeerManager.UpdatedBlockTip()
	w.height.Store(epoch.Height)

	if !w.needsCompaction() {
		return
	}

	reclaimed := w.cfg.PeerManager.Compact()
	log.Infof("Compacted slot table at height %d, reclaimed %d slots",
		epoch.Height, reclaimed)
}

// needsCompaction returns true if the fragmented share of the slot table is
// above the threshold.
func (w *Watcher) needsCompaction() bool {
	if w.cfg.CompactThreshold == 0 {
		return false
	}

	frag := w.cfg.PeerManager.GetFragmentation()
	if frag == 0 {
		return false
	}

	count := w.cfg.PeerManager.GetSlotCount()

	return float64(frag) > w.cfg.CompactThreshold*float64(count)
}

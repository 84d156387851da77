package contractcourt

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/lightningnetwork/lnd/ticker"
)

// SweepEvent describes an encumbrance released to the local party.
type SweepEvent struct {
	// ChannelID is the channel that timed out.
	ChannelID ledgertypes.ChannelID

	// Outputs are the payouts created for the local party.
	Outputs []ledgertypes.OutputID
}

// SweeperConfig bundles the subsystems used by the timeout sweeper.
type SweeperConfig struct {
	// Resolver submits the timeouts.
	Resolver ChannelResolver

	// Channels lists the stored channels.
	Channels ChannelLister

	// Heights supplies the current height.
	Heights Heights

	// Signer is the local party. Only commitments it proposed are swept.
	Signer keychain.DigestSigner

	// Ticker paces the sweeps.
	Ticker ticker.Ticker

	// Swept, if set, receives every successful timeout.
	Swept chan<- *SweepEvent
}

// TimeoutSweeper periodically claims the encumbered value of commitments
// the local party published once their lock height has been reached.
type TimeoutSweeper struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg *SweeperConfig

	ctx    context.Context
	cancel context.CancelFunc

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTimeoutSweeper creates a new sweeper.
func NewTimeoutSweeper(cfg *SweeperConfig) *TimeoutSweeper {
	ctx, cancel := context.WithCancel(context.Background())

	return &TimeoutSweeper{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *TimeoutSweeper) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	swprLog.Infof("Timeout sweeper starting for %v", s.cfg.Signer.Party())

	s.cfg.Ticker.Resume()

	s.wg.Add(1)
	go s.collector()

	return nil
}

// Stop halts the sweep loop and waits for it to exit.
func (s *TimeoutSweeper) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return nil
	}

	swprLog.Infof("Timeout sweeper shutting down...")

	close(s.quit)
	s.cancel()
	s.wg.Wait()

	s.cfg.Ticker.Stop()

	return nil
}

// collector runs a sweep on every tick.
//
// NOTE: This MUST be run as a goroutine.
func (s *TimeoutSweeper) collector() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if err := s.Sweep(); err != nil {
				swprLog.Errorf("Sweep failed: %v", err)
			}

		case <-s.quit:
			return
		}
	}
}

// Sweep times out every expired commitment proposed by the local party and
// returns the first error hit. Remaining channels are still attempted.
func (s *TimeoutSweeper) Sweep() error {
	local := s.cfg.Signer.Party()
	height := s.cfg.Heights.CurrentHeight()

	var expired []ledgertypes.ChannelID
	err := s.cfg.Channels.ForEachChannel(func(c *ledgerdb.Channel) error {
		if !c.Open {
			return nil
		}
		c.Encumbrance.WhenSome(func(enc ledgerdb.Encumbrance) {
			if enc.Proposer == local && height >= enc.LockHeight {
				expired = append(expired, c.ID)
			}
		})

		return nil
	})
	if err != nil {
		return err
	}

	if len(expired) == 0 {
		return nil
	}

	swprLog.Debugf("Sweeping %d expired commitments at height %v",
		len(expired), height)

	var firstErr error
	for _, id := range expired {
		if err := s.sweepChannel(id); err != nil {
			swprLog.Errorf("Unable to time out channel %v: %v", id,
				err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// sweepChannel submits the timeout of a single channel.
func (s *TimeoutSweeper) sweepChannel(id ledgertypes.ChannelID) error {
	sig, err := s.cfg.Signer.SignDigest(chanstate.TimeoutDigest(id))
	if err != nil {
		return err
	}

	outputs, err := s.cfg.Resolver.Timeout(s.ctx, id, sig)
	if err != nil {
		return err
	}

	swprLog.Infof("Channel %v timed out, swept outputs %v", id, outputs)

	if s.cfg.Swept != nil {
		select {
		case s.cfg.Swept <- &SweepEvent{
			ChannelID: id,
			Outputs:   outputs,
		}:
		case <-s.quit:
		}
	}

	return nil
}

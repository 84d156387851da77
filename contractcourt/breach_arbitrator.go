package contractcourt

import (
	"context"
	"errors"
	"sync"

	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
)

// BreachEvent describes a stale commitment that was challenged.
type BreachEvent struct {
	// ChannelID is the encumbered channel that was claimed.
	ChannelID ledgertypes.ChannelID

	// Breacher published the stale commitment.
	Breacher ledgertypes.Party

	// Outputs are the payouts created for the local party.
	Outputs []ledgertypes.OutputID
}

// BreachConfig bundles the subsystems used by the breach arbitrator.
type BreachConfig struct {
	// Resolver submits challenges to the ledger.
	Resolver ChannelResolver

	// Notifier delivers committed ledger events.
	Notifier EventSubscriber

	// Signer is the local party. Only commitments published by its
	// counterparties are watched.
	Signer keychain.DigestSigner

	// Secrets holds the revocation secrets the counterparties revealed.
	Secrets SecretLookup

	// Breaches, if set, receives every successful challenge.
	Breaches chan<- *BreachEvent
}

// BreachArbitrator watches for stale commitments published by a
// counterparty of the local party and challenges them with the matching
// revocation secret before their lock height passes.
type BreachArbitrator struct {
	started sync.Once
	stopped sync.Once

	cfg *BreachConfig

	client *notifier.Client

	ctx    context.Context
	cancel context.CancelFunc

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewBreachArbitrator creates a new breach arbitrator.
func NewBreachArbitrator(cfg *BreachConfig) *BreachArbitrator {
	ctx, cancel := context.WithCancel(context.Background())

	return &BreachArbitrator{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Start subscribes to ledger events and launches the observer goroutine.
func (b *BreachArbitrator) Start() error {
	var err error
	b.started.Do(func() {
		brarLog.Infof("Breach arbitrator starting for %v",
			b.cfg.Signer.Party())

		b.client, err = b.cfg.Notifier.Subscribe()
		if err != nil {
			return
		}

		b.wg.Add(1)
		go b.contractObserver()
	})

	return err
}

// Stop signals the observer to exit and waits for it.
func (b *BreachArbitrator) Stop() error {
	b.stopped.Do(func() {
		brarLog.Infof("Breach arbitrator shutting down...")
		defer brarLog.Debug("Breach arbitrator shutdown complete")

		close(b.quit)
		b.cancel()
		if b.client != nil {
			b.client.Cancel()
		}
		b.wg.Wait()
	})

	return nil
}

// contractObserver handles every ChannelCommitted event.
//
// NOTE: This MUST be run as a goroutine.
func (b *BreachArbitrator) contractObserver() {
	defer b.wg.Done()

	for {
		select {
		case item, ok := <-b.client.Updates():
			if !ok {
				return
			}

			env, ok := item.(*notifier.Envelope)
			if !ok {
				continue
			}
			committed, ok := env.Event.(*ledger.ChannelCommitted)
			if !ok {
				continue
			}

			if err := b.handleCommitment(committed); err != nil {
				brarLog.Errorf("Unable to handle commitment of "+
					"channel %v: %v", committed.Parent, err)
			}

		case <-b.client.Quit():
			return

		case <-b.quit:
			return
		}
	}
}

// handleCommitment challenges a published commitment if it is one the local
// party holds the revocation secret of.
func (b *BreachArbitrator) handleCommitment(
	ev *ledger.ChannelCommitted) error {

	local := b.cfg.Signer.Party()
	if ev.Proposer == local {
		return nil
	}

	channel, err := b.cfg.Resolver.Channel(ev.ID)
	if err != nil {
		return err
	}
	if !channel.HasParty(local) {
		return nil
	}

	secretOpt, err := b.cfg.Secrets.LookupSecret(ev.Parent, ev.HashLock)
	if err != nil {
		return err
	}
	if secretOpt.IsNone() {
		brarLog.Debugf("Commitment %v of channel %v by %v is current",
			ev.ID, ev.Parent, ev.Proposer)
		return nil
	}
	secret := secretOpt.UnsafeFromSome()

	brarLog.Warnf("Revoked commitment %v of channel %v published by %v, "+
		"challenging before height %v", ev.ID, ev.Parent, ev.Proposer,
		ev.LockHeight)

	sig, err := b.cfg.Signer.SignDigest(
		chanstate.ChallengeDigest(ev.ID, secret),
	)
	if err != nil {
		return err
	}

	outputs, err := b.cfg.Resolver.Challenge(
		b.ctx, ev.ID, local, secret, sig,
	)
	switch {
	// Someone else holding the secret got there first.
	case errors.Is(err, ledgerdb.ErrChannelClosed):
		brarLog.Infof("Channel %v already resolved", ev.ID)
		return nil

	case err != nil:
		return err
	}

	brarLog.Infof("Challenged channel %v, claimed outputs %v", ev.ID,
		outputs)

	if b.cfg.Breaches != nil {
		select {
		case b.cfg.Breaches <- &BreachEvent{
			ChannelID: ev.ID,
			Breacher:  ev.Proposer,
			Outputs:   outputs,
		}:
		case <-b.quit:
		}
	}

	return nil
}

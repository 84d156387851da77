package contractcourt

import (
	"context"
	"testing"
	"time"

	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertest"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
	"github.com/chanledger/chanledger/script"
	"github.com/chanledger/chanledger/shachain"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

const testWindow = 144

type courtHarness struct {
	t *testing.T

	db       *ledgerdb.DB
	engine   *ledger.Engine
	machine  *chanstate.Machine
	heights  *ledgertest.HeightOracle
	gateway  *ledgertest.MemGateway
	notifier *notifier.Server
	archive  *RevocationArchive

	alice *keychain.PrivKeyDigestSigner
	bob   *keychain.PrivKeyDigestSigner

	// aliceSecrets produces the revocation secrets of alice's
	// commitments.
	aliceSecrets *shachain.RevocationProducer
}

func newCourtHarness(t *testing.T) *courtHarness {
	t.Helper()

	h := &courtHarness{
		t:       t,
		db:      ledgertest.MakeTestDB(t),
		heights: ledgertest.NewHeightOracle(0),
		gateway: ledgertest.NewMemGateway(),
		alice:   ledgertest.NewSigner(t),
		bob:     ledgertest.NewSigner(t),
	}

	root, err := ledgertypes.RandomPreimage()
	require.NoError(t, err)
	h.aliceSecrets = shachain.NewRevocationProducer(root)

	h.notifier, err = notifier.NewServer(&notifier.Config{})
	require.NoError(t, err)
	require.NoError(t, h.notifier.Start())
	t.Cleanup(func() {
		require.NoError(t, h.notifier.Stop())
	})

	h.engine, err = ledger.New(&ledger.Config{
		DB:      h.db,
		Gateway: h.gateway,
		Heights: h.heights,
		Sinks:   []ledger.EventSink{h.notifier},
	})
	require.NoError(t, err)
	h.machine = chanstate.NewMachine(h.engine)

	h.archive, err = NewRevocationArchive(h.db.Backend())
	require.NoError(t, err)

	return h
}

func (h *courtHarness) deposit(p ledgertypes.Party,
	amt ledgertypes.Amount) ledgertypes.OutputID {

	h.t.Helper()

	h.gateway.Fund(p, amt)
	id, err := h.engine.Deposit(context.Background(), p, amt)
	require.NoError(h.t, err)

	return id
}

// fund opens a channel between alice and bob.
func (h *courtHarness) fund(valueA, valueB ledgertypes.Amount) ledgertypes.ChannelID {
	h.t.Helper()

	req := &chanstate.FundRequest{
		InputA: h.deposit(h.alice.Party(), valueA),
		InputB: h.deposit(h.bob.Party(), valueB),
		PartyA: h.alice.Party(),
		PartyB: h.bob.Party(),
	}
	digest := req.Digest()

	var err error
	req.SigA, err = h.alice.SignDigest(digest)
	require.NoError(h.t, err)
	req.SigB, err = h.bob.SignDigest(digest)
	require.NoError(h.t, err)

	id, err := h.machine.Fund(context.Background(), req)
	require.NoError(h.t, err)

	return id
}

// aliceSecret returns the revocation secret of alice's commitment n.
func (h *courtHarness) aliceSecret(n uint64) ledgertypes.Preimage {
	h.t.Helper()

	secret, err := h.aliceSecrets.AtIndex(n)
	require.NoError(h.t, err)

	return secret
}

// commitment builds alice's co-signed commitment number n.
func (h *courtHarness) commitment(id ledgertypes.ChannelID, n uint64,
	valueA, valueB ledgertypes.Amount) *chanstate.SignedCommitment {

	h.t.Helper()

	c, err := h.machine.Channel(id)
	require.NoError(h.t, err)

	enc, err := chanstate.NewEncumbrance(
		c, h.alice.Party(), valueA, valueB, testWindow,
		chanstate.HashLockFromSecret(h.aliceSecret(n)),
	)
	require.NoError(h.t, err)

	sc, err := chanstate.SignCommitment(enc, h.alice, h.bob)
	require.NoError(h.t, err)

	return sc
}

func (h *courtHarness) startArbitrator(
	breaches chan *BreachEvent) *BreachArbitrator {

	h.t.Helper()

	arb := NewBreachArbitrator(&BreachConfig{
		Resolver: h.machine,
		Notifier: h.notifier,
		Signer:   h.bob,
		Secrets:  h.archive,
		Breaches: breaches,
	})
	require.NoError(h.t, arb.Start())
	h.t.Cleanup(func() {
		require.NoError(h.t, arb.Stop())
	})

	return arb
}

// TestRevocationArchive checks secrets are persisted per channel and found
// by their hash lock.
func TestRevocationArchive(t *testing.T) {
	t.Parallel()

	h := newCourtHarness(t)
	chanID := ledgertypes.ChannelID{1}
	other := ledgertypes.ChannelID{2}

	for n := uint64(0); n < 5; n++ {
		require.NoError(t, h.archive.AddSecret(chanID, h.aliceSecret(n)))
	}

	num, err := h.archive.NumSecrets(chanID)
	require.NoError(t, err)
	require.EqualValues(t, 5, num)

	// Every revealed secret is found through the hash index.
	for n := uint64(0); n < 5; n++ {
		secret, err := h.archive.LookupSecret(
			chanID, h.aliceSecret(n).Hash(),
		)
		require.NoError(t, err)
		require.Equal(t, h.aliceSecret(n), secret.UnsafeFromSome())
	}
	secret, err := h.archive.LookupSecret(chanID, h.aliceSecret(3).Hash())
	require.NoError(t, err)
	require.Equal(t, h.aliceSecret(3), secret.UnsafeFromSome())

	// The next secret hasn't been revealed.
	secret, err = h.archive.LookupSecret(chanID, h.aliceSecret(5).Hash())
	require.NoError(t, err)
	require.True(t, secret.IsNone())

	// Nothing is recorded for another channel.
	secret, err = h.archive.LookupSecret(other, h.aliceSecret(3).Hash())
	require.NoError(t, err)
	require.True(t, secret.IsNone())

	// A secret skipping a commitment is refused.
	err = h.archive.AddSecret(chanID, h.aliceSecret(6))
	require.ErrorIs(t, err, shachain.ErrSecretMismatch)

	// The refused secret wasn't indexed.
	secret, err = h.archive.LookupSecret(chanID, h.aliceSecret(6).Hash())
	require.NoError(t, err)
	require.True(t, secret.IsNone())

	require.NoError(t, h.archive.Remove(chanID))
	num, err = h.archive.NumSecrets(chanID)
	require.NoError(t, err)
	require.Zero(t, num)

	// Removal drops the index with the store, and is idempotent.
	secret, err = h.archive.LookupSecret(chanID, h.aliceSecret(3).Hash())
	require.NoError(t, err)
	require.True(t, secret.IsNone())
	require.NoError(t, h.archive.Remove(chanID))
	require.NoError(t, h.archive.Remove(other))

	require.NoError(t, h.archive.AddSecret(chanID, h.aliceSecret(0)))
	secret, err = h.archive.LookupSecret(chanID, h.aliceSecret(0).Hash())
	require.NoError(t, err)
	require.Equal(t, h.aliceSecret(0), secret.UnsafeFromSome())
}

// TestBreachArbitratorChallenges publishes a revoked commitment of alice and
// expects bob's arbitrator to claim the whole channel.
func TestBreachArbitratorChallenges(t *testing.T) {
	t.Parallel()

	h := newCourtHarness(t)
	chanID := h.fund(95000, 5000)

	// Alice moved past commitment 0 and revealed its secret to bob.
	stale := h.commitment(chanID, 0, 90000, 10000)
	require.NoError(t, h.archive.AddSecret(chanID, h.aliceSecret(0)))

	breaches := make(chan *BreachEvent, 1)
	h.startArbitrator(breaches)

	successorID, err := h.machine.Commit(context.Background(), stale)
	require.NoError(t, err)

	var breach *BreachEvent
	select {
	case breach = <-breaches:
	case <-time.After(5 * time.Second):
		t.Fatalf("revoked commitment not challenged")
	}

	require.Equal(t, successorID, breach.ChannelID)
	require.Equal(t, h.alice.Party(), breach.Breacher)
	require.Len(t, breach.Outputs, 1)

	out, err := h.engine.FetchOutput(breach.Outputs[0])
	require.NoError(t, err)
	require.EqualValues(t, 90000, out.Value)
	require.Equal(t, script.NewPayable(h.bob.Party()), out.Script)

	successor, err := h.machine.Channel(successorID)
	require.NoError(t, err)
	require.False(t, successor.Open)
}

// TestTimeoutSweeper publishes alice's current commitment, which bob cannot
// challenge, and lets alice's sweeper release it once the lock expires.
func TestTimeoutSweeper(t *testing.T) {
	t.Parallel()

	h := newCourtHarness(t)
	chanID := h.fund(95000, 5000)

	require.NoError(t, h.archive.AddSecret(chanID, h.aliceSecret(0)))
	h.startArbitrator(nil)

	current := h.commitment(chanID, 1, 60000, 40000)
	successorID, err := h.machine.Commit(context.Background(), current)
	require.NoError(t, err)

	mockTicker := ticker.NewForce(time.Minute)
	swept := make(chan *SweepEvent, 1)
	sweeper := NewTimeoutSweeper(&SweeperConfig{
		Resolver: h.machine,
		Channels: h.engine,
		Heights:  h.heights,
		Signer:   h.alice,
		Ticker:   mockTicker,
		Swept:    swept,
	})
	require.NoError(t, sweeper.Start())
	t.Cleanup(func() {
		require.NoError(t, sweeper.Stop())
	})

	// Before the lock height nothing is swept.
	require.NoError(t, sweeper.Sweep())
	select {
	case <-swept:
		t.Fatalf("swept before lock height")
	default:
	}

	h.heights.SetHeight(testWindow)
	mockTicker.Force <- time.Now()

	var ev *SweepEvent
	select {
	case ev = <-swept:
	case <-time.After(5 * time.Second):
		t.Fatalf("expired commitment not swept")
	}

	require.Equal(t, successorID, ev.ChannelID)
	require.Len(t, ev.Outputs, 1)

	out, err := h.engine.FetchOutput(ev.Outputs[0])
	require.NoError(t, err)
	require.EqualValues(t, 60000, out.Value)
	require.Equal(t, script.NewPayable(h.alice.Party()), out.Script)

	// The channel is closed, a further sweep finds nothing.
	require.NoError(t, sweeper.Sweep())
}

// TestSweeperIgnoresCounterparty checks bob's sweeper never touches a
// commitment alice published.
func TestSweeperIgnoresCounterparty(t *testing.T) {
	t.Parallel()

	h := newCourtHarness(t)
	chanID := h.fund(50000, 50000)

	_, err := h.machine.Commit(
		context.Background(), h.commitment(chanID, 0, 50000, 50000),
	)
	require.NoError(t, err)
	h.heights.SetHeight(10 * testWindow)

	swept := make(chan *SweepEvent, 1)
	sweeper := NewTimeoutSweeper(&SweeperConfig{
		Resolver: h.machine,
		Channels: h.engine,
		Heights:  h.heights,
		Signer:   h.bob,
		Ticker:   ticker.NewForce(time.Minute),
		Swept:    swept,
	})
	require.NoError(t, sweeper.Sweep())
	require.Empty(t, swept)
}

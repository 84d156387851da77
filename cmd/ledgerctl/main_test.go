package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/contractcourt"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
	"github.com/chanledger/chanledger/script"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

type ctlHarness struct {
	t       *testing.T
	dataDir string

	alice ledgertypes.Party
	bob   ledgertypes.Party

	// aliceKeyFile holds the hex private key of alice.
	aliceKeyFile string

	live     ledgertypes.OutputID
	spent    ledgertypes.OutputID
	htlc     ledgertypes.OutputID
	open     ledgertypes.ChannelID
	closed   ledgertypes.ChannelID
	hashLock ledgertypes.Hash
}

func newParty(t *testing.T) ledgertypes.Party {
	t.Helper()

	signer, err := keychain.GenerateSigner()
	require.NoError(t, err)

	return signer.Party()
}

// newKeyFile writes a fresh private key to a file and returns its path and
// party.
func newKeyFile(t *testing.T) (string, ledgertypes.Party) {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signer, err := keychain.NewPrivKeyDigestSigner(priv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.hex")
	err = os.WriteFile(
		path, []byte(hex.EncodeToString(priv.Serialize())+"\n"), 0600,
	)
	require.NoError(t, err)

	return path, signer.Party()
}

// newCtlHarness writes a small ledger to a fresh data directory.
func newCtlHarness(t *testing.T) *ctlHarness {
	t.Helper()

	aliceKeyFile, alice := newKeyFile(t)

	h := &ctlHarness{
		t:            t,
		dataDir:      t.TempDir(),
		aliceKeyFile: aliceKeyFile,
		alice:        alice,
		bob:          newParty(t),
		live:         ledgertypes.OutputID{1},
		spent:        ledgertypes.OutputID{2},
		htlc:         ledgertypes.OutputID{3},
		open:         ledgertypes.ChannelID{4},
		closed:       ledgertypes.ChannelID{5},
		hashLock:     ledgertypes.PreimageFromUint64(7).Hash(),
	}

	db, err := ledgerdb.Open(&ledgerdb.Config{DBPath: h.dataDir})
	require.NoError(t, err)

	err = db.Update(func(tx *ledgerdb.Tx) error {
		outputs := []*ledgerdb.Output{{
			ID:     h.live,
			Value:  100,
			Script: script.NewPayable(h.alice),
		}, {
			ID:     h.spent,
			Value:  50,
			Script: script.NewPayable(h.bob),
		}, {
			ID:    h.htlc,
			Value: 25,
			Script: &script.HTLC{
				Delay:           10,
				RedemptionParty: h.alice,
				TimeoutParty:    h.bob,
				HashLock:        h.hashLock,
			},
			CreatedAt: 3,
		}}
		for _, o := range outputs {
			if err := tx.CreateOutput(o); err != nil {
				return err
			}
		}
		if _, err := tx.ConsumeOutput(h.spent); err != nil {
			return err
		}

		err := tx.CreateChannel(&ledgerdb.Channel{
			ID:     h.closed,
			PartyA: h.alice,
			PartyB: h.bob,
			ValueA: 60,
			ValueB: 40,
			Open:   true,
		})
		if err != nil {
			return err
		}
		if _, err := tx.CloseChannel(h.closed); err != nil {
			return err
		}

		return tx.CreateChannel(&ledgerdb.Channel{
			ID:       h.open,
			PartyA:   h.alice,
			PartyB:   h.bob,
			ValueA:   60,
			FundedAt: 5,
			Parent:   fn.Some(h.closed),
			Encumbrance: fn.Some(ledgerdb.Encumbrance{
				Proposer:    h.alice,
				HashLock:    h.hashLock,
				LockHeight:  15,
				Window:      10,
				CommittedAt: 5,
			}),
			Open: true,
		})
	}, func() {})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	t.Cleanup(func() {
		ledgerdb.DisableLog()
		ledger.DisableLog()
		chanstate.DisableLog()
		notifier.DisableLog()
		contractcourt.DisableLog()
	})

	return h
}

// run executes ledgerctl against the harness data directory and decodes the
// JSON it prints into resp.
func (h *ctlHarness) run(resp interface{}, args ...string) error {
	h.t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	argv := append([]string{"ledgerctl", "--datadir=" + h.dataDir}, args...)
	if err := app.Run(argv); err != nil {
		return err
	}

	return json.Unmarshal(out.Bytes(), resp)
}

func TestListOutputs(t *testing.T) {
	h := newCtlHarness(t)

	var outputs []*outputJSON
	require.NoError(t, h.run(&outputs, "listoutputs"))
	require.Len(t, outputs, 2)

	require.NoError(t, h.run(&outputs, "listoutputs", "--all"))
	require.Len(t, outputs, 3)

	require.NoError(t, h.run(&outputs, "listoutputs", "--kind=htlc"))
	require.Len(t, outputs, 1)
	require.Equal(t, h.htlc.String(), outputs[0].ID)
	require.Equal(t, "HTLC", outputs[0].Script.Kind)
	require.Equal(t, h.hashLock.String(), outputs[0].Script.HashLock)
	require.EqualValues(t, 10, outputs[0].Script.Delay)
}

func TestGetOutput(t *testing.T) {
	h := newCtlHarness(t)

	var output outputJSON
	require.NoError(t, h.run(&output, "getoutput", h.spent.String()))
	require.False(t, output.Live)
	require.EqualValues(t, 50, output.Value)
	require.Equal(t, h.bob.String(), output.Script.Recipient)

	err := h.run(&output, "getoutput", ledgertypes.OutputID{9}.String())
	require.ErrorIs(t, err, ledgerdb.ErrOutputNotFound)

	require.Error(t, h.run(&output, "getoutput", "zz"))
}

func TestListChannels(t *testing.T) {
	h := newCtlHarness(t)

	var channels []*channelJSON
	require.NoError(t, h.run(&channels, "listchannels"))
	require.Len(t, channels, 1)

	c := channels[0]
	require.Equal(t, h.open.String(), c.ID)
	require.Equal(t, h.closed.String(), c.Parent)
	require.NotNil(t, c.Encumbrance)
	require.Equal(t, h.alice.String(), c.Encumbrance.Proposer)
	require.EqualValues(t, 15, c.Encumbrance.LockHeight)

	require.NoError(t, h.run(&channels, "listchannels", "--all"))
	require.Len(t, channels, 2)

	var channel channelJSON
	require.NoError(t, h.run(&channel, "getchannel", h.closed.String()))
	require.False(t, channel.Open)
	require.Nil(t, channel.Encumbrance)
}

func TestStats(t *testing.T) {
	h := newCtlHarness(t)

	var s statsJSON
	require.NoError(t, h.run(&s, "stats"))
	require.Equal(t, 3, s.Outputs)
	require.Equal(t, 2, s.LiveOutputs)
	require.EqualValues(t, 125, s.LiveValue)
	require.Equal(t, 2, s.Channels)
	require.Equal(t, 1, s.OpenChannels)
	require.Equal(t, 1, s.Encumbered)
	require.EqualValues(t, 60, s.LockedValue)
	require.EqualValues(t, 185, s.CustodyTotal)
	require.Equal(t, map[string]int{"Payable": 1, "HTLC": 1},
		s.ScriptsByKind)
}

func TestDecodeScript(t *testing.T) {
	alice := newParty(t)
	raw, err := script.Serialize(script.NewPayable(alice))
	require.NoError(t, err)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err = app.Run([]string{
		"ledgerctl", "decodescript", hex.EncodeToString(raw),
	})
	require.NoError(t, err)

	var s scriptJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	require.Equal(t, "Payable", s.Kind)
	require.Equal(t, alice.String(), s.Recipient)

	err = app.Run([]string{"ledgerctl", "decodescript", "ff"})
	require.ErrorIs(t, err, script.ErrUnknownScript)
}

func TestSweep(t *testing.T) {
	h := newCtlHarness(t)

	var events []*eventJSON
	err := h.run(&events, "sweep", "--height=15")
	require.ErrorContains(t, err, "--keyfile")

	err = h.run(&events, "sweep", "--keyfile="+h.aliceKeyFile)
	require.ErrorContains(t, err, "--height")

	// The lock height of the pending commitment hasn't been reached.
	require.NoError(t, h.run(
		&events, "sweep", "--keyfile="+h.aliceKeyFile, "--height=14",
	))
	require.Empty(t, events)

	// Commitments published by another party are left alone.
	otherKeyFile, _ := newKeyFile(t)
	require.NoError(t, h.run(
		&events, "sweep", "--keyfile="+otherKeyFile, "--height=15",
	))
	require.Empty(t, events)

	require.NoError(t, h.run(
		&events, "sweep", "--keyfile="+h.aliceKeyFile, "--height=15",
	))
	require.Len(t, events, 2)

	require.Equal(t, "OutputCreated", events[0].Event)
	require.EqualValues(t, 1, events[0].Seq)
	require.NotNil(t, events[0].Output)
	require.EqualValues(t, 60, events[0].Output.Value)
	require.EqualValues(t, 15, events[0].Output.CreatedAt)
	require.Equal(t, h.alice.String(), events[0].Output.Script.Recipient)

	require.Equal(t, "ChannelTimedOut", events[1].Event)
	require.Equal(t, h.open.String(), events[1].ChannelID)

	var channel channelJSON
	require.NoError(t, h.run(&channel, "getchannel", h.open.String()))
	require.False(t, channel.Open)

	var output outputJSON
	require.NoError(t, h.run(
		&output, "getoutput", events[0].Output.ID,
	))
	require.True(t, output.Live)

	// Nothing is left to sweep.
	require.NoError(t, h.run(
		&events, "sweep", "--keyfile="+h.aliceKeyFile, "--height=20",
	))
	require.Empty(t, events)
}

// TestSweepConfig checks that the sweep honors the id policy of the config
// file and reads the height from a file.
func TestSweepConfig(t *testing.T) {
	h := newCtlHarness(t)

	conf := "[Application Options]\nidpolicy=sequential\n"
	err := os.WriteFile(
		filepath.Join(h.dataDir, "ledger.conf"), []byte(conf), 0600,
	)
	require.NoError(t, err)

	heightFile := filepath.Join(t.TempDir(), "height")
	require.NoError(t, os.WriteFile(heightFile, []byte("16\n"), 0600))

	var events []*eventJSON
	require.NoError(t, h.run(
		&events, "sweep", "--keyfile="+h.aliceKeyFile,
		"--heightfile="+heightFile,
	))
	require.Len(t, events, 2)
	require.NotNil(t, events[0].Output)
	require.EqualValues(t, 16, events[0].Output.CreatedAt)

	// Sequential ids only use the last eight bytes.
	require.True(t, strings.HasPrefix(
		events[0].Output.ID, strings.Repeat("0", 48),
	), events[0].Output.ID)

	err = os.WriteFile(
		filepath.Join(h.dataDir, "ledger.conf"),
		[]byte("[Application Options]\nidpolicy=random\n"), 0600,
	)
	require.NoError(t, err)
	err = h.run(&events, "sweep", "--keyfile="+h.aliceKeyFile,
		"--heightfile="+heightFile)
	require.Error(t, err)

	require.Error(t, h.run(
		&events, "sweep", "--keyfile="+h.aliceKeyFile,
		"--heightfile="+filepath.Join(t.TempDir(), "missing"),
	))
}

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
	"github.com/chanledger/chanledger/script"
)

type scriptJSON struct {
	Kind            string `json:"kind"`
	Raw             string `json:"raw"`
	Recipient       string `json:"recipient,omitempty"`
	PartyA          string `json:"party_a,omitempty"`
	PartyB          string `json:"party_b,omitempty"`
	Delay           uint32 `json:"delay,omitempty"`
	DelayedParty    string `json:"delayed_party,omitempty"`
	RevocationParty string `json:"revocation_party,omitempty"`
	RedemptionParty string `json:"redemption_party,omitempty"`
	TimeoutParty    string `json:"timeout_party,omitempty"`
	HashLock        string `json:"hash_lock,omitempty"`
}

type outputJSON struct {
	ID        string      `json:"id"`
	Value     int64       `json:"value"`
	CreatedAt uint32      `json:"created_at"`
	Live      bool        `json:"live"`
	Script    *scriptJSON `json:"script"`
}

type encumbranceJSON struct {
	Proposer    string `json:"proposer"`
	HashLock    string `json:"hash_lock"`
	Window      uint32 `json:"window"`
	CommittedAt uint32 `json:"committed_at"`
	LockHeight  uint32 `json:"lock_height"`
}

type channelJSON struct {
	ID          string           `json:"id"`
	PartyA      string           `json:"party_a"`
	PartyB      string           `json:"party_b"`
	ValueA      int64            `json:"value_a"`
	ValueB      int64            `json:"value_b"`
	FundedAt    uint32           `json:"funded_at"`
	Open        bool             `json:"open"`
	Parent      string           `json:"parent,omitempty"`
	Encumbrance *encumbranceJSON `json:"encumbrance,omitempty"`
}

type statsJSON struct {
	Outputs       int            `json:"outputs"`
	LiveOutputs   int            `json:"live_outputs"`
	LiveValue     int64          `json:"live_value"`
	Channels      int            `json:"channels"`
	OpenChannels  int            `json:"open_channels"`
	LockedValue   int64          `json:"locked_value"`
	Encumbered    int            `json:"encumbered"`
	CustodyTotal  int64          `json:"custody_total"`
	ScriptsByKind map[string]int `json:"scripts_by_kind"`
}

type eventJSON struct {
	Seq       uint64      `json:"seq"`
	Time      string      `json:"time"`
	Event     string      `json:"event"`
	ChannelID string      `json:"channel_id,omitempty"`
	Output    *outputJSON `json:"output,omitempty"`
	Party     string      `json:"party,omitempty"`
}

func newEventJSON(env *notifier.Envelope) (*eventJSON, error) {
	j := &eventJSON{
		Seq:   env.Seq,
		Time:  env.Time.UTC().Format(time.RFC3339Nano),
		Event: env.Event.EventName(),
	}

	switch e := env.Event.(type) {
	case *ledger.OutputCreated:
		s, err := newScriptJSON(e.Script)
		if err != nil {
			return nil, err
		}
		j.Output = &outputJSON{
			ID:        e.ID.String(),
			Value:     int64(e.Value),
			CreatedAt: uint32(e.Height),
			Live:      true,
			Script:    s,
		}

	case *ledger.OutputWithdrawn:
		j.Party = e.Claimant.String()

	case *ledger.ChannelFunded:
		j.ChannelID = e.ID.String()

	case *ledger.ChannelCommitted:
		j.ChannelID = e.ID.String()
		j.Party = e.Proposer.String()

	case *ledger.ChannelBreached:
		j.ChannelID = e.ID.String()
		j.Party = e.BreachingParty.String()

	case *ledger.ChannelTimedOut:
		j.ChannelID = e.ID.String()

	case *ledger.ChannelSettled:
		j.ChannelID = e.ID.String()
	}

	return j, nil
}

func newScriptJSON(s script.Script) (*scriptJSON, error) {
	raw, err := script.Serialize(s)
	if err != nil {
		return nil, err
	}

	j := &scriptJSON{
		Kind: s.Kind().String(),
		Raw:  hex.EncodeToString(raw),
	}
	switch s := s.(type) {
	case *script.Payable:
		j.Recipient = s.Recipient.String()

	case *script.Multisig:
		j.PartyA = s.PartyA.String()
		j.PartyB = s.PartyB.String()

	case *script.LocalCommitment:
		j.Delay = s.Delay
		j.DelayedParty = s.DelayedParty.String()
		j.RevocationParty = s.RevocationParty.String()

	case *script.HTLC:
		j.Delay = s.Delay
		j.RedemptionParty = s.RedemptionParty.String()
		j.TimeoutParty = s.TimeoutParty.String()
		j.HashLock = s.HashLock.String()

	default:
		return nil, fmt.Errorf("unknown script %T", s)
	}

	return j, nil
}

func newOutputJSON(o *ledgerdb.Output) (*outputJSON, error) {
	s, err := newScriptJSON(o.Script)
	if err != nil {
		return nil, err
	}

	return &outputJSON{
		ID:        o.ID.String(),
		Value:     int64(o.Value),
		CreatedAt: uint32(o.CreatedAt),
		Live:      o.Exists,
		Script:    s,
	}, nil
}

func newChannelJSON(c *ledgerdb.Channel) *channelJSON {
	j := &channelJSON{
		ID:       c.ID.String(),
		PartyA:   c.PartyA.String(),
		PartyB:   c.PartyB.String(),
		ValueA:   int64(c.ValueA),
		ValueB:   int64(c.ValueB),
		FundedAt: uint32(c.FundedAt),
		Open:     c.Open,
	}
	c.Parent.WhenSome(func(id ledgertypes.ChannelID) {
		j.Parent = id.String()
	})
	c.Encumbrance.WhenSome(func(e ledgerdb.Encumbrance) {
		j.Encumbrance = &encumbranceJSON{
			Proposer:    e.Proposer.String(),
			HashLock:    e.HashLock.String(),
			Window:      e.Window,
			CommittedAt: uint32(e.CommittedAt),
			LockHeight:  uint32(e.LockHeight),
		}
	})

	return j
}

func printJSON(w io.Writer, resp interface{}) error {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n", b)

	return err
}

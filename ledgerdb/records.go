package ledgerdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// Output record types.
	outputValueType     tlv.Type = 0
	outputScriptType    tlv.Type = 2
	outputCreatedAtType tlv.Type = 4
	outputExistsType    tlv.Type = 6

	// Channel record types.
	chanPartyAType    tlv.Type = 0
	chanPartyBType    tlv.Type = 2
	chanValueAType    tlv.Type = 4
	chanValueBType    tlv.Type = 6
	chanFundedAtType  tlv.Type = 8
	chanOpenType      tlv.Type = 10
	chanParentType    tlv.Type = 12
	chanProposerType  tlv.Type = 20
	chanHashLockType  tlv.Type = 22
	chanLockHtType    tlv.Type = 24
	chanWindowType    tlv.Type = 26
	chanCommittedType tlv.Type = 28
)

// Output is the persisted record of a single output. Records are never
// removed: consuming an output clears Exists and keeps the rest for audit.
type Output struct {
	// ID is the unique identifier of the output. It is the bucket key and
	// isn't part of the serialized value.
	ID ledgertypes.OutputID

	// Value is the amount held by the output.
	Value ledgertypes.Amount

	// Script is the spending condition guarding the output.
	Script script.Script

	// CreatedAt is the height the output was created at. Time locks are
	// measured from it.
	CreatedAt ledgertypes.Height

	// Exists is true until the output is consumed by a spend or withdraw.
	Exists bool
}

// Encode serializes the output record, excluding its ID.
func (o *Output) Encode(w io.Writer) error {
	if o.Script == nil {
		return fmt.Errorf("output %v has no script", o.ID)
	}
	if o.Value.IsNegative() {
		return fmt.Errorf("output %v has negative value %v", o.ID,
			o.Value)
	}

	scriptBytes, err := script.Serialize(o.Script)
	if err != nil {
		return err
	}
	value := uint64(o.Value)
	createdAt := uint32(o.CreatedAt)
	exists := o.Exists

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(outputValueType, &value),
		tlv.MakePrimitiveRecord(outputScriptType, &scriptBytes),
		tlv.MakePrimitiveRecord(outputCreatedAtType, &createdAt),
		tlv.MakePrimitiveRecord(outputExistsType, &exists),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeOutput deserializes the record stored under id.
func decodeOutput(id ledgertypes.OutputID, r io.Reader) (*Output, error) {
	var (
		value       uint64
		scriptBytes []byte
		createdAt   uint32
		exists      bool
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(outputValueType, &value),
		tlv.MakePrimitiveRecord(outputScriptType, &scriptBytes),
		tlv.MakePrimitiveRecord(outputCreatedAtType, &createdAt),
		tlv.MakePrimitiveRecord(outputExistsType, &exists),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	s, err := script.Parse(scriptBytes)
	if err != nil {
		return nil, fmt.Errorf("output %v: %w", id, err)
	}

	return &Output{
		ID:        id,
		Value:     ledgertypes.Amount(value),
		Script:    s,
		CreatedAt: ledgertypes.Height(createdAt),
		Exists:    exists,
	}, nil
}

// Encumbrance describes a pending unilateral commitment of a channel.
type Encumbrance struct {
	// Proposer is the party that published the commitment and whose
	// share is locked.
	Proposer ledgertypes.Party

	// HashLock is the hash of the revocation secret of the commitment.
	HashLock ledgertypes.Hash

	// LockHeight is the absolute height from which the proposer may
	// claim the encumbered value. Challenges are only accepted below it.
	LockHeight ledgertypes.Height

	// Window is the challenge window that was co-signed.
	Window uint32

	// CommittedAt is the height the commitment was published at.
	CommittedAt ledgertypes.Height
}

// Channel is the persisted record of a bilateral channel.
type Channel struct {
	// ID is the channel identifier. It is the bucket key.
	ID ledgertypes.ChannelID

	// PartyA and PartyB are the two channel participants.
	PartyA ledgertypes.Party
	PartyB ledgertypes.Party

	// ValueA and ValueB are the current shares of each party. Once a
	// commitment is published the counterparty's share is zero.
	ValueA ledgertypes.Amount
	ValueB ledgertypes.Amount

	// FundedAt is the height the original channel was funded at.
	FundedAt ledgertypes.Height

	// Encumbrance is set while a unilateral commitment is pending.
	Encumbrance fn.Option[Encumbrance]

	// Parent is the channel record this one succeeded, if any.
	Parent fn.Option[ledgertypes.ChannelID]

	// Open is false once the channel has disbursed its funds or has been
	// replaced by a successor.
	Open bool
}

// Total returns the combined value held by the channel.
func (c *Channel) Total() (ledgertypes.Amount, error) {
	return ledgertypes.SumAmounts(c.ValueA, c.ValueB)
}

// HasParty reports whether p is one of the channel participants.
func (c *Channel) HasParty(p ledgertypes.Party) bool {
	return p == c.PartyA || p == c.PartyB
}

// Counterparty returns the participant that isn't p.
func (c *Channel) Counterparty(p ledgertypes.Party) ledgertypes.Party {
	if p == c.PartyA {
		return c.PartyB
	}

	return c.PartyA
}

// ValueOf returns the share of participant p.
func (c *Channel) ValueOf(p ledgertypes.Party) ledgertypes.Amount {
	if p == c.PartyA {
		return c.ValueA
	}

	return c.ValueB
}

// Encode serializes the channel record, excluding its ID.
func (c *Channel) Encode(w io.Writer) error {
	var (
		partyA   = [33]byte(c.PartyA)
		partyB   = [33]byte(c.PartyB)
		valueA   = uint64(c.ValueA)
		valueB   = uint64(c.ValueB)
		fundedAt = uint32(c.FundedAt)
		open     = c.Open
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(chanPartyAType, &partyA),
		tlv.MakePrimitiveRecord(chanPartyBType, &partyB),
		tlv.MakePrimitiveRecord(chanValueAType, &valueA),
		tlv.MakePrimitiveRecord(chanValueBType, &valueB),
		tlv.MakePrimitiveRecord(chanFundedAtType, &fundedAt),
		tlv.MakePrimitiveRecord(chanOpenType, &open),
	}

	c.Parent.WhenSome(func(id ledgertypes.ChannelID) {
		parent := [32]byte(id)
		records = append(
			records, tlv.MakePrimitiveRecord(chanParentType, &parent),
		)
	})

	c.Encumbrance.WhenSome(func(e Encumbrance) {
		var (
			proposer    = [33]byte(e.Proposer)
			hashLock    = [32]byte(e.HashLock)
			lockHeight  = uint32(e.LockHeight)
			window      = e.Window
			committedAt = uint32(e.CommittedAt)
		)
		records = append(records,
			tlv.MakePrimitiveRecord(chanProposerType, &proposer),
			tlv.MakePrimitiveRecord(chanHashLockType, &hashLock),
			tlv.MakePrimitiveRecord(chanLockHtType, &lockHeight),
			tlv.MakePrimitiveRecord(chanWindowType, &window),
			tlv.MakePrimitiveRecord(chanCommittedType, &committedAt),
		)
	})

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeChannel deserializes the channel record stored under id.
func decodeChannel(id ledgertypes.ChannelID, r io.Reader) (*Channel, error) {
	var (
		partyA, partyB [33]byte
		valueA, valueB uint64
		fundedAt       uint32
		open           bool
		parent         [32]byte
		proposer       [33]byte
		hashLock       [32]byte
		lockHeight     uint32
		window         uint32
		committedAt    uint32
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(chanPartyAType, &partyA),
		tlv.MakePrimitiveRecord(chanPartyBType, &partyB),
		tlv.MakePrimitiveRecord(chanValueAType, &valueA),
		tlv.MakePrimitiveRecord(chanValueBType, &valueB),
		tlv.MakePrimitiveRecord(chanFundedAtType, &fundedAt),
		tlv.MakePrimitiveRecord(chanOpenType, &open),
		tlv.MakePrimitiveRecord(chanParentType, &parent),
		tlv.MakePrimitiveRecord(chanProposerType, &proposer),
		tlv.MakePrimitiveRecord(chanHashLockType, &hashLock),
		tlv.MakePrimitiveRecord(chanLockHtType, &lockHeight),
		tlv.MakePrimitiveRecord(chanWindowType, &window),
		tlv.MakePrimitiveRecord(chanCommittedType, &committedAt),
	)
	if err != nil {
		return nil, err
	}
	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		ID:          id,
		PartyA:      ledgertypes.Party(partyA),
		PartyB:      ledgertypes.Party(partyB),
		ValueA:      ledgertypes.Amount(valueA),
		ValueB:      ledgertypes.Amount(valueB),
		FundedAt:    ledgertypes.Height(fundedAt),
		Open:        open,
		Encumbrance: fn.None[Encumbrance](),
		Parent:      fn.None[ledgertypes.ChannelID](),
	}

	if _, ok := parsed[chanParentType]; ok {
		c.Parent = fn.Some(ledgertypes.ChannelID(parent))
	}
	if _, ok := parsed[chanProposerType]; ok {
		c.Encumbrance = fn.Some(Encumbrance{
			Proposer:    ledgertypes.Party(proposer),
			HashLock:    ledgertypes.Hash(hashLock),
			LockHeight:  ledgertypes.Height(lockHeight),
			Window:      window,
			CommittedAt: ledgertypes.Height(committedAt),
		})
	}

	return c, nil
}

// serialize is a helper that encodes any record into a fresh byte slice.
func serialize(enc func(io.Writer) error) ([]byte, error) {
	var b bytes.Buffer
	if err := enc(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

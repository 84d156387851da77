package ledger

import (
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
)

// Event is the externally observable record of a committed transition.
type Event interface {
	// EventName returns the name of the event type.
	EventName() string
}

// EventSink receives every event of a committed transition, in order. Notify
// is called after the transition has been persisted and must not block for
// long since the engine calls it synchronously.
type EventSink interface {
	Notify(Event)
}

// OutputCreated is emitted for every new output, from a deposit, a spend
// or a channel payout.
type OutputCreated struct {
	ID     ledgertypes.OutputID
	Value  ledgertypes.Amount
	Script script.Script
	Height ledgertypes.Height
}

// OutputWithdrawn is emitted when an output is paid out through the
// gateway.
type OutputWithdrawn struct {
	ID       ledgertypes.OutputID
	Claimant ledgertypes.Party
	Value    ledgertypes.Amount
}

// ChannelFunded is emitted when two outputs are locked into a new channel.
type ChannelFunded struct {
	ID     ledgertypes.ChannelID
	PartyA ledgertypes.Party
	PartyB ledgertypes.Party
	ValueA ledgertypes.Amount
	ValueB ledgertypes.Amount
}

// ChannelCommitted is emitted when a party publishes a unilateral
// commitment. ID is the encumbered successor channel.
type ChannelCommitted struct {
	ID              ledgertypes.ChannelID
	Parent          ledgertypes.ChannelID
	Proposer        ledgertypes.Party
	EncumberedValue ledgertypes.Amount
	HashLock        ledgertypes.Hash
	LockHeight      ledgertypes.Height
}

// ChannelBreached is emitted when a stale commitment was successfully
// challenged. BreachingParty is the publisher of that commitment.
type ChannelBreached struct {
	ID             ledgertypes.ChannelID
	BreachingParty ledgertypes.Party
}

// ChannelTimedOut is emitted when the proposer claims an encumbered share
// after the lock height.
type ChannelTimedOut struct {
	ID ledgertypes.ChannelID
}

// ChannelSettled is emitted on cooperative settlement.
type ChannelSettled struct {
	ID ledgertypes.ChannelID
}

// EventName returns the event type name.
func (e *OutputCreated) EventName() string { return "OutputCreated" }

// EventName returns the event type name.
func (e *OutputWithdrawn) EventName() string { return "OutputWithdrawn" }

// EventName returns the event type name.
func (e *ChannelFunded) EventName() string { return "ChannelFunded" }

// EventName returns the event type name.
func (e *ChannelCommitted) EventName() string { return "ChannelCommitted" }

// EventName returns the event type name.
func (e *ChannelBreached) EventName() string { return "ChannelBreached" }

// EventName returns the event type name.
func (e *ChannelTimedOut) EventName() string { return "ChannelTimedOut" }

// EventName returns the event type name.
func (e *ChannelSettled) EventName() string { return "ChannelSettled" }

// A compile time check to ensure every event implements Event.
var (
	_ Event = (*OutputCreated)(nil)
	_ Event = (*OutputWithdrawn)(nil)
	_ Event = (*ChannelFunded)(nil)
	_ Event = (*ChannelCommitted)(nil)
	_ Event = (*ChannelBreached)(nil)
	_ Event = (*ChannelTimedOut)(nil)
	_ Event = (*ChannelSettled)(nil)
)

package contractcourt

import (
	"context"

	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
)

// ChannelResolver drives the contested transitions of a channel.
type ChannelResolver interface {
	// Channel returns the stored record of a channel.
	Channel(id ledgertypes.ChannelID) (*ledgerdb.Channel, error)

	// Challenge claims an encumbered channel with its revocation secret.
	Challenge(ctx context.Context, id ledgertypes.ChannelID,
		challenger ledgertypes.Party, secret ledgertypes.Preimage,
		sig []byte) ([]ledgertypes.OutputID, error)

	// Timeout releases an unchallenged encumbrance to its proposer.
	Timeout(ctx context.Context, id ledgertypes.ChannelID,
		sig []byte) ([]ledgertypes.OutputID, error)
}

// A compile time check to ensure the channel machine can be used as a
// ChannelResolver.
var _ ChannelResolver = (*chanstate.Machine)(nil)

// EventSubscriber hands out subscriptions to committed ledger events.
type EventSubscriber interface {
	Subscribe() (*notifier.Client, error)
}

// A compile time check to ensure the notifier can be used as an
// EventSubscriber.
var _ EventSubscriber = (*notifier.Server)(nil)

// ChannelLister iterates over the stored channels.
type ChannelLister interface {
	ForEachChannel(cb func(*ledgerdb.Channel) error) error
}

// Heights supplies the current height.
type Heights interface {
	CurrentHeight() ledgertypes.Height
}

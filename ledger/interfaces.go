package ledger

import (
	"context"

	"github.com/chanledger/chanledger/ledgertypes"
)

// Gateway is the external token ledger backing every output. The engine only
// relies on the success or failure of these calls.
type Gateway interface {
	// TransferIn pulls amt from account into the ledger's custody.
	TransferIn(ctx context.Context, account ledgertypes.Party,
		amt ledgertypes.Amount) error

	// TransferOut pays amt from custody to account.
	TransferOut(ctx context.Context, account ledgertypes.Party,
		amt ledgertypes.Amount) error

	// BalanceOf returns the balance of account.
	BalanceOf(ctx context.Context,
		account ledgertypes.Party) (ledgertypes.Amount, error)
}

// HeightOracle supplies the current height. It must never decrease.
type HeightOracle interface {
	CurrentHeight() ledgertypes.Height
}

package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/stretchr/testify/mock"
)

var (
	// ErrInsufficientBalance is returned when an account can't cover a
	// transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when an account hasn't
	// approved the ledger for the transferred amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// MemGateway is an in-memory token ledger. Accounts approve the ledger for
// an allowance, TransferIn moves funds into custody and TransferOut pays
// them back out.
type MemGateway struct {
	mu         sync.Mutex
	balances   map[ledgertypes.Party]ledgertypes.Amount
	allowances map[ledgertypes.Party]ledgertypes.Amount
	custody    ledgertypes.Amount
}

// NewMemGateway returns an empty gateway.
func NewMemGateway() *MemGateway {
	return &MemGateway{
		balances:   make(map[ledgertypes.Party]ledgertypes.Amount),
		allowances: make(map[ledgertypes.Party]ledgertypes.Amount),
	}
}

// Mint credits an account.
func (g *MemGateway) Mint(p ledgertypes.Party, amt ledgertypes.Amount) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.balances[p] += amt
}

// Approve sets the amount the ledger may pull from p.
func (g *MemGateway) Approve(p ledgertypes.Party, amt ledgertypes.Amount) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.allowances[p] = amt
}

// Fund mints amt to p and approves it in one step.
func (g *MemGateway) Fund(p ledgertypes.Party, amt ledgertypes.Amount) {
	g.Mint(p, amt)
	g.Approve(p, amt)
}

// Custody returns the total held on behalf of the ledger.
func (g *MemGateway) Custody() ledgertypes.Amount {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.custody
}

// TransferIn moves amt from p into custody.
func (g *MemGateway) TransferIn(_ context.Context, p ledgertypes.Party,
	amt ledgertypes.Amount) error {

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.allowances[p] < amt:
		return fmt.Errorf("%w: %v has %v approved, needs %v",
			ErrInsufficientAllowance, p, g.allowances[p], amt)

	case g.balances[p] < amt:
		return fmt.Errorf("%w: %v has %v, needs %v",
			ErrInsufficientBalance, p, g.balances[p], amt)
	}

	g.allowances[p] -= amt
	g.balances[p] -= amt
	g.custody += amt

	return nil
}

// TransferOut pays amt from custody to p.
func (g *MemGateway) TransferOut(_ context.Context, p ledgertypes.Party,
	amt ledgertypes.Amount) error {

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.custody < amt {
		return fmt.Errorf("%w: custody holds %v, needs %v",
			ErrInsufficientBalance, g.custody, amt)
	}

	g.custody -= amt
	g.balances[p] += amt

	return nil
}

// BalanceOf returns the balance of p outside custody.
func (g *MemGateway) BalanceOf(_ context.Context,
	p ledgertypes.Party) (ledgertypes.Amount, error) {

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.balances[p], nil
}

// MockGateway is a testify mock used to inject gateway failures.
type MockGateway struct {
	mock.Mock
}

// TransferIn records the call and returns the configured error.
func (m *MockGateway) TransferIn(ctx context.Context, p ledgertypes.Party,
	amt ledgertypes.Amount) error {

	args := m.Called(ctx, p, amt)

	return args.Error(0)
}

// TransferOut records the call and returns the configured error.
func (m *MockGateway) TransferOut(ctx context.Context, p ledgertypes.Party,
	amt ledgertypes.Amount) error {

	args := m.Called(ctx, p, amt)

	return args.Error(0)
}

// BalanceOf records the call and returns the configured values.
func (m *MockGateway) BalanceOf(ctx context.Context,
	p ledgertypes.Party) (ledgertypes.Amount, error) {

	args := m.Called(ctx, p)

	return args.Get(0).(ledgertypes.Amount), args.Error(1)
}

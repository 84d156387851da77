package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
	"github.com/davecgh/go-spew/spew"
)

// Config holds the collaborators of the Engine.
type Config struct {
	// DB is the Output Store and Channel table.
	DB *ledgerdb.DB

	// Gateway custodies the fungible balances outputs are backed by.
	Gateway Gateway

	// Heights supplies the current height.
	Heights HeightOracle

	// IDPolicy derives new output identifiers. ContentPolicy is used if
	// nil.
	IDPolicy IDPolicy

	// Metrics is optional.
	Metrics *Metrics

	// Sinks receive the events of every committed transition.
	Sinks []EventSink
}

// Engine applies deposits, spends, withdrawals and any transition built on
// top of them. Every transition is serialized and runs in a single database
// transaction: it either commits in full or leaves the store untouched.
type Engine struct {
	cfg Config

	// mu serializes all state mutating transitions.
	mu sync.Mutex

	sinkMtx sync.RWMutex
	sinks   []EventSink
}

// New creates an engine from cfg.
func New(cfg *Config) (*Engine, error) {
	switch {
	case cfg.DB == nil:
		return nil, errors.New("ledger: DB required")
	case cfg.Gateway == nil:
		return nil, errors.New("ledger: Gateway required")
	case cfg.Heights == nil:
		return nil, errors.New("ledger: Heights required")
	}

	e := &Engine{
		cfg:   *cfg,
		sinks: append([]EventSink(nil), cfg.Sinks...),
	}
	if e.cfg.IDPolicy == nil {
		e.cfg.IDPolicy = ContentPolicy{}
	}

	return e, nil
}

// RegisterSink adds an observer for the events of future transitions.
func (e *Engine) RegisterSink(sink EventSink) {
	e.sinkMtx.Lock()
	defer e.sinkMtx.Unlock()

	e.sinks = append(e.sinks, sink)
}

// CurrentHeight returns the height reported by the oracle.
func (e *Engine) CurrentHeight() ledgertypes.Height {
	return e.cfg.Heights.CurrentHeight()
}

// BalanceOf proxies the gateway balance query.
func (e *Engine) BalanceOf(ctx context.Context,
	account ledgertypes.Party) (ledgertypes.Amount, error) {

	return e.cfg.Gateway.BalanceOf(ctx, account)
}

// FetchOutput returns an output record, live or consumed.
func (e *Engine) FetchOutput(id ledgertypes.OutputID) (*ledgerdb.Output,
	error) {

	return e.cfg.DB.FetchOutput(id)
}

// FetchChannel returns a channel record.
func (e *Engine) FetchChannel(id ledgertypes.ChannelID) (*ledgerdb.Channel,
	error) {

	return e.cfg.DB.FetchChannel(id)
}

// ForEachOutput iterates over every output record.
func (e *Engine) ForEachOutput(cb func(*ledgerdb.Output) error) error {
	return e.cfg.DB.ForEachOutput(cb)
}

// ForEachChannel iterates over every channel record.
func (e *Engine) ForEachChannel(cb func(*ledgerdb.Channel) error) error {
	return e.cfg.DB.ForEachChannel(cb)
}

// Transact runs f as one atomic transition named op. Gateway transfers
// queued by f are executed last, after every other check has passed. Any
// error rolls back all writes and is returned as a *Rejection. Events are
// delivered to the sinks only once the transition is committed.
func (e *Engine) Transact(ctx context.Context, op string,
	f func(tx *Tx) error) error {

	if err := ctx.Err(); err != nil {
		return e.reject(op, Reject(KindCollaborator, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	height := e.cfg.Heights.CurrentHeight()

	var tx *Tx
	err := e.cfg.DB.Update(func(dbTx *ledgerdb.Tx) error {
		tx = &Tx{
			ctx:    ctx,
			engine: e,
			db:     dbTx,
			height: height,
		}
		if err := f(tx); err != nil {
			return err
		}

		return tx.settleTransfers()
	}, func() {
		tx = nil
	})
	if err != nil {
		return e.reject(op, err)
	}

	e.cfg.Metrics.committed(op, tx.created, tx.consumed)
	log.Debugf("Committed %v at height %v: %d events", op, height,
		len(tx.events))
	log.Tracef("Events of %v: %v", op, newLogClosure(func() string {
		return spew.Sdump(tx.events)
	}))

	e.dispatch(tx.events)

	return nil
}

func (e *Engine) reject(op string, err error) error {
	rej := &Rejection{Kind: KindOf(err), Op: op, Err: err}

	if inner, ok := err.(*Rejection); ok && inner.Op == "" {
		rej.Err = inner.Err
	}

	e.cfg.Metrics.rejected(op, rej.Kind)
	log.Debugf("Rejected %v: %v", op, rej)

	return rej
}

func (e *Engine) dispatch(events []Event) {
	e.sinkMtx.RLock()
	defer e.sinkMtx.RUnlock()

	for _, event := range events {
		for _, sink := range e.sinks {
			sink.Notify(event)
		}
	}
}

// Deposit pulls amount from depositor through the gateway and mints a
// Payable output to the depositor at the current height.
func (e *Engine) Deposit(ctx context.Context, depositor ledgertypes.Party,
	amount ledgertypes.Amount) (ledgertypes.OutputID, error) {

	var id ledgertypes.OutputID
	err := e.Transact(ctx, "deposit", func(tx *Tx) error {
		if amount.IsNegative() {
			return fmt.Errorf("%w: %v", ErrNegativeAmount, amount)
		}

		var (
			amt    [8]byte
			height [4]byte
		)
		putUint64(amt[:], uint64(amount))
		putUint32(height[:], uint32(tx.Height()))

		var err error
		id, err = tx.CreateOutput(
			amount, script.NewPayable(depositor), &IDContext{
				Source: SourceDeposit,
				Inputs: [][]byte{depositor[:], amt[:], height[:]},
			},
		)
		if err != nil {
			return err
		}

		tx.TransferIn(depositor, amount)

		return nil
	})
	if err != nil {
		return ledgertypes.OutputID{}, err
	}

	return id, nil
}

// Spend consumes the outputs referenced by witnesses and creates newOutputs
// in the given order. Every witness must authorize exactly newOutputs and
// the values must balance exactly.
func (e *Engine) Spend(ctx context.Context, witnesses []*script.Witness,
	newOutputs []script.TxOut) ([]ledgertypes.OutputID, error) {

	var ids []ledgertypes.OutputID
	err := e.Transact(ctx, "spend", func(tx *Tx) error {
		var err error
		ids, err = tx.Spend(witnesses, newOutputs)

		return err
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Withdraw consumes the output named by wit and pays its value to claimant
// through the gateway. The witness must authorize an empty set of new
// outputs and claimant must be its only signer.
func (e *Engine) Withdraw(ctx context.Context, wit *script.Witness,
	claimant ledgertypes.Party) error {

	return e.Transact(ctx, "withdraw", func(tx *Tx) error {
		noOutputs, err := script.SerializeOutputs(nil)
		if err != nil {
			return err
		}

		out, auth, err := tx.ConsumeWitness(wit, noOutputs)
		if err != nil {
			return err
		}
		signer, ok := auth.SoleSigner()
		if !ok || signer != claimant {
			return fmt.Errorf("%w: output %v", ErrNotSoleOwner,
				out.ID)
		}

		tx.TransferOut(claimant, out.Value)
		tx.Emit(&OutputWithdrawn{
			ID:       out.ID,
			Claimant: claimant,
			Value:    out.Value,
		})

		return nil
	})
}

package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
)

// transfer is a gateway call deferred until the end of a transition.
type transfer struct {
	in      bool
	account ledgertypes.Party
	amount  ledgertypes.Amount
}

// Tx is the view of a single transition. It is only valid inside the
// closure passed to Engine.Transact.
type Tx struct {
	ctx    context.Context
	engine *Engine
	db     *ledgerdb.Tx
	height ledgertypes.Height

	transfers []transfer
	events    []Event

	created  int
	consumed int
}

// Height returns the height the transition executes at.
func (t *Tx) Height() ledgertypes.Height {
	return t.height
}

// Store gives direct access to the underlying store transaction.
func (t *Tx) Store() *ledgerdb.Tx {
	return t.db
}

// Emit queues an event for delivery after commit.
func (t *Tx) Emit(event Event) {
	t.events = append(t.events, event)
}

// TransferIn queues a gateway pull from account.
func (t *Tx) TransferIn(account ledgertypes.Party, amt ledgertypes.Amount) {
	t.transfers = append(t.transfers, transfer{
		in: true, account: account, amount: amt,
	})
}

// TransferOut queues a gateway payout to account.
func (t *Tx) TransferOut(account ledgertypes.Party,
	amt ledgertypes.Amount) {

	t.transfers = append(t.transfers, transfer{
		account: account, amount: amt,
	})
}

// settleTransfers executes the queued gateway calls in order.
func (t *Tx) settleTransfers() error {
	gateway := t.engine.cfg.Gateway
	for _, tr := range t.transfers {
		var err error
		if tr.in {
			err = gateway.TransferIn(t.ctx, tr.account, tr.amount)
		} else {
			err = gateway.TransferOut(t.ctx, tr.account, tr.amount)
		}
		if err != nil {
			return Reject(KindCollaborator, fmt.Errorf("gateway "+
				"transfer of %v for %v: %w", tr.amount,
				tr.account, err))
		}
	}

	return nil
}

// CreateOutput stores a new live output at the current height with an
// identifier derived by the engine's policy, and queues OutputCreated.
func (t *Tx) CreateOutput(value ledgertypes.Amount, s script.Script,
	idCtx *IDContext) (ledgertypes.OutputID, error) {

	if value.IsNegative() {
		return ledgertypes.OutputID{}, fmt.Errorf("%w: %v",
			ErrNegativeAmount, value)
	}
	if err := script.CheckScript(s); err != nil {
		return ledgertypes.OutputID{}, err
	}

	seq, err := t.db.NextSequence()
	if err != nil {
		return ledgertypes.OutputID{}, err
	}
	id := t.engine.cfg.IDPolicy.NextID(seq, idCtx)

	err = t.db.CreateOutput(&ledgerdb.Output{
		ID:        id,
		Value:     value,
		Script:    s,
		CreatedAt: t.height,
	})
	if err != nil {
		return ledgertypes.OutputID{}, err
	}

	t.created++
	t.Emit(&OutputCreated{
		ID:     id,
		Value:  value,
		Script: s,
		Height: t.height,
	})

	return id, nil
}

// ValidateWitness checks wit against the live output it names without
// consuming it.
func (t *Tx) ValidateWitness(wit *script.Witness,
	newOutputs []byte) (*ledgerdb.Output, *script.Authorization, error) {

	if wit == nil {
		return nil, nil, fmt.Errorf("%w: nil witness",
			script.ErrMalformedWitness)
	}

	out, err := t.db.LiveOutput(wit.OutputID)
	if err != nil {
		return nil, nil, err
	}

	auth, err := script.Validate(
		out.Script, out.CreatedAt, t.height, wit, newOutputs,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("output %v: %w", out.ID, err)
	}

	return out, auth, nil
}

// ConsumeWitness validates wit and clears the output it names.
func (t *Tx) ConsumeWitness(wit *script.Witness,
	newOutputs []byte) (*ledgerdb.Output, *script.Authorization, error) {

	out, auth, err := t.ValidateWitness(wit, newOutputs)
	if err != nil {
		return nil, nil, err
	}
	if _, err := t.db.ConsumeOutput(out.ID); err != nil {
		return nil, nil, err
	}
	t.consumed++

	return out, auth, nil
}

// ConsumeOutput clears a live output without a witness. Callers are
// responsible for having authorized the consumption.
func (t *Tx) ConsumeOutput(id ledgertypes.OutputID) (*ledgerdb.Output,
	error) {

	out, err := t.db.ConsumeOutput(id)
	if err != nil {
		return nil, err
	}
	t.consumed++

	return out, nil
}

// Spend consumes the outputs referenced by witnesses and creates newOutputs
// within the current transition. All witnesses are validated and values
// balanced before anything is written.
func (t *Tx) Spend(witnesses []*script.Witness,
	newOutputs []script.TxOut) ([]ledgertypes.OutputID, error) {

	switch {
	case len(witnesses) == 0:
		return nil, ErrNoInputs
	case len(newOutputs) == 0:
		return nil, ErrNoOutputs
	}

	outBytes, err := script.SerializeOutputs(newOutputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", script.ErrMalformedWitness, err)
	}

	var (
		seen     = make(map[ledgertypes.OutputID]struct{})
		inputs   = make([][]byte, 0, len(witnesses))
		inValues = make([]ledgertypes.Amount, 0, len(witnesses))
	)
	for _, wit := range witnesses {
		if wit == nil {
			return nil, fmt.Errorf("%w: nil witness",
				script.ErrMalformedWitness)
		}
		if _, ok := seen[wit.OutputID]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateInput,
				wit.OutputID)
		}
		seen[wit.OutputID] = struct{}{}

		out, _, err := t.ValidateWitness(wit, outBytes)
		if err != nil {
			return nil, err
		}
		inValues = append(inValues, out.Value)
		inputs = append(
			inputs, append(wit.OutputID[:], byte(wit.Path)),
		)
	}

	outValues := make([]ledgertypes.Amount, 0, len(newOutputs))
	for _, out := range newOutputs {
		outValues = append(outValues, out.Value)
	}
	inSum, err := ledgertypes.SumAmounts(inValues...)
	if err != nil {
		return nil, err
	}
	outSum, err := ledgertypes.SumAmounts(outValues...)
	if err != nil {
		return nil, err
	}
	if inSum != outSum {
		return nil, fmt.Errorf("%w: inputs %v, outputs %v",
			ErrValueMismatch, inSum, outSum)
	}

	for _, wit := range witnesses {
		if _, err := t.db.ConsumeOutput(wit.OutputID); err != nil {
			return nil, err
		}
		t.consumed++
	}

	ids := make([]ledgertypes.OutputID, 0, len(newOutputs))
	for i, out := range newOutputs {
		id, err := t.CreateOutput(out.Value, out.Script, &IDContext{
			Source:  SourceSpend,
			Inputs:  inputs,
			Payload: outBytes,
			Index:   uint32(i),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	log.Debugf("Spent %d inputs worth %v into %d outputs", len(witnesses),
		inSum, len(ids))

	return ids, nil
}

func putUint64(b []byte, v uint64) {
	binary.BigEndian.PutUint64(b, v)
}

func putUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

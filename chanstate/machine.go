package chanstate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrSameParty is returned when funding a channel with itself.
	ErrSameParty = errors.New("channel parties must differ")

	// ErrInputNotOwned is returned when a funding input isn't a Payable
	// output of one of the channel parties.
	ErrInputNotOwned = errors.New("funding input not owned by a party")

	// ErrBadSignature is returned when a channel signature doesn't verify.
	ErrBadSignature = errors.New("invalid channel signature")

	// ErrNotParticipant is returned when a party outside the channel
	// attempts a participant-only transition.
	ErrNotParticipant = errors.New("not a channel participant")

	// ErrWrongChannel is returned for a commitment that names another
	// channel.
	ErrWrongChannel = errors.New("commitment is for another channel")

	// ErrSplitMismatch is returned when a commitment doesn't split
	// exactly the channel's value.
	ErrSplitMismatch = errors.New("commitment split doesn't match " +
		"channel value")

	// ErrEncumbered is returned when a transition needs a channel without
	// a pending commitment.
	ErrEncumbered = errors.New("channel has a pending commitment")

	// ErrNotEncumbered is returned when a transition needs a pending
	// commitment.
	ErrNotEncumbered = errors.New("channel has no pending commitment")

	// ErrChallengeExpired is returned for a challenge at or after the
	// lock height.
	ErrChallengeExpired = errors.New("challenge window has elapsed")

	// ErrLockNotExpired is returned for a timeout before the lock height.
	ErrLockNotExpired = errors.New("lock height not reached")

	// ErrLockOverflow is returned when height plus window doesn't fit a
	// height.
	ErrLockOverflow = errors.New("lock height overflows")
)

// classify attaches the rejection kind of the sentinels above.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrInputNotOwned),
		errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrLockNotExpired):

		return ledger.Reject(ledger.KindAuthorization, err)

	case errors.Is(err, ErrSameParty),
		errors.Is(err, ErrWrongChannel),
		errors.Is(err, ErrSplitMismatch),
		errors.Is(err, ErrLockOverflow):

		return ledger.Reject(ledger.KindInvariant, err)

	case errors.Is(err, ErrEncumbered),
		errors.Is(err, ErrNotEncumbered):

		return ledger.Reject(ledger.KindState, err)

	default:
		return err
	}
}

// FundRequest locks two outputs into a channel between PartyA and PartyB.
type FundRequest struct {
	InputA ledgertypes.OutputID
	InputB ledgertypes.OutputID
	PartyA ledgertypes.Party
	PartyB ledgertypes.Party

	// SigA and SigB are signatures over FundDigest.
	SigA []byte
	SigB []byte
}

// Digest returns the digest both parties must sign.
func (r *FundRequest) Digest() chainhash.Hash {
	return FundDigest(r.InputA, r.InputB, r.PartyA, r.PartyB)
}

// Machine drives channels through funding, unilateral commitment,
// challenge, timeout and cooperative settlement. Each transition runs as a
// single engine transaction.
type Machine struct {
	engine *ledger.Engine
}

// NewMachine returns a channel state machine on top of engine.
func NewMachine(engine *ledger.Engine) *Machine {
	return &Machine{engine: engine}
}

// Channel returns the record of a channel.
func (m *Machine) Channel(id ledgertypes.ChannelID) (*ledgerdb.Channel,
	error) {

	return m.engine.FetchChannel(id)
}

// Fund consumes both inputs and opens a channel holding their values.
func (m *Machine) Fund(ctx context.Context,
	req *FundRequest) (ledgertypes.ChannelID, error) {

	id := ChannelIDFor(req.InputA, req.InputB, req.PartyA, req.PartyB)
	err := m.engine.Transact(ctx, "fund", func(tx *ledger.Tx) error {
		if req.PartyA == req.PartyB {
			return classify(ErrSameParty)
		}
		if req.InputA == req.InputB {
			return fmt.Errorf("%w: %v", ledger.ErrDuplicateInput,
				req.InputA)
		}

		digest := req.Digest()
		err := verifyAll(digest, []ledgertypes.Party{
			req.PartyA, req.PartyB,
		}, [][]byte{req.SigA, req.SigB})
		if err != nil {
			return err
		}

		var (
			inputs = []ledgertypes.OutputID{req.InputA, req.InputB}
			values [2]ledgertypes.Amount
		)
		for i, input := range inputs {
			out, err := tx.Store().LiveOutput(input)
			if err != nil {
				return err
			}
			payable, ok := out.Script.(*script.Payable)
			if !ok || (payable.Recipient != req.PartyA &&
				payable.Recipient != req.PartyB) {

				return classify(fmt.Errorf("%w: %v",
					ErrInputNotOwned, input))
			}
			if _, err := tx.ConsumeOutput(input); err != nil {
				return err
			}
			values[i] = out.Value
		}

		c := &ledgerdb.Channel{
			ID:          id,
			PartyA:      req.PartyA,
			PartyB:      req.PartyB,
			ValueA:      values[0],
			ValueB:      values[1],
			FundedAt:    tx.Height(),
			Open:        true,
			Encumbrance: fn.None[ledgerdb.Encumbrance](),
			Parent:      fn.None[ledgertypes.ChannelID](),
		}
		if _, err := c.Total(); err != nil {
			return err
		}
		if err := tx.Store().CreateChannel(c); err != nil {
			return err
		}

		tx.Emit(&ledger.ChannelFunded{
			ID:     id,
			PartyA: c.PartyA,
			PartyB: c.PartyB,
			ValueA: c.ValueA,
			ValueB: c.ValueB,
		})

		log.Infof("Funded channel %v: %v/%v", id, c.ValueA, c.ValueB)

		return nil
	})
	if err != nil {
		return ledgertypes.ChannelID{}, err
	}

	return id, nil
}

// Commit publishes a co-signed commitment unilaterally. The counterparty's
// share is paid out immediately as a Payable output, the proposer's share
// stays locked in a successor channel until its lock height. The id of the
// successor is returned.
func (m *Machine) Commit(ctx context.Context,
	sc *SignedCommitment) (ledgertypes.ChannelID, error) {

	var successorID ledgertypes.ChannelID
	err := m.engine.Transact(ctx, "commit", func(tx *ledger.Tx) error {
		c, err := tx.Store().OpenChannel(sc.ChannelID)
		if err != nil {
			return err
		}
		if c.Encumbrance.IsSome() {
			return classify(ErrEncumbered)
		}
		if err := sc.validate(c); err != nil {
			return classify(err)
		}

		digest := sc.Digest()
		err = verifyAll(digest, []ledgertypes.Party{
			c.PartyA, c.PartyB,
		}, [][]byte{sc.SigA, sc.SigB})
		if err != nil {
			return err
		}
		err = verifyAll(PublishDigest(c.ID, digest),
			[]ledgertypes.Party{sc.Proposer}, [][]byte{sc.PublishSig})
		if err != nil {
			return err
		}

		lockHeight := uint64(tx.Height()) + uint64(sc.Window)
		if lockHeight > math.MaxUint32 {
			return classify(ErrLockOverflow)
		}

		if _, err := tx.Store().CloseChannel(c.ID); err != nil {
			return err
		}

		counterparty := c.Counterparty(sc.Proposer)
		paid := sc.CounterpartyValue(c)
		if paid > 0 {
			_, err := m.payout(tx, c.ID, TagCommit, 0, counterparty,
				paid)
			if err != nil {
				return err
			}
		}

		successorID = CommitmentID(c.ID, digest)
		successor := &ledgerdb.Channel{
			ID:       successorID,
			PartyA:   c.PartyA,
			PartyB:   c.PartyB,
			FundedAt: c.FundedAt,
			Open:     true,
			Encumbrance: fn.Some(ledgerdb.Encumbrance{
				Proposer:    sc.Proposer,
				HashLock:    sc.HashLock,
				LockHeight:  ledgertypes.Height(lockHeight),
				Window:      sc.Window,
				CommittedAt: tx.Height(),
			}),
			Parent: fn.Some(c.ID),
		}
		locked := sc.ProposerValue(c)
		if sc.Proposer == c.PartyA {
			successor.ValueA = locked
		} else {
			successor.ValueB = locked
		}
		if err := tx.Store().CreateChannel(successor); err != nil {
			return err
		}

		tx.Emit(&ledger.ChannelCommitted{
			ID:              successorID,
			Parent:          c.ID,
			Proposer:        sc.Proposer,
			EncumberedValue: locked,
			HashLock:        sc.HashLock,
			LockHeight:      ledgertypes.Height(lockHeight),
		})

		log.Infof("Channel %v committed by %v: %v encumbered until "+
			"height %v, %v paid to counterparty", c.ID,
			sc.Proposer, locked, lockHeight, paid)
		log.Tracef("Successor channel: %v", newLogClosure(
			func() string {
				return spew.Sdump(successor)
			},
		))

		return nil
	})
	if err != nil {
		return ledgertypes.ChannelID{}, err
	}

	return successorID, nil
}

// Challenge claims the whole encumbered value of a channel for challenger by
// presenting the revocation secret of the published commitment before its
// lock height.
func (m *Machine) Challenge(ctx context.Context, id ledgertypes.ChannelID,
	challenger ledgertypes.Party, secret ledgertypes.Preimage,
	sig []byte) ([]ledgertypes.OutputID, error) {

	var ids []ledgertypes.OutputID
	err := m.engine.Transact(ctx, "challenge", func(tx *ledger.Tx) error {
		c, enc, err := fetchEncumbered(tx, id)
		if err != nil {
			return err
		}
		if tx.Height() >= enc.LockHeight {
			return classify(fmt.Errorf("%w: height %v, lock %v",
				ErrChallengeExpired, tx.Height(),
				enc.LockHeight))
		}
		if !secret.Matches(enc.HashLock) {
			return script.ErrPreimageMismatch
		}
		err = verifyAll(ChallengeDigest(id, secret),
			[]ledgertypes.Party{challenger}, [][]byte{sig})
		if err != nil {
			return err
		}

		if _, err := tx.Store().CloseChannel(id); err != nil {
			return err
		}
		total, err := c.Total()
		if err != nil {
			return err
		}
		ids, err = m.payouts(tx, id, TagChallenge, []payoutShare{
			{challenger, total},
		})
		if err != nil {
			return err
		}

		tx.Emit(&ledger.ChannelBreached{
			ID:             id,
			BreachingParty: enc.Proposer,
		})

		log.Warnf("Channel %v breached by %v: %v claimed by %v", id,
			enc.Proposer, total, challenger)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Timeout pays the proposer its encumbered share once the lock height has
// been reached without a challenge.
func (m *Machine) Timeout(ctx context.Context, id ledgertypes.ChannelID,
	sig []byte) ([]ledgertypes.OutputID, error) {

	var ids []ledgertypes.OutputID
	err := m.engine.Transact(ctx, "timeout", func(tx *ledger.Tx) error {
		c, enc, err := fetchEncumbered(tx, id)
		if err != nil {
			return err
		}
		if tx.Height() < enc.LockHeight {
			return classify(fmt.Errorf("%w: height %v, lock %v",
				ErrLockNotExpired, tx.Height(), enc.LockHeight))
		}
		err = verifyAll(TimeoutDigest(id),
			[]ledgertypes.Party{enc.Proposer}, [][]byte{sig})
		if err != nil {
			return err
		}

		if _, err := tx.Store().CloseChannel(id); err != nil {
			return err
		}
		ids, err = m.payouts(tx, id, TagTimeout, []payoutShare{
			{enc.Proposer, c.ValueOf(enc.Proposer)},
		})
		if err != nil {
			return err
		}

		tx.Emit(&ledger.ChannelTimedOut{ID: id})

		log.Infof("Channel %v timed out, %v paid to %v", id,
			c.ValueOf(enc.Proposer), enc.Proposer)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Settle closes an open channel without a pending commitment, paying each
// party its current share.
func (m *Machine) Settle(ctx context.Context, id ledgertypes.ChannelID,
	sigA, sigB []byte) ([]ledgertypes.OutputID, error) {

	var ids []ledgertypes.OutputID
	err := m.engine.Transact(ctx, "settle", func(tx *ledger.Tx) error {
		c, err := tx.Store().OpenChannel(id)
		if err != nil {
			return err
		}
		if c.Encumbrance.IsSome() {
			return classify(ErrEncumbered)
		}
		err = verifyAll(SettleDigest(id), []ledgertypes.Party{
			c.PartyA, c.PartyB,
		}, [][]byte{sigA, sigB})
		if err != nil {
			return err
		}

		if _, err := tx.Store().CloseChannel(id); err != nil {
			return err
		}
		ids, err = m.payouts(tx, id, TagSettle, []payoutShare{
			{c.PartyA, c.ValueA},
			{c.PartyB, c.ValueB},
		})
		if err != nil {
			return err
		}

		tx.Emit(&ledger.ChannelSettled{ID: id})

		log.Infof("Channel %v settled: %v/%v", id, c.ValueA, c.ValueB)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// fetchEncumbered fetches an open channel with a pending commitment.
func fetchEncumbered(tx *ledger.Tx,
	id ledgertypes.ChannelID) (*ledgerdb.Channel, *ledgerdb.Encumbrance,
	error) {

	c, err := tx.Store().OpenChannel(id)
	if err != nil {
		return nil, nil, err
	}
	enc, err := c.Encumbrance.UnwrapOrErr(classify(ErrNotEncumbered))
	if err != nil {
		return nil, nil, err
	}

	return c, &enc, nil
}

type payoutShare struct {
	party ledgertypes.Party
	value ledgertypes.Amount
}

// payouts creates a Payable output per non-zero share.
func (m *Machine) payouts(tx *ledger.Tx, id ledgertypes.ChannelID,
	tag []byte, shares []payoutShare) ([]ledgertypes.OutputID, error) {

	var ids []ledgertypes.OutputID
	for i, share := range shares {
		if share.value == 0 {
			continue
		}
		outID, err := m.payout(
			tx, id, tag, uint32(i), share.party, share.value,
		)
		if err != nil {
			return nil, err
		}
		ids = append(ids, outID)
	}

	return ids, nil
}

// payout creates a single Payable output funded by channel id.
func (m *Machine) payout(tx *ledger.Tx, id ledgertypes.ChannelID, tag []byte,
	index uint32, party ledgertypes.Party,
	value ledgertypes.Amount) (ledgertypes.OutputID, error) {

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(value))

	idCtx := &ledger.IDContext{
		Source:  ledger.SourceChannel,
		Inputs:  [][]byte{TagPayout, id[:], tag, party[:]},
		Payload: amt[:],
		Index:   index,
	}

	return tx.CreateOutput(value, script.NewPayable(party), idCtx)
}

// verifyAll checks that sigs[i] is a signature of parties[i] over digest.
func verifyAll(digest chainhash.Hash, parties []ledgertypes.Party,
	sigs [][]byte) error {

	for i, party := range parties {
		if i >= len(sigs) || !keychain.VerifySig(party, digest, sigs[i]) {
			return classify(fmt.Errorf("%w: party %v",
				ErrBadSignature, party))
		}
	}

	return nil
}

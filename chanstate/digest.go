package chanstate

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
)

var (
	// TagChannel derives the identifier of a newly funded channel.
	TagChannel = []byte("chanledger/channel")

	// TagFund is the tag of the digest both parties sign to fund.
	TagFund = []byte("chanledger/fund")

	// TagCommit is the tag of the co-signed encumbrance digest.
	TagCommit = []byte("chanledger/commit")

	// TagPublish is the tag of the proposer's publication digest.
	TagPublish = []byte("chanledger/publish")

	// TagCommitment derives the identifier of an encumbered successor.
	TagCommitment = []byte("chanledger/commitment")

	// TagChallenge is the tag of the challenger's digest.
	TagChallenge = []byte("chanledger/challenge")

	// TagTimeout is the tag of the proposer's timeout digest.
	TagTimeout = []byte("chanledger/timeout")

	// TagSettle is the tag of the co-signed settlement digest.
	TagSettle = []byte("chanledger/settle")

	// TagPayout derives the identifiers of channel payouts.
	TagPayout = []byte("chanledger/payout")
)

// ChannelIDFor returns the identifier of the channel funded from inputA and
// inputB for partyA and partyB.
func ChannelIDFor(inputA, inputB ledgertypes.OutputID, partyA,
	partyB ledgertypes.Party) ledgertypes.ChannelID {

	return ledgertypes.ChannelID(*chainhash.TaggedHash(
		TagChannel, inputA[:], inputB[:], partyA[:], partyB[:],
	))
}

// FundDigest is the digest both parties sign to lock inputA and inputB into
// a channel.
func FundDigest(inputA, inputB ledgertypes.OutputID, partyA,
	partyB ledgertypes.Party) chainhash.Hash {

	return *chainhash.TaggedHash(
		TagFund, inputA[:], inputB[:], partyA[:], partyB[:],
	)
}

// PublishDigest is the digest the proposer signs to publish a co-signed
// commitment.
func PublishDigest(id ledgertypes.ChannelID,
	commitDigest chainhash.Hash) chainhash.Hash {

	return *chainhash.TaggedHash(TagPublish, id[:], commitDigest[:])
}

// CommitmentID returns the identifier of the encumbered channel created by
// publishing the commitment with the given digest.
func CommitmentID(id ledgertypes.ChannelID,
	commitDigest chainhash.Hash) ledgertypes.ChannelID {

	return ledgertypes.ChannelID(*chainhash.TaggedHash(
		TagCommitment, id[:], commitDigest[:],
	))
}

// ChallengeDigest is the digest a challenger signs when presenting the
// revocation secret of an encumbered channel.
func ChallengeDigest(id ledgertypes.ChannelID,
	preimage ledgertypes.Preimage) chainhash.Hash {

	return *chainhash.TaggedHash(TagChallenge, id[:], preimage[:])
}

// TimeoutDigest is the digest the proposer signs to claim after the lock
// height.
func TimeoutDigest(id ledgertypes.ChannelID) chainhash.Hash {
	return *chainhash.TaggedHash(TagTimeout, id[:])
}

// SettleDigest is the digest both parties sign to settle cooperatively.
func SettleDigest(id ledgertypes.ChannelID) chainhash.Hash {
	return *chainhash.TaggedHash(TagSettle, id[:])
}

// HashLockFromSecret returns the hash lock committing to a revocation
// secret.
func HashLockFromSecret(secret ledgertypes.Preimage) ledgertypes.Hash {
	return secret.Hash()
}

// Encumbrance is a commitment both parties co-sign off-chain. Either party
// may later publish one naming itself as proposer.
type Encumbrance struct {
	// ChannelID is the open channel the commitment spends.
	ChannelID ledgertypes.ChannelID

	// Proposer is the party that may publish this commitment.
	Proposer ledgertypes.Party

	// ValueA and ValueB are the new split.
	ValueA ledgertypes.Amount
	ValueB ledgertypes.Amount

	// Window is the number of heights the counterparty has to challenge
	// once published.
	Window uint32

	// HashLock commits to the revocation secret of this commitment.
	HashLock ledgertypes.Hash
}

// NewEncumbrance builds a commitment for c and checks that it redistributes
// exactly the channel's value.
func NewEncumbrance(c *ledgerdb.Channel, proposer ledgertypes.Party,
	valueA, valueB ledgertypes.Amount, window uint32,
	hashLock ledgertypes.Hash) (*Encumbrance, error) {

	e := &Encumbrance{
		ChannelID: c.ID,
		Proposer:  proposer,
		ValueA:    valueA,
		ValueB:    valueB,
		Window:    window,
		HashLock:  hashLock,
	}
	if err := e.validate(c); err != nil {
		return nil, err
	}

	return e, nil
}

// validate checks the commitment against the channel it spends.
func (e *Encumbrance) validate(c *ledgerdb.Channel) error {
	if e.ChannelID != c.ID {
		return fmt.Errorf("%w: commitment for %v", ErrWrongChannel,
			e.ChannelID)
	}
	if !c.HasParty(e.Proposer) {
		return fmt.Errorf("%w: proposer %v", ErrNotParticipant,
			e.Proposer)
	}
	if e.ValueA.IsNegative() || e.ValueB.IsNegative() {
		return ErrSplitMismatch
	}

	total, err := c.Total()
	if err != nil {
		return err
	}
	split, err := ledgertypes.SumAmounts(e.ValueA, e.ValueB)
	if err != nil {
		return err
	}
	if split != total {
		return fmt.Errorf("%w: split %v, channel holds %v",
			ErrSplitMismatch, split, total)
	}

	return nil
}

// Digest returns the digest both parties co-sign.
func (e *Encumbrance) Digest() chainhash.Hash {
	var (
		window [4]byte
		valueA [8]byte
		valueB [8]byte
	)
	binary.BigEndian.PutUint32(window[:], e.Window)
	binary.BigEndian.PutUint64(valueA[:], uint64(e.ValueA))
	binary.BigEndian.PutUint64(valueB[:], uint64(e.ValueB))

	return *chainhash.TaggedHash(
		TagCommit, e.ChannelID[:], e.Proposer[:], window[:],
		valueA[:], valueB[:], e.HashLock[:],
	)
}

// ProposerValue returns the share that stays encumbered once published.
func (e *Encumbrance) ProposerValue(c *ledgerdb.Channel) ledgertypes.Amount {
	if e.Proposer == c.PartyA {
		return e.ValueA
	}

	return e.ValueB
}

// CounterpartyValue returns the share paid out immediately once published.
func (e *Encumbrance) CounterpartyValue(
	c *ledgerdb.Channel) ledgertypes.Amount {

	if e.Proposer == c.PartyA {
		return e.ValueB
	}

	return e.ValueA
}

// SignedCommitment is an encumbrance with everything needed to publish it.
type SignedCommitment struct {
	Encumbrance

	// SigA and SigB are the co-signatures over Encumbrance.Digest.
	SigA []byte
	SigB []byte

	// PublishSig is the proposer's signature over PublishDigest.
	PublishSig []byte
}

// SignCommitment co-signs e with both parties and adds the proposer's
// publication signature. The proposer must be one of the two signers.
func SignCommitment(e *Encumbrance, signerA,
	signerB keychain.DigestSigner) (*SignedCommitment, error) {

	digest := e.Digest()
	sigA, err := signerA.SignDigest(digest)
	if err != nil {
		return nil, err
	}
	sigB, err := signerB.SignDigest(digest)
	if err != nil {
		return nil, err
	}

	proposer := signerA
	if e.Proposer == signerB.Party() {
		proposer = signerB
	}
	publishSig, err := proposer.SignDigest(
		PublishDigest(e.ChannelID, digest),
	)
	if err != nil {
		return nil, err
	}

	return &SignedCommitment{
		Encumbrance: *e,
		SigA:        sigA,
		SigB:        sigB,
		PublishSig:  publishSig,
	}, nil
}

package script

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgertypes"
)

var (
	// ErrSigMismatch is returned when a signature doesn't verify against
	// the party the chosen path requires.
	ErrSigMismatch = errors.New("signature mismatch")

	// ErrWrongParty is returned when a valid signature was produced by a
	// party that isn't authorized on the chosen path.
	ErrWrongParty = errors.New("wrong party")

	// ErrPreimageMismatch is returned when the presented preimage does
	// not hash to the script's hash lock.
	ErrPreimageMismatch = errors.New("preimage mismatch")

	// ErrTimeLockNotMet is returned when a delayed path is used before
	// createdAt + delay.
	ErrTimeLockNotMet = errors.New("time lock not yet elapsed")

	// ErrMalformedWitness is returned for a bad path, a missing or
	// unexpected preimage, or the wrong number of signatures.
	ErrMalformedWitness = errors.New("malformed witness")

	// ErrUnknownScript is returned for a nil or unrecognized script.
	ErrUnknownScript = errors.New("unknown script kind")
)

// Authorization describes a successful validation.
type Authorization struct {
	// Path is the branch that authorized the spend.
	Path Path

	// Signers are the parties whose signatures were verified, in script
	// order.
	Signers []ledgertypes.Party
}

// SoleSigner returns the authorizing party if exactly one party signed.
func (a *Authorization) SoleSigner() (ledgertypes.Party, bool) {
	if len(a.Signers) != 1 {
		return ledgertypes.Party{}, false
	}

	return a.Signers[0], true
}

// Validate decides whether wit authorizes spending an output guarded by s,
// created at createdAt, into the serialized newOutputs at the given height.
// It never mutates anything.
func Validate(s Script, createdAt, height ledgertypes.Height, wit *Witness,
	newOutputs []byte) (*Authorization, error) {

	if wit == nil {
		return nil, fmt.Errorf("%w: nil witness", ErrMalformedWitness)
	}
	if err := CheckScript(s); err != nil {
		return nil, err
	}
	digest := wit.Digest(newOutputs)

	switch s := s.(type) {
	case *Payable:
		if err := checkShape(wit, PathDefault, 1, false); err != nil {
			return nil, err
		}
		err := verifyParty(s.Recipient, nil, digest, wit.Signatures[0])
		if err != nil {
			return nil, err
		}

		return authorized(wit.Path, s.Recipient), nil

	case *Multisig:
		if err := checkShape(wit, PathDefault, 2, false); err != nil {
			return nil, err
		}
		err := verifyParty(
			s.PartyA, []ledgertypes.Party{s.PartyB}, digest,
			wit.Signatures[0],
		)
		if err != nil {
			return nil, fmt.Errorf("party A: %w", err)
		}
		err = verifyParty(
			s.PartyB, []ledgertypes.Party{s.PartyA}, digest,
			wit.Signatures[1],
		)
		if err != nil {
			return nil, fmt.Errorf("party B: %w", err)
		}

		return authorized(wit.Path, s.PartyA, s.PartyB), nil

	case *LocalCommitment:
		switch wit.Path {
		case PathRevoke:
			err := checkShape(wit, PathRevoke, 1, false)
			if err != nil {
				return nil, err
			}
			err = verifyParty(
				s.RevocationParty,
				[]ledgertypes.Party{s.DelayedParty}, digest,
				wit.Signatures[0],
			)
			if err != nil {
				return nil, err
			}

			return authorized(wit.Path, s.RevocationParty), nil

		case PathDelayed:
			err := checkShape(wit, PathDelayed, 1, false)
			if err != nil {
				return nil, err
			}
			err = verifyParty(
				s.DelayedParty,
				[]ledgertypes.Party{s.RevocationParty}, digest,
				wit.Signatures[0],
			)
			if err != nil {
				return nil, err
			}
			if err := checkDelay(createdAt, s.Delay, height); err != nil {
				return nil, err
			}

			return authorized(wit.Path, s.DelayedParty), nil

		default:
			return nil, fmt.Errorf("%w: path %d", ErrMalformedWitness,
				wit.Path)
		}

	case *HTLC:
		switch wit.Path {
		case PathRedeem:
			err := checkShape(wit, PathRedeem, 1, true)
			if err != nil {
				return nil, err
			}
			preimage := wit.Preimage.UnsafeFromSome()
			if !preimage.Matches(s.HashLock) {
				return nil, ErrPreimageMismatch
			}
			err = verifyParty(
				s.RedemptionParty,
				[]ledgertypes.Party{s.TimeoutParty}, digest,
				wit.Signatures[0],
			)
			if err != nil {
				return nil, err
			}

			return authorized(wit.Path, s.RedemptionParty), nil

		case PathTimeout:
			err := checkShape(wit, PathTimeout, 1, false)
			if err != nil {
				return nil, err
			}
			err = verifyParty(
				s.TimeoutParty,
				[]ledgertypes.Party{s.RedemptionParty}, digest,
				wit.Signatures[0],
			)
			if err != nil {
				return nil, err
			}
			if err := checkDelay(createdAt, s.Delay, height); err != nil {
				return nil, err
			}

			return authorized(wit.Path, s.TimeoutParty), nil

		default:
			return nil, fmt.Errorf("%w: path %d", ErrMalformedWitness,
				wit.Path)
		}

	default:
		return nil, ErrUnknownScript
	}
}

func authorized(path Path, signers ...ledgertypes.Party) *Authorization {
	return &Authorization{
		Path:    path,
		Signers: signers,
	}
}

// checkShape enforces the path, preimage presence and signature count.
func checkShape(wit *Witness, path Path, numSigs int, preimage bool) error {
	switch {
	case wit.Path != path:
		return fmt.Errorf("%w: path %d", ErrMalformedWitness, wit.Path)

	case wit.Preimage.IsSome() != preimage:
		return fmt.Errorf("%w: unexpected preimage presence",
			ErrMalformedWitness)

	case len(wit.Signatures) != numSigs:
		return fmt.Errorf("%w: got %d signatures, want %d",
			ErrMalformedWitness, len(wit.Signatures), numSigs)
	}

	return nil
}

// verifyParty checks sig against the expected party. If it instead verifies
// against one of the other parties named by the script, ErrWrongParty is
// returned.
func verifyParty(expected ledgertypes.Party, others []ledgertypes.Party,
	digest chainhash.Hash, sig []byte) error {

	if keychain.VerifySig(expected, digest, sig) {
		return nil
	}
	for _, other := range others {
		if other != expected && keychain.VerifySig(other, digest, sig) {
			return ErrWrongParty
		}
	}

	return ErrSigMismatch
}

// checkDelay fails unless height >= createdAt + delay.
func checkDelay(createdAt ledgertypes.Height, delay uint32,
	height ledgertypes.Height) error {

	unlock := uint64(createdAt) + uint64(delay)
	if uint64(height) < unlock {
		return fmt.Errorf("%w: height %d, unlocks at %d",
			ErrTimeLockNotMet, height, unlock)
	}

	return nil
}

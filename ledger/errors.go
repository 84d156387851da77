package ledger

import (
	"errors"
	"fmt"

	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
)

// Kind classifies why an operation was rejected.
type Kind uint8

const (
	// KindAuthorization covers missing or invalid signatures, wrong
	// signers, preimage mismatches and unexpired time locks.
	KindAuthorization Kind = iota

	// KindState covers references to outputs or channels that don't
	// exist, were already consumed or are closed.
	KindState

	// KindInvariant covers value conservation violations, negative
	// amounts and malformed witnesses or scripts.
	KindInvariant

	// KindCollaborator covers failures reported by the Ledger Gateway.
	KindCollaborator
)

// String returns a human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindInvariant:
		return "invariant"
	case KindCollaborator:
		return "collaborator"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrNegativeAmount is returned for a negative deposit or output
	// value.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrValueMismatch is returned when the inputs of a spend don't sum
	// to exactly the value of its new outputs.
	ErrValueMismatch = errors.New("input and output values differ")

	// ErrNoInputs is returned for a spend without witnesses.
	ErrNoInputs = errors.New("spend has no inputs")

	// ErrNoOutputs is returned for a spend without new outputs.
	ErrNoOutputs = errors.New("spend has no outputs")

	// ErrDuplicateInput is returned when a spend references the same
	// output twice.
	ErrDuplicateInput = errors.New("duplicate input")

	// ErrNotSoleOwner is returned when a withdraw isn't authorized by
	// exactly the claimant.
	ErrNotSoleOwner = errors.New("claimant is not the sole authorizer")
)

// Rejection is the error returned by every failed operation. It carries the
// failure kind and wraps the underlying cause.
type Rejection struct {
	// Kind is the failure class.
	Kind Kind

	// Op names the operation that was rejected.
	Op string

	// Err is the cause.
	Err error
}

// Error returns a human readable description of the rejection.
func (r *Rejection) Error() string {
	if r.Op == "" {
		return fmt.Sprintf("%v rejection: %v", r.Kind, r.Err)
	}

	return fmt.Sprintf("%s rejected (%v): %v", r.Op, r.Kind, r.Err)
}

// Unwrap returns the cause.
func (r *Rejection) Unwrap() error {
	return r.Err
}

// Reject wraps err with an explicit kind. Components layered on the engine
// use it for their own sentinel errors.
func Reject(kind Kind, err error) error {
	return &Rejection{Kind: kind, Err: err}
}

// KindOf classifies err. An explicit Rejection anywhere in the chain wins,
// otherwise the known sentinels of the script interpreter and the store
// decide. Anything else is reported as a state failure.
func KindOf(err error) Kind {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Kind
	}

	switch {
	case errors.Is(err, script.ErrMalformedWitness),
		errors.Is(err, script.ErrUnknownScript),
		errors.Is(err, ErrNegativeAmount),
		errors.Is(err, ErrValueMismatch),
		errors.Is(err, ErrNoInputs),
		errors.Is(err, ErrNoOutputs),
		errors.Is(err, ErrDuplicateInput),
		errors.Is(err, ledgertypes.ErrAmountOverflow):

		return KindInvariant

	case errors.Is(err, script.ErrSigMismatch),
		errors.Is(err, script.ErrWrongParty),
		errors.Is(err, script.ErrPreimageMismatch),
		errors.Is(err, script.ErrTimeLockNotMet),
		errors.Is(err, ErrNotSoleOwner):

		return KindAuthorization

	case errors.Is(err, ledgerdb.ErrOutputNotFound),
		errors.Is(err, ledgerdb.ErrOutputSpent),
		errors.Is(err, ledgerdb.ErrOutputExists),
		errors.Is(err, ledgerdb.ErrChannelExists),
		errors.Is(err, ledgerdb.ErrChannelNotFound),
		errors.Is(err, ledgerdb.ErrChannelClosed):

		return KindState

	default:
		return KindState
	}
}

// IsKind reports whether err is a rejection of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

package script

import (
	"testing"

	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type interpreterHarness struct {
	alice *keychain.PrivKeyDigestSigner
	bob   *keychain.PrivKeyDigestSigner
	carol *keychain.PrivKeyDigestSigner
	id    ledgertypes.OutputID
	outs  []byte
}

func newInterpreterHarness(t *testing.T) *interpreterHarness {
	t.Helper()

	var signers [3]*keychain.PrivKeyDigestSigner
	for i := range signers {
		s, err := keychain.GenerateSigner()
		require.NoError(t, err)
		signers[i] = s
	}

	outs, err := SerializeOutputs([]TxOut{
		NewTxOut(100, NewPayable(signers[2].Party())),
	})
	require.NoError(t, err)

	return &interpreterHarness{
		alice: signers[0],
		bob:   signers[1],
		carol: signers[2],
		id:    ledgertypes.OutputID{0x01},
		outs:  outs,
	}
}

func (h *interpreterHarness) witness(t *testing.T, path Path,
	preimage fn.Option[ledgertypes.Preimage],
	signers ...keychain.DigestSigner) *Witness {

	t.Helper()

	wit := &Witness{OutputID: h.id, Path: path, Preimage: preimage}
	require.NoError(t, wit.Sign(h.outs, signers...))

	return wit
}

// TestValidatePayable covers the single signature script.
func TestValidatePayable(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	s := NewPayable(h.alice.Party())
	none := fn.None[ledgertypes.Preimage]()

	auth, err := Validate(s, 0, 0, h.witness(t, PathDefault, none, h.alice),
		h.outs)
	require.NoError(t, err)
	party, ok := auth.SoleSigner()
	require.True(t, ok)
	require.Equal(t, h.alice.Party(), party)

	_, err = Validate(s, 0, 0, h.witness(t, PathDefault, none, h.bob),
		h.outs)
	require.ErrorIs(t, err, ErrSigMismatch)

	_, err = Validate(s, 0, 0, h.witness(t, PathDefault, none), h.outs)
	require.ErrorIs(t, err, ErrMalformedWitness)

	_, err = Validate(s, 0, 0, h.witness(t, 1, none, h.alice), h.outs)
	require.ErrorIs(t, err, ErrMalformedWitness)

	_, err = Validate(s, 0, 0, nil, h.outs)
	require.ErrorIs(t, err, ErrMalformedWitness)

	_, err = Validate(nil, 0, 0, h.witness(t, PathDefault, none, h.alice),
		h.outs)
	require.ErrorIs(t, err, ErrUnknownScript)

	_, err = Validate((*Payable)(nil), 0, 0,
		h.witness(t, PathDefault, none, h.alice), h.outs)
	require.ErrorIs(t, err, ErrUnknownScript)
}

// TestValidateMultisig requires both signatures in script order.
func TestValidateMultisig(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	s := &Multisig{PartyA: h.alice.Party(), PartyB: h.bob.Party()}
	none := fn.None[ledgertypes.Preimage]()

	auth, err := Validate(
		s, 0, 0, h.witness(t, PathDefault, none, h.alice, h.bob),
		h.outs,
	)
	require.NoError(t, err)
	require.Equal(t, []ledgertypes.Party{
		h.alice.Party(), h.bob.Party(),
	}, auth.Signers)
	_, ok := auth.SoleSigner()
	require.False(t, ok)

	_, err = Validate(
		s, 0, 0, h.witness(t, PathDefault, none, h.bob, h.alice),
		h.outs,
	)
	require.ErrorIs(t, err, ErrWrongParty)

	_, err = Validate(
		s, 0, 0, h.witness(t, PathDefault, none, h.alice, h.carol),
		h.outs,
	)
	require.ErrorIs(t, err, ErrSigMismatch)

	_, err = Validate(
		s, 0, 0, h.witness(t, PathDefault, none, h.alice), h.outs,
	)
	require.ErrorIs(t, err, ErrMalformedWitness)
}

// TestValidateLocalCommitment exercises both branches and the delay.
func TestValidateLocalCommitment(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	s := &LocalCommitment{
		Delay:           10,
		DelayedParty:    h.alice.Party(),
		RevocationParty: h.bob.Party(),
	}
	none := fn.None[ledgertypes.Preimage]()

	// The revocation party may spend immediately.
	auth, err := Validate(
		s, 5, 5, h.witness(t, PathRevoke, none, h.bob), h.outs,
	)
	require.NoError(t, err)
	require.Equal(t, PathRevoke, auth.Path)

	// The delayed party must wait for createdAt + delay.
	delayed := h.witness(t, PathDelayed, none, h.alice)
	_, err = Validate(s, 5, 14, delayed, h.outs)
	require.ErrorIs(t, err, ErrTimeLockNotMet)

	auth, err = Validate(s, 5, 15, delayed, h.outs)
	require.NoError(t, err)
	require.Equal(t, []ledgertypes.Party{h.alice.Party()}, auth.Signers)

	// Signing the delayed path with the revocation key is a wrong party.
	_, err = Validate(
		s, 5, 15, h.witness(t, PathDelayed, none, h.bob), h.outs,
	)
	require.ErrorIs(t, err, ErrWrongParty)

	_, err = Validate(
		s, 5, 15, h.witness(t, 2, none, h.alice), h.outs,
	)
	require.ErrorIs(t, err, ErrMalformedWitness)
}

// TestValidateHTLC exercises the redeem and timeout branches.
func TestValidateHTLC(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	preimage := ledgertypes.PreimageFromUint64(42)
	s := &HTLC{
		Delay:           10,
		RedemptionParty: h.bob.Party(),
		TimeoutParty:    h.alice.Party(),
		HashLock:        preimage.Hash(),
	}
	none := fn.None[ledgertypes.Preimage]()

	auth, err := Validate(
		s, 0, 1, h.witness(t, PathRedeem, fn.Some(preimage), h.bob),
		h.outs,
	)
	require.NoError(t, err)
	require.Equal(t, PathRedeem, auth.Path)

	wrong := ledgertypes.PreimageFromUint64(43)
	_, err = Validate(
		s, 0, 1, h.witness(t, PathRedeem, fn.Some(wrong), h.bob),
		h.outs,
	)
	require.ErrorIs(t, err, ErrPreimageMismatch)

	_, err = Validate(
		s, 0, 1, h.witness(t, PathRedeem, none, h.bob), h.outs,
	)
	require.ErrorIs(t, err, ErrMalformedWitness)

	_, err = Validate(
		s, 0, 1, h.witness(t, PathRedeem, fn.Some(preimage), h.alice),
		h.outs,
	)
	require.ErrorIs(t, err, ErrWrongParty)

	timeout := h.witness(t, PathTimeout, none, h.alice)
	_, err = Validate(s, 0, 9, timeout, h.outs)
	require.ErrorIs(t, err, ErrTimeLockNotMet)

	_, err = Validate(s, 0, 10, timeout, h.outs)
	require.NoError(t, err)

	_, err = Validate(
		s, 0, 10, h.witness(t, PathTimeout, fn.Some(preimage), h.alice),
		h.outs,
	)
	require.ErrorIs(t, err, ErrMalformedWitness)
}

// TestWitnessBindingProperty checks that a witness valid for one output and
// one proposed output set is rejected for any other output id or set.
func TestWitnessBindingProperty(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	s := NewPayable(h.alice.Party())
	none := fn.None[ledgertypes.Preimage]()

	rapid.Check(t, func(rt *rapid.T) {
		valA := rapid.Int64Range(0, 1<<40).Draw(rt, "valA")
		valB := rapid.Int64Range(0, 1<<40).Draw(rt, "valB")
		idA := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(rt, "idA")
		idB := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(rt, "idB")

		outsA, err := SerializeOutputs([]TxOut{
			NewTxOut(ledgertypes.Amount(valA),
				NewPayable(h.bob.Party())),
		})
		require.NoError(rt, err)
		outsB, err := SerializeOutputs([]TxOut{
			NewTxOut(ledgertypes.Amount(valB),
				NewPayable(h.bob.Party())),
		})
		require.NoError(rt, err)

		var outputA, outputB ledgertypes.OutputID
		copy(outputA[:], idA)
		copy(outputB[:], idB)

		wit := &Witness{OutputID: outputA, Path: PathDefault,
			Preimage: none}
		require.NoError(rt, wit.Sign(outsA, h.alice))

		_, err = Validate(s, 0, 0, wit, outsA)
		require.NoError(rt, err)

		if valA != valB {
			_, err = Validate(s, 0, 0, wit, outsB)
			require.ErrorIs(rt, err, ErrSigMismatch)
		}

		if outputA != outputB {
			replayed := *wit
			replayed.OutputID = outputB
			_, err = Validate(s, 0, 0, &replayed, outsA)
			require.ErrorIs(rt, err, ErrSigMismatch)
		}
	})
}

// TestTimeLockMonotonicity checks that a delayed path rejected before the
// unlock height succeeds unmodified at or after it.
func TestTimeLockMonotonicity(t *testing.T) {
	t.Parallel()

	h := newInterpreterHarness(t)
	none := fn.None[ledgertypes.Preimage]()
	timeout := h.witness(t, PathTimeout, none, h.alice)
	delayed := h.witness(t, PathDelayed, none, h.alice)

	rapid.Check(t, func(rt *rapid.T) {
		createdAt := rapid.Uint32Range(0, 1<<20).Draw(rt, "createdAt")
		delay := rapid.Uint32Range(0, 1<<10).Draw(rt, "delay")
		early := rapid.Uint32Range(0, createdAt+delay).Draw(rt, "early")
		late := rapid.Uint32Range(
			createdAt+delay, createdAt+delay+1<<10,
		).Draw(rt, "late")

		scripts := []struct {
			s   Script
			wit *Witness
		}{
			{&HTLC{
				Delay:           delay,
				RedemptionParty: h.bob.Party(),
				TimeoutParty:    h.alice.Party(),
			}, timeout},
			{&LocalCommitment{
				Delay:           delay,
				DelayedParty:    h.alice.Party(),
				RevocationParty: h.bob.Party(),
			}, delayed},
		}

		for _, tc := range scripts {
			c := ledgertypes.Height(createdAt)
			if early < createdAt+delay {
				_, err := Validate(
					tc.s, c, ledgertypes.Height(early),
					tc.wit, h.outs,
				)
				require.ErrorIs(rt, err, ErrTimeLockNotMet)
			}

			_, err := Validate(
				tc.s, c, ledgertypes.Height(late), tc.wit,
				h.outs,
			)
			require.NoError(rt, err)
		}
	})
}

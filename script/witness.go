package script

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TagSpend is the tag of the digest every witness signature commits to.
var TagSpend = []byte("chanledger/spend")

// Path selects which branch of a script a witness is exercising.
type Path uint8

const (
	// PathDefault is the only path of Payable and Multisig scripts.
	PathDefault Path = 0

	// PathRevoke is the LocalCommitment branch of the revocation party.
	PathRevoke Path = 0

	// PathDelayed is the LocalCommitment branch of the delayed party.
	PathDelayed Path = 1

	// PathRedeem is the HTLC branch that presents the preimage.
	PathRedeem Path = 0

	// PathTimeout is the HTLC refund branch of the timeout party.
	PathTimeout Path = 1
)

// Witness is the proof presented to spend a single output.
type Witness struct {
	// OutputID is the output being spent.
	OutputID ledgertypes.OutputID

	// Path selects the script branch.
	Path Path

	// Preimage is only present on the HTLC redeem path.
	Preimage fn.Option[ledgertypes.Preimage]

	// Signatures holds DER signatures over SigHash. Multisig expects the
	// signature of PartyA first.
	Signatures [][]byte
}

// SigHash returns the digest a witness for outputID must sign in order to
// authorize a spend that creates exactly the serialized outputs newOutputs.
// Binding all three means a signature can't be replayed against another
// output or another proposed spend.
func SigHash(outputID ledgertypes.OutputID, path Path,
	preimage fn.Option[ledgertypes.Preimage],
	newOutputs []byte) chainhash.Hash {

	pre := fn.MapOptionZ(preimage, func(p ledgertypes.Preimage) []byte {
		return append([]byte{0x01}, p[:]...)
	})
	if pre == nil {
		pre = []byte{0x00}
	}

	return *chainhash.TaggedHash(
		TagSpend, outputID[:], []byte{byte(path)}, pre, newOutputs,
	)
}

// Digest returns the SigHash this witness is expected to sign over.
func (w *Witness) Digest(newOutputs []byte) chainhash.Hash {
	return SigHash(w.OutputID, w.Path, w.Preimage, newOutputs)
}

// Sign appends a signature from each signer, in order, over the digest that
// binds this witness to newOutputs.
func (w *Witness) Sign(newOutputs []byte,
	signers ...keychain.DigestSigner) error {

	digest := w.Digest(newOutputs)
	for _, signer := range signers {
		sig, err := signer.SignDigest(digest)
		if err != nil {
			return err
		}
		w.Signatures = append(w.Signatures, sig)
	}

	return nil
}

package keychain

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/ledgertypes"
)

// ErrNilKey is returned when a signer is created without a private key.
var ErrNilKey = errors.New("nil private key")

// DigestSigner signs 32-byte digests on behalf of a single party.
type DigestSigner interface {
	// Party returns the identity whose signatures this signer produces.
	Party() ledgertypes.Party

	// SignDigest returns a DER encoded ECDSA signature over the digest.
	SignDigest(digest chainhash.Hash) ([]byte, error)
}

// PrivKeyDigestSigner is a DigestSigner backed by an in-memory private key.
type PrivKeyDigestSigner struct {
	privKey *btcec.PrivateKey
	party   ledgertypes.Party
}

// A compile time check to ensure PrivKeyDigestSigner implements the
// DigestSigner interface.
var _ DigestSigner = (*PrivKeyDigestSigner)(nil)

// NewPrivKeyDigestSigner wraps the passed private key.
func NewPrivKeyDigestSigner(priv *btcec.PrivateKey) (*PrivKeyDigestSigner,
	error) {

	if priv == nil {
		return nil, ErrNilKey
	}

	return &PrivKeyDigestSigner{
		privKey: priv,
		party:   ledgertypes.NewParty(priv.PubKey()),
	}, nil
}

// NewSignerFromBytes creates a signer from a raw 32-byte private key.
func NewSignerFromBytes(b []byte) (*PrivKeyDigestSigner, error) {
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, errors.New("private key must be 32 bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(b)

	return NewPrivKeyDigestSigner(priv)
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*PrivKeyDigestSigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return NewPrivKeyDigestSigner(priv)
}

// Party returns the compressed public key of the signer.
func (p *PrivKeyDigestSigner) Party() ledgertypes.Party {
	return p.party
}

// SignDigest signs the digest with the wrapped private key.
func (p *PrivKeyDigestSigner) SignDigest(digest chainhash.Hash) ([]byte,
	error) {

	sig := ecdsa.Sign(p.privKey, digest[:])

	return sig.Serialize(), nil
}

// VerifySig reports whether sig is a valid DER signature by party over the
// digest. Malformed keys or signatures simply fail verification.
func VerifySig(party ledgertypes.Party, digest chainhash.Hash,
	sig []byte) bool {

	pub, err := party.PubKey()
	if err != nil {
		return false
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}

	return parsed.Verify(digest[:], pub)
}

package ledgertypes

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PartySize is the length of a serialized compressed public key.
const PartySize = btcec.PubKeyBytesLenCompressed

// Party identifies a signer and a Ledger Gateway account. It is the
// compressed serialization of a secp256k1 public key.
type Party [PartySize]byte

// NewParty returns the Party for the given public key.
func NewParty(pub *btcec.PublicKey) Party {
	var p Party
	copy(p[:], pub.SerializeCompressed())

	return p
}

// PartyFromBytes parses and validates a compressed public key.
func PartyFromBytes(b []byte) (Party, error) {
	if len(b) != PartySize {
		return Party{}, fmt.Errorf("invalid party length of %v, want %v",
			len(b), PartySize)
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return Party{}, fmt.Errorf("invalid party key: %w", err)
	}

	var p Party
	copy(p[:], b)

	return p, nil
}

// PartyFromStr parses a hex encoded compressed public key.
func PartyFromStr(s string) (Party, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Party{}, err
	}

	return PartyFromBytes(b)
}

// PubKey parses the party into a public key.
func (p Party) PubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(p[:])
}

// String returns the party as a hexadecimal string.
func (p Party) String() string {
	return hex.EncodeToString(p[:])
}

// IsZero returns true if the party was never set.
func (p Party) IsZero() bool {
	return p == Party{}
}

package ledgertypes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize of array used to store hashes, identifiers and preimages.
const HashSize = 32

// Height is the value of the externally supplied, monotonically
// non-decreasing height counter. All time locks compare against it.
type Height uint32

// Hash is a 32-byte digest. It is used for hash locks.
type Hash [HashSize]byte

// ZeroHash is a predefined hash containing all zeroes.
var ZeroHash Hash

// String returns the Hash as a hexadecimal string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MakeHash returns a new Hash from a byte slice. An error is returned if the
// number of bytes passed in is not HashSize.
func MakeHash(newHash []byte) (Hash, error) {
	if len(newHash) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length of %v, want %v",
			len(newHash), HashSize)
	}

	var h Hash
	copy(h[:], newHash)

	return h, nil
}

// Preimage is a 32-byte secret whose sha256 digest forms a hash lock. For
// channel commitments it is the revocation secret of that commitment.
type Preimage [HashSize]byte

// String returns the Preimage as a hexadecimal string.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// RandomPreimage returns a preimage filled with random bytes.
func RandomPreimage() (Preimage, error) {
	var p Preimage
	if _, err := rand.Read(p[:]); err != nil {
		return Preimage{}, err
	}

	return p, nil
}

// MakePreimage returns a new Preimage from a byte slice. An error is returned
// if the number of bytes passed in is not HashSize.
func MakePreimage(b []byte) (Preimage, error) {
	if len(b) != HashSize {
		return Preimage{}, fmt.Errorf("invalid preimage length of %v, "+
			"want %v", len(b), HashSize)
	}

	var p Preimage
	copy(p[:], b)

	return p, nil
}

// PreimageFromUint64 returns the preimage holding v as a big-endian integer
// right-aligned in 32 bytes.
func PreimageFromUint64(v uint64) Preimage {
	var p Preimage
	for i := 0; i < 8; i++ {
		p[HashSize-1-i] = byte(v >> (8 * i))
	}

	return p
}

// Hash returns the sha256 hash of the preimage.
func (p Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// Matches returns whether this preimage is the preimage of the given hash.
func (p Preimage) Matches(h Hash) bool {
	return h == p.Hash()
}

// OutputID uniquely identifies an output. Identifiers are never reused.
type OutputID [HashSize]byte

// String returns the OutputID as a hexadecimal string.
func (id OutputID) String() string {
	return hex.EncodeToString(id[:])
}

// OutputIDFromStr parses a hex encoded output identifier.
func OutputIDFromStr(s string) (OutputID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return OutputID{}, err
	}

	h, err := MakeHash(b)
	if err != nil {
		return OutputID{}, err
	}

	return OutputID(h), nil
}

// ChannelID uniquely identifies a channel record.
type ChannelID [HashSize]byte

// String returns the ChannelID as a hexadecimal string.
func (id ChannelID) String() string {
	return hex.EncodeToString(id[:])
}

// ChannelIDFromStr parses a hex encoded channel identifier.
func ChannelIDFromStr(s string) (ChannelID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ChannelID{}, err
	}

	h, err := MakeHash(b)
	if err != nil {
		return ChannelID{}, err
	}

	return ChannelID(h), nil
}

package shachain

import (
	"crypto/sha256"
	"errors"

	"github.com/chanledger/chanledger/ledgertypes"
)

const (
	// maxHeight is the number of index bits and so the number of buckets
	// a store needs to derive every earlier secret.
	maxHeight uint8 = 48

	// rootIndex is the index of the root secret every other one is
	// derived from.
	rootIndex index = 0
)

// startIndex is the raw index of the secret of the first commitment.
// Successive commitments count down from it.
var startIndex index = (1 << maxHeight) - 1

// ErrNotDerivable is returned when one index can't be reached from another.
var ErrNotDerivable = errors.New("index isn't derivable")

// index is the raw position of a secret in the chain. A secret at index i can
// derive any index that shares its prefix down to i's lowest set bit.
type index uint64

// newIndex maps commitment number n to its raw index.
func newIndex(n uint64) index {
	return startIndex - index(n)
}

// commitment maps a raw index back to its commitment number.
func (i index) commitment() uint64 {
	return uint64(startIndex - i)
}

// bit returns the bit of i at position.
func (i index) bit(position uint8) uint8 {
	return uint8((uint64(i) >> position) & 1)
}

// prefix clears the bits of i below position.
func (i index) prefix(position uint8) index {
	mask := ^index(0) << position
	return i & mask
}

// trailingZeros returns the bucket the secret at i is stored in.
func (i index) trailingZeros() uint8 {
	var zeros uint8
	for ; zeros < maxHeight; zeros++ {
		if i.bit(zeros) != 0 {
			break
		}
	}

	return zeros
}

// flips returns, highest first, the bit positions that must be set to go
// from index i to index to. It fails unless both agree above i's lowest set
// bit.
func (i index) flips(to index) ([]uint8, error) {
	if i == to {
		return nil, nil
	}

	zeros := i.trailingZeros()
	if i != to.prefix(zeros) {
		return nil, ErrNotDerivable
	}

	var positions []uint8
	for position := int(zeros) - 1; position >= 0; position-- {
		if to.bit(uint8(position)) == 1 {
			positions = append(positions, uint8(position))
		}
	}

	return positions, nil
}

// element is a secret together with its raw index.
type element struct {
	index  index
	secret ledgertypes.Preimage
}

// derive computes the secret at index to by flipping each required bit of
// the current secret and hashing after every flip.
func (e *element) derive(to index) (*element, error) {
	positions, err := e.index.flips(to)
	if err != nil {
		return nil, err
	}

	secret := e.secret
	for _, position := range positions {
		secret[position/8] ^= 1 << (position % 8)
		secret = sha256.Sum256(secret[:])
	}

	return &element{index: to, secret: secret}, nil
}

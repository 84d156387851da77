package shachain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chanledger/chanledger/ledgertypes"
)

// ErrSecretMismatch is returned when a new secret doesn't derive the ones
// already stored, meaning the sender skipped or forged a secret.
var ErrSecretMismatch = errors.New("secret isn't consistent with " +
	"previous ones")

// ErrChainFull is returned once every index of the chain has been used.
var ErrChainFull = errors.New("revocation chain exhausted")

// Store keeps the revocation secrets a counterparty disclosed.
type Store interface {
	// LookUp returns the secret of commitment n.
	LookUp(n uint64) (ledgertypes.Preimage, error)

	// AddNextEntry stores the secret of the next commitment. Secrets
	// must be added in commitment order.
	AddNextEntry(secret ledgertypes.Preimage) error

	// Encode writes the store to w.
	Encode(w io.Writer) error
}

// RevocationStore keeps N received secrets in O(log N) space: only the
// secret with the most trailing zeros per bucket is kept, the rest are
// derived from it on demand.
type RevocationStore struct {
	// numBuckets is the number of buckets in use.
	numBuckets uint8

	// buckets holds, per number of trailing zeros, the latest secret
	// with that many.
	buckets [maxHeight]element

	// next is the raw index the next secret will be stored at.
	next index
}

// A compile time check to ensure RevocationStore implements Store.
var _ Store = (*RevocationStore)(nil)

// NewRevocationStore returns an empty store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{next: startIndex}
}

// NewRevocationStoreFromBytes restores a store written by Encode.
func NewRevocationStoreFromBytes(r io.Reader) (*RevocationStore, error) {
	store := &RevocationStore{}

	if err := binary.Read(r, binary.BigEndian, &store.numBuckets); err != nil {
		return nil, err
	}
	if store.numBuckets > maxHeight {
		return nil, fmt.Errorf("invalid bucket count %d",
			store.numBuckets)
	}

	for i := uint8(0); i < store.numBuckets; i++ {
		e := &store.buckets[i]
		if err := binary.Read(r, binary.BigEndian, &e.index); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, e.secret[:]); err != nil {
			return nil, err
		}
	}

	if err := binary.Read(r, binary.BigEndian, &store.next); err != nil {
		return nil, err
	}

	return store, nil
}

// NumEntries returns how many secrets have been added.
func (s *RevocationStore) NumEntries() uint64 {
	return uint64(startIndex - s.next)
}

// LookUp returns the secret of commitment n if it has been received.
func (s *RevocationStore) LookUp(n uint64) (ledgertypes.Preimage, error) {
	if n >= s.NumEntries() {
		return ledgertypes.Preimage{}, fmt.Errorf("secret #%d not "+
			"received yet", n)
	}

	target := newIndex(n)
	for i := uint8(0); i < s.numBuckets; i++ {
		e, err := s.buckets[i].derive(target)
		if err != nil {
			continue
		}

		return e.secret, nil
	}

	return ledgertypes.Preimage{}, fmt.Errorf("unable to derive secret "+
		"#%d", n)
}

// AddNextEntry stores the secret of the next commitment after checking it
// derives every secret it supersedes.
func (s *RevocationStore) AddNextEntry(secret ledgertypes.Preimage) error {
	if s.next == rootIndex {
		return ErrChainFull
	}

	e := &element{index: s.next, secret: secret}
	bucket := e.index.trailingZeros()

	for i := uint8(0); i < bucket; i++ {
		derived, err := e.derive(s.buckets[i].index)
		if err != nil {
			return err
		}
		if derived.secret != s.buckets[i].secret {
			return fmt.Errorf("%w: commitment %d", ErrSecretMismatch,
				e.index.commitment())
		}
	}

	s.buckets[bucket] = *e
	if bucket+1 > s.numBuckets {
		s.numBuckets = bucket + 1
	}
	s.next--

	return nil
}

// Encode writes the store to w.
func (s *RevocationStore) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, s.numBuckets); err != nil {
		return err
	}

	for i := uint8(0); i < s.numBuckets; i++ {
		e := s.buckets[i]
		if err := binary.Write(w, binary.BigEndian, e.index); err != nil {
			return err
		}
		if _, err := w.Write(e.secret[:]); err != nil {
			return err
		}
	}

	return binary.Write(w, binary.BigEndian, s.next)
}

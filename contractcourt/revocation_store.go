package contractcourt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// revocationBucket holds a nested bucket per channel id:
	//
	//   revocation-secrets
	//   └── <chan id>
	//       ├── store: serialized shachain store
	//       └── hash-index
	//           └── <hash lock>: commitment number
	revocationBucket = []byte("revocation-secrets")

	storeKey     = []byte("store")
	hashIndexKey = []byte("hash-index")

	// ErrNoRevocationBucket is returned when the archive's bucket is
	// missing from the database.
	ErrNoRevocationBucket = errors.New("revocation bucket not found")
)

// SecretLookup finds the revocation secret behind a published commitment.
type SecretLookup interface {
	// LookupSecret returns the counterparty secret of chanID that hashes
	// to hashLock, if it was ever revealed.
	LookupSecret(chanID ledgertypes.ChannelID,
		hashLock ledgertypes.Hash) (fn.Option[ledgertypes.Preimage], error)
}

// RevocationArchive persists, per channel, the revocation secrets the
// counterparty disclosed when moving to a newer commitment. Secrets are kept
// in a shachain store so an unbounded number of states costs logarithmic
// space.
type RevocationArchive struct {
	db kvdb.Backend
}

// A compile time check to ensure RevocationArchive implements SecretLookup.
var _ SecretLookup = (*RevocationArchive)(nil)

// NewRevocationArchive creates the archive's bucket in db if needed.
func NewRevocationArchive(db kvdb.Backend) (*RevocationArchive, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(revocationBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &RevocationArchive{db: db}, nil
}

// AddSecret records the next revealed secret of chanID. Secrets must be
// added in commitment order, a secret that doesn't derive the earlier ones
// is rejected.
func (a *RevocationArchive) AddSecret(chanID ledgertypes.ChannelID,
	secret ledgertypes.Preimage) error {

	return kvdb.Update(a.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(revocationBucket)
		if bucket == nil {
			return ErrNoRevocationBucket
		}
		chanBucket, err := bucket.CreateBucketIfNotExists(chanID[:])
		if err != nil {
			return err
		}

		store, err := fetchStore(chanBucket)
		if err != nil {
			return err
		}
		if err := store.AddNextEntry(secret); err != nil {
			return fmt.Errorf("channel %v: %w", chanID, err)
		}

		var b bytes.Buffer
		if err := store.Encode(&b); err != nil {
			return err
		}
		if err := chanBucket.Put(storeKey, b.Bytes()); err != nil {
			return err
		}

		index, err := chanBucket.CreateBucketIfNotExists(hashIndexKey)
		if err != nil {
			return err
		}
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], store.NumEntries()-1)
		hashLock := secret.Hash()

		return index.Put(hashLock[:], n[:])
	}, func() {})
}

// NumSecrets returns how many secrets of chanID have been recorded.
func (a *RevocationArchive) NumSecrets(chanID ledgertypes.ChannelID) (uint64,
	error) {

	var n uint64
	err := kvdb.View(a.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(revocationBucket)
		if bucket == nil {
			return ErrNoRevocationBucket
		}
		chanBucket := bucket.NestedReadBucket(chanID[:])
		if chanBucket == nil {
			return nil
		}

		store, err := fetchStore(chanBucket)
		if err != nil {
			return err
		}
		n = store.NumEntries()

		return nil
	}, func() {
		n = 0
	})

	return n, err
}

// LookupSecret returns the recorded secret of chanID matching hashLock.
func (a *RevocationArchive) LookupSecret(chanID ledgertypes.ChannelID,
	hashLock ledgertypes.Hash) (fn.Option[ledgertypes.Preimage], error) {

	secret := fn.None[ledgertypes.Preimage]()
	err := kvdb.View(a.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(revocationBucket)
		if bucket == nil {
			return ErrNoRevocationBucket
		}
		chanBucket := bucket.NestedReadBucket(chanID[:])
		if chanBucket == nil {
			return nil
		}
		index := chanBucket.NestedReadBucket(hashIndexKey)
		if index == nil {
			return nil
		}
		v := index.Get(hashLock[:])
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("channel %v: malformed hash index "+
				"entry", chanID)
		}
		n := binary.BigEndian.Uint64(v)

		store, err := fetchStore(chanBucket)
		if err != nil {
			return err
		}
		preimage, err := store.LookUp(n)
		if err != nil {
			return fmt.Errorf("channel %v: %w", chanID, err)
		}
		if !preimage.Matches(hashLock) {
			return fmt.Errorf("channel %v: secret #%d doesn't match "+
				"its hash index entry", chanID, n)
		}

		log.Debugf("Found revoked commitment #%d of channel %v", n,
			chanID)
		secret = fn.Some(preimage)

		return nil
	}, func() {
		secret = fn.None[ledgertypes.Preimage]()
	})

	return secret, err
}

// Remove forgets every secret of chanID.
func (a *RevocationArchive) Remove(chanID ledgertypes.ChannelID) error {
	return kvdb.Update(a.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(revocationBucket)
		if bucket == nil {
			return ErrNoRevocationBucket
		}

		err := bucket.DeleteNestedBucket(chanID[:])
		if errors.Is(err, kvdb.ErrBucketNotFound) {
			return nil
		}

		return err
	}, func() {})
}

// fetchStore decodes the store of a channel bucket, returning an empty one
// if nothing was recorded yet.
func fetchStore(chanBucket kvdb.RBucket) (*shachain.RevocationStore, error) {
	raw := chanBucket.Get(storeKey)
	if raw == nil {
		return shachain.NewRevocationStore(), nil
	}

	return shachain.NewRevocationStoreFromBytes(bytes.NewReader(raw))
}

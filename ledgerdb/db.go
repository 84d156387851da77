package ledgerdb

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// DefaultDBFileName is the file name of the bolt database inside the
	// data directory.
	DefaultDBFileName = "ledger.db"

	// DefaultDBTimeout is how long opening the database waits for the
	// file lock.
	DefaultDBTimeout = kvdb.DefaultDBTimeout
)

var (
	// outputBucket houses every output record keyed by output id. The
	// bucket sequence is the store-wide nonce used for identifier
	// derivation.
	outputBucket = []byte("outputs")

	// channelBucket houses every channel record keyed by channel id.
	channelBucket = []byte("channels")

	// ErrOutputNotFound is returned when an output id has never been
	// created.
	ErrOutputNotFound = errors.New("output not found")

	// ErrOutputSpent is returned when an output exists but has already
	// been consumed.
	ErrOutputSpent = errors.New("output already spent")

	// ErrOutputExists is returned when creating an output whose id is or
	// was already present in the store.
	ErrOutputExists = errors.New("output id already used")

	// ErrChannelNotFound is returned when a channel id is unknown.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists is returned when creating a channel whose id is
	// already present in the store.
	ErrChannelExists = errors.New("channel already exists")

	// ErrChannelClosed is returned when a transition references a channel
	// that is no longer open.
	ErrChannelClosed = errors.New("channel closed")

	// ErrReadOnlyTx is returned when a write is attempted from within a
	// View transaction.
	ErrReadOnlyTx = errors.New("write in read-only transaction")

	// ErrCorruptedStore indicates the on-disk bucket structure is
	// missing.
	ErrCorruptedStore = errors.New("ledger store has been corrupted")
)

// Config houses the options required to open a bolt backed ledger DB.
type Config struct {
	// DBPath is the directory the database file lives in.
	DBPath string

	// DBFileName is the name of the database file.
	DBFileName string

	// NoFreelistSync disables syncing the freelist to disk.
	NoFreelistSync bool

	// AutoCompact compacts the database on open.
	AutoCompact bool

	// DBTimeout is how long to wait for the file lock.
	DBTimeout time.Duration
}

// DB is the Output Store and Channel table. All access goes through Update
// and View so that a multi-step transition commits or rolls back as a
// whole.
type DB struct {
	backend kvdb.Backend
}

// Open opens, creating if needed, a bolt backed ledger database.
func Open(cfg *Config) (*DB, error) {
	fileName := cfg.DBFileName
	if fileName == "" {
		fileName = DefaultDBFileName
	}
	timeout := cfg.DBTimeout
	if timeout == 0 {
		timeout = DefaultDBTimeout
	}

	backend, err := kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
		DBPath:            cfg.DBPath,
		DBFileName:        fileName,
		NoFreelistSync:    cfg.NoFreelistSync,
		AutoCompact:       cfg.AutoCompact,
		AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
		DBTimeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open ledger db: %w", err)
	}

	db, err := New(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	log.Infof("Opened ledger database at %v", cfg.DBPath)

	return db, nil
}

// New wraps an already opened backend, creating the top level buckets if
// they don't exist yet.
func New(backend kvdb.Backend) (*DB, error) {
	err := kvdb.Update(backend, func(tx kvdb.RwTx) error {
		for _, bucket := range [][]byte{outputBucket, channelBucket} {
			_, err := tx.CreateTopLevelBucket(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize ledger "+
			"buckets: %w", err)
	}

	return &DB{backend: backend}, nil
}

// Backend returns the underlying backend so other subsystems can keep their
// own buckets in the same file.
func (d *DB) Backend() kvdb.Backend {
	return d.backend
}

// Close releases the underlying backend.
func (d *DB) Close() error {
	return d.backend.Close()
}

// Update runs f inside a read-write transaction. If f returns an error
// nothing it wrote is persisted. reset is called before every attempt.
func (d *DB) Update(f func(tx *Tx) error, reset func()) error {
	return kvdb.Update(d.backend, func(rwTx kvdb.RwTx) error {
		return f(&Tx{rtx: rwTx, rwtx: rwTx})
	}, reset)
}

// View runs f inside a read-only transaction.
func (d *DB) View(f func(tx *Tx) error, reset func()) error {
	return kvdb.View(d.backend, func(rTx kvdb.RTx) error {
		return f(&Tx{rtx: rTx})
	}, reset)
}

// FetchOutput returns the output record stored under id, live or consumed.
func (d *DB) FetchOutput(id ledgertypes.OutputID) (*Output, error) {
	var out *Output
	err := d.View(func(tx *Tx) error {
		var err error
		out, err = tx.FetchOutput(id)

		return err
	}, func() {
		out = nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// FetchChannel returns the channel record stored under id.
func (d *DB) FetchChannel(id ledgertypes.ChannelID) (*Channel, error) {
	var c *Channel
	err := d.View(func(tx *Tx) error {
		var err error
		c, err = tx.FetchChannel(id)

		return err
	}, func() {
		c = nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// ForEachOutput calls cb for every output record in key order.
func (d *DB) ForEachOutput(cb func(*Output) error) error {
	return d.View(func(tx *Tx) error {
		return tx.ForEachOutput(cb)
	}, func() {})
}

// ForEachChannel calls cb for every channel record in key order.
func (d *DB) ForEachChannel(cb func(*Channel) error) error {
	return d.View(func(tx *Tx) error {
		return tx.ForEachChannel(cb)
	}, func() {})
}

// Tx is a transaction over the ledger buckets. Writes fail with
// ErrReadOnlyTx on a transaction obtained through View.
type Tx struct {
	rtx  kvdb.RTx
	rwtx kvdb.RwTx
}

func (t *Tx) readBucket(key []byte) (kvdb.RBucket, error) {
	bucket := t.rtx.ReadBucket(key)
	if bucket == nil {
		return nil, ErrCorruptedStore
	}

	return bucket, nil
}

func (t *Tx) writeBucket(key []byte) (kvdb.RwBucket, error) {
	if t.rwtx == nil {
		return nil, ErrReadOnlyTx
	}
	bucket := t.rwtx.ReadWriteBucket(key)
	if bucket == nil {
		return nil, ErrCorruptedStore
	}

	return bucket, nil
}

// FetchOutput returns the record stored under id whether or not it has been
// consumed.
func (t *Tx) FetchOutput(id ledgertypes.OutputID) (*Output, error) {
	outputs, err := t.readBucket(outputBucket)
	if err != nil {
		return nil, err
	}

	raw := outputs.Get(id[:])
	if raw == nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputNotFound, id)
	}

	return decodeOutput(id, bytes.NewReader(raw))
}

// LiveOutput returns the record stored under id, failing with
// ErrOutputSpent if it has already been consumed.
func (t *Tx) LiveOutput(id ledgertypes.OutputID) (*Output, error) {
	out, err := t.FetchOutput(id)
	if err != nil {
		return nil, err
	}
	if !out.Exists {
		return nil, fmt.Errorf("%w: %v", ErrOutputSpent, id)
	}

	return out, nil
}

// CreateOutput stores a new live output. An id that was ever present, live
// or consumed, is refused with ErrOutputExists.
func (t *Tx) CreateOutput(out *Output) error {
	outputs, err := t.writeBucket(outputBucket)
	if err != nil {
		return err
	}
	if outputs.Get(out.ID[:]) != nil {
		return fmt.Errorf("%w: %v", ErrOutputExists, out.ID)
	}

	out.Exists = true
	raw, err := serialize(out.Encode)
	if err != nil {
		return err
	}

	log.Tracef("Creating output %v value=%v height=%v", out.ID,
		out.Value, out.CreatedAt)

	return outputs.Put(out.ID[:], raw)
}

// ConsumeOutput clears the Exists flag of a live output and returns the
// record as it was before consumption.
func (t *Tx) ConsumeOutput(id ledgertypes.OutputID) (*Output, error) {
	outputs, err := t.writeBucket(outputBucket)
	if err != nil {
		return nil, err
	}
	out, err := t.LiveOutput(id)
	if err != nil {
		return nil, err
	}

	spent := *out
	spent.Exists = false
	raw, err := serialize(spent.Encode)
	if err != nil {
		return nil, err
	}
	if err := outputs.Put(id[:], raw); err != nil {
		return nil, err
	}

	log.Tracef("Consumed output %v", id)

	return out, nil
}

// ForEachOutput calls cb for every output record in key order.
func (t *Tx) ForEachOutput(cb func(*Output) error) error {
	outputs, err := t.readBucket(outputBucket)
	if err != nil {
		return err
	}

	return outputs.ForEach(func(k, v []byte) error {
		var id ledgertypes.OutputID
		copy(id[:], k)

		out, err := decodeOutput(id, bytes.NewReader(v))
		if err != nil {
			return err
		}

		return cb(out)
	})
}

// NextSequence increments and returns the store-wide sequence number.
func (t *Tx) NextSequence() (uint64, error) {
	outputs, err := t.writeBucket(outputBucket)
	if err != nil {
		return 0, err
	}

	return outputs.NextSequence()
}

// FetchChannel returns the channel record stored under id.
func (t *Tx) FetchChannel(id ledgertypes.ChannelID) (*Channel, error) {
	channels, err := t.readBucket(channelBucket)
	if err != nil {
		return nil, err
	}

	raw := channels.Get(id[:])
	if raw == nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelNotFound, id)
	}

	return decodeChannel(id, bytes.NewReader(raw))
}

// OpenChannel returns the channel stored under id, failing with
// ErrChannelClosed if it is no longer open.
func (t *Tx) OpenChannel(id ledgertypes.ChannelID) (*Channel, error) {
	c, err := t.FetchChannel(id)
	if err != nil {
		return nil, err
	}
	if !c.Open {
		return nil, fmt.Errorf("%w: %v", ErrChannelClosed, id)
	}

	return c, nil
}

// CreateChannel stores a new channel record.
func (t *Tx) CreateChannel(c *Channel) error {
	channels, err := t.writeBucket(channelBucket)
	if err != nil {
		return err
	}
	if channels.Get(c.ID[:]) != nil {
		return fmt.Errorf("%w: %v", ErrChannelExists, c.ID)
	}

	return t.putChannel(channels, c)
}

// CloseChannel marks an open channel as closed.
func (t *Tx) CloseChannel(id ledgertypes.ChannelID) (*Channel, error) {
	channels, err := t.writeBucket(channelBucket)
	if err != nil {
		return nil, err
	}
	c, err := t.OpenChannel(id)
	if err != nil {
		return nil, err
	}

	closed := *c
	closed.Open = false
	if err := t.putChannel(channels, &closed); err != nil {
		return nil, err
	}

	log.Debugf("Closed channel %v", id)

	return c, nil
}

func (t *Tx) putChannel(channels kvdb.RwBucket, c *Channel) error {
	raw, err := serialize(c.Encode)
	if err != nil {
		return err
	}

	return channels.Put(c.ID[:], raw)
}

// ForEachChannel calls cb for every channel record in key order.
func (t *Tx) ForEachChannel(cb func(*Channel) error) error {
	channels, err := t.readBucket(channelBucket)
	if err != nil {
		return err
	}

	return channels.ForEach(func(k, v []byte) error {
		var id ledgertypes.ChannelID
		copy(id[:], k)

		c, err := decodeChannel(id, bytes.NewReader(v))
		if err != nil {
			return err
		}

		return cb(c)
	})
}

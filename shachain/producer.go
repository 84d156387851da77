package shachain

import (
	"io"

	"github.com/chanledger/chanledger/ledgertypes"
)

// Producer hands out the per-commitment revocation secrets of one party.
type Producer interface {
	// AtIndex returns the secret of commitment n.
	AtIndex(n uint64) (ledgertypes.Preimage, error)

	// Encode writes the producer's root to w.
	Encode(w io.Writer) error
}

// RevocationProducer derives every secret from a single 32-byte root so the
// whole chain costs constant space to keep.
type RevocationProducer struct {
	root element
}

// A compile time check to ensure RevocationProducer implements Producer.
var _ Producer = (*RevocationProducer)(nil)

// NewRevocationProducer creates a producer from root, which must be kept
// secret.
func NewRevocationProducer(root ledgertypes.Preimage) *RevocationProducer {
	return &RevocationProducer{
		root: element{index: rootIndex, secret: root},
	}
}

// NewRevocationProducerFromBytes restores a producer written by Encode.
func NewRevocationProducerFromBytes(r io.Reader) (*RevocationProducer,
	error) {

	var root ledgertypes.Preimage
	if _, err := io.ReadFull(r, root[:]); err != nil {
		return nil, err
	}

	return NewRevocationProducer(root), nil
}

// AtIndex returns the secret of commitment n. The hash lock of that
// commitment is the secret's sha256.
func (p *RevocationProducer) AtIndex(n uint64) (ledgertypes.Preimage, error) {
	e, err := p.root.derive(newIndex(n))
	if err != nil {
		return ledgertypes.Preimage{}, err
	}

	return e.secret, nil
}

// Encode writes the root secret to w.
func (p *RevocationProducer) Encode(w io.Writer) error {
	_, err := w.Write(p.root.secret[:])
	return err
}

package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chanledger/chanledger/ledgertypes"
)

// TagOutputID is the tag of content addressed output identifiers.
var TagOutputID = []byte("chanledger/outputid")

// IDSource identifies the transition that is creating an output.
type IDSource uint8

const (
	// SourceDeposit is an output minted from a gateway transfer.
	SourceDeposit IDSource = iota + 1

	// SourceSpend is an output created by a spend.
	SourceSpend

	// SourceChannel is an output paid out by a channel transition.
	SourceChannel
)

// IDContext is everything an IDPolicy may draw on to derive an identifier.
type IDContext struct {
	// Source is the kind of transition creating the output.
	Source IDSource

	// Inputs are the consumed references, each already encoded, e.g.
	// output id followed by the witness path.
	Inputs [][]byte

	// Payload is the transition specific data the new output commits
	// to, e.g. the serialized new outputs of a spend.
	Payload []byte

	// Index is the position of the output among those created by the
	// transition.
	Index uint32
}

// IDPolicy derives the identifier of a new output. seq is a fresh value of
// the store wide sequence, unique per call.
type IDPolicy interface {
	NextID(seq uint64, ctx *IDContext) ledgertypes.OutputID
}

// ContentPolicy derives identifiers as a tagged hash over the consumed
// inputs, the transition payload and the output index. Deposits have no
// inputs so the sequence is mixed in as a nonce.
type ContentPolicy struct{}

// NextID returns the content address of the output described by ctx.
func (ContentPolicy) NextID(seq uint64,
	ctx *IDContext) ledgertypes.OutputID {

	var index [4]byte
	binary.BigEndian.PutUint32(index[:], ctx.Index)

	parts := make([][]byte, 0, len(ctx.Inputs)+4)
	parts = append(parts, []byte{byte(ctx.Source)})
	parts = append(parts, ctx.Inputs...)
	parts = append(parts, ctx.Payload, index[:])

	if ctx.Source == SourceDeposit {
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], seq)
		parts = append(parts, nonce[:])
	}

	return ledgertypes.OutputID(*chainhash.TaggedHash(TagOutputID, parts...))
}

// SequentialPolicy uses the store sequence itself, big endian in the last
// eight bytes of the identifier.
type SequentialPolicy struct{}

// NextID returns seq as an identifier.
func (SequentialPolicy) NextID(seq uint64, _ *IDContext) ledgertypes.OutputID {
	var id ledgertypes.OutputID
	binary.BigEndian.PutUint64(id[len(id)-8:], seq)

	return id
}

// PolicyFromString maps a configuration value to an IDPolicy.
func PolicyFromString(name string) (IDPolicy, error) {
	switch name {
	case "", "content":
		return ContentPolicy{}, nil
	case "sequential":
		return SequentialPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown id policy %q", name)
	}
}

// A compile time check to ensure both policies implement IDPolicy.
var (
	_ IDPolicy = ContentPolicy{}
	_ IDPolicy = SequentialPolicy{}
)

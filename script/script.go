package script

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chanledger/chanledger/ledgertypes"
)

// Kind is the one byte tag that selects a spending condition.
type Kind uint8

const (
	// KindPayable pays to a single recipient.
	KindPayable Kind = 0x01

	// KindMultisig requires signatures from both parties.
	KindMultisig Kind = 0x02

	// KindLocalCommitment is spendable by the revocation party at any
	// time, or by the delayed party once the delay has elapsed.
	KindLocalCommitment Kind = 0x03

	// KindHTLC is redeemable with a preimage, or refundable to the
	// timeout party once the delay has elapsed.
	KindHTLC Kind = 0x04
)

// String returns a human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPayable:
		return "Payable"
	case KindMultisig:
		return "Multisig"
	case KindLocalCommitment:
		return "LocalCommitment"
	case KindHTLC:
		return "HTLC"
	default:
		return fmt.Sprintf("<unknown kind %d>", uint8(k))
	}
}

// Script is the closed set of spending conditions an output can carry. Only
// the types defined in this package implement it.
type Script interface {
	// Kind returns the tag of the script.
	Kind() Kind

	// Encode writes the canonical serialization of the script, tag
	// included. These bytes are what signatures commit to.
	Encode(w io.Writer) error

	sealed()
}

// Payable is spendable by a single signature of Recipient.
type Payable struct {
	Recipient ledgertypes.Party
}

// Multisig is spendable only with signatures from both PartyA and PartyB.
type Multisig struct {
	PartyA ledgertypes.Party
	PartyB ledgertypes.Party
}

// LocalCommitment splits authority between a party that may spend at any
// height and one that must wait Delay heights after creation.
type LocalCommitment struct {
	Delay           uint32
	DelayedParty    ledgertypes.Party
	RevocationParty ledgertypes.Party
}

// HTLC is redeemable immediately by RedemptionParty presenting the preimage
// of HashLock, or by TimeoutParty once Delay heights have passed since
// creation.
type HTLC struct {
	Delay           uint32
	RedemptionParty ledgertypes.Party
	TimeoutParty    ledgertypes.Party
	HashLock        ledgertypes.Hash
}

// Compile time checks that every variant implements Script.
var (
	_ Script = (*Payable)(nil)
	_ Script = (*Multisig)(nil)
	_ Script = (*LocalCommitment)(nil)
	_ Script = (*HTLC)(nil)
)

// NewPayable returns a Payable script for the recipient.
func NewPayable(recipient ledgertypes.Party) *Payable {
	return &Payable{Recipient: recipient}
}

// Kind returns KindPayable.
func (p *Payable) Kind() Kind { return KindPayable }

// Kind returns KindMultisig.
func (m *Multisig) Kind() Kind { return KindMultisig }

// Kind returns KindLocalCommitment.
func (l *LocalCommitment) Kind() Kind { return KindLocalCommitment }

// Kind returns KindHTLC.
func (h *HTLC) Kind() Kind { return KindHTLC }

func (p *Payable) sealed()         {}
func (m *Multisig) sealed()        {}
func (l *LocalCommitment) sealed() {}
func (h *HTLC) sealed()            {}

// Encode writes 0x01 || recipient.
func (p *Payable) Encode(w io.Writer) error {
	return writeElements(w, KindPayable, p.Recipient)
}

// Encode writes 0x02 || partyA || partyB.
func (m *Multisig) Encode(w io.Writer) error {
	return writeElements(w, KindMultisig, m.PartyA, m.PartyB)
}

// Encode writes 0x03 || delay || delayedParty || revocationParty.
func (l *LocalCommitment) Encode(w io.Writer) error {
	return writeElements(
		w, KindLocalCommitment, l.Delay, l.DelayedParty,
		l.RevocationParty,
	)
}

// Encode writes 0x04 || delay || redemptionParty || timeoutParty ||
// hashLock.
func (h *HTLC) Encode(w io.Writer) error {
	return writeElements(
		w, KindHTLC, h.Delay, h.RedemptionParty, h.TimeoutParty,
		h.HashLock,
	)
}

// CheckScript returns ErrUnknownScript if s is nil, including a nil pointer
// to one of the script variants.
func CheckScript(s Script) error {
	switch v := s.(type) {
	case *Payable:
		if v != nil {
			return nil
		}
	case *Multisig:
		if v != nil {
			return nil
		}
	case *LocalCommitment:
		if v != nil {
			return nil
		}
	case *HTLC:
		if v != nil {
			return nil
		}
	}

	return ErrUnknownScript
}

// Serialize returns the canonical encoding of the script.
func Serialize(s Script) ([]byte, error) {
	if err := CheckScript(s); err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := s.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode reads one script from r, dispatching on its tag.
func Decode(r io.Reader) (Script, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}

	switch Kind(tag[0]) {
	case KindPayable:
		s := &Payable{}
		err := readElements(r, &s.Recipient)
		return s, err

	case KindMultisig:
		s := &Multisig{}
		err := readElements(r, &s.PartyA, &s.PartyB)
		return s, err

	case KindLocalCommitment:
		s := &LocalCommitment{}
		err := readElements(
			r, &s.Delay, &s.DelayedParty, &s.RevocationParty,
		)
		return s, err

	case KindHTLC:
		s := &HTLC{}
		err := readElements(
			r, &s.Delay, &s.RedemptionParty, &s.TimeoutParty,
			&s.HashLock,
		)
		return s, err

	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownScript,
			tag[0])
	}
}

// Parse decodes a script that must occupy the whole of b.
func Parse(b []byte) (Script, error) {
	r := bytes.NewReader(b)
	s, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after script")
	}

	return s, nil
}

// writeElements writes the fixed width fields used by script encodings.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		var err error
		switch e := element.(type) {
		case Kind:
			_, err = w.Write([]byte{byte(e)})

		case uint32:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], e)
			_, err = w.Write(b[:])

		case uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], e)
			_, err = w.Write(b[:])

		case ledgertypes.Party:
			_, err = w.Write(e[:])

		case ledgertypes.Hash:
			_, err = w.Write(e[:])

		default:
			return fmt.Errorf("unknown type in writeElements: %T", e)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// readElements is the inverse of writeElements for fields after the tag.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		switch e := element.(type) {
		case *uint32:
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return err
			}
			*e = binary.BigEndian.Uint32(b[:])

		case *uint64:
			var b [8]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return err
			}
			*e = binary.BigEndian.Uint64(b[:])

		case *ledgertypes.Party:
			if _, err := io.ReadFull(r, e[:]); err != nil {
				return err
			}

		case *ledgertypes.Hash:
			if _, err := io.ReadFull(r, e[:]); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown type in readElements: %T", e)
		}
	}

	return nil
}

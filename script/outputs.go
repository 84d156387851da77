package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chanledger/chanledger/ledgertypes"
)

// TxOut is a proposed new output: a value and the script that will guard it.
type TxOut struct {
	Value  ledgertypes.Amount
	Script Script
}

// NewTxOut is a convenience constructor.
func NewTxOut(value ledgertypes.Amount, s Script) TxOut {
	return TxOut{Value: value, Script: s}
}

// SerializeOutputs returns count(2) || (value(8) || script)* for the given
// outputs. Witness signatures commit to exactly these bytes.
func SerializeOutputs(outs []TxOut) ([]byte, error) {
	if len(outs) > math.MaxUint16 {
		return nil, errors.New("too many outputs")
	}

	var b bytes.Buffer
	if err := writeCount(&b, len(outs)); err != nil {
		return nil, err
	}
	for i, out := range outs {
		if out.Value < 0 {
			return nil, fmt.Errorf("output %d has negative value", i)
		}
		if err := CheckScript(out.Script); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if err := writeElements(&b, uint64(out.Value)); err != nil {
			return nil, err
		}
		if err := out.Script.Encode(&b); err != nil {
			return nil, err
		}
	}

	return b.Bytes(), nil
}

// ParseOutputs decodes the output of SerializeOutputs.
func ParseOutputs(raw []byte) ([]TxOut, error) {
	r := bytes.NewReader(raw)

	var count [2]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := int(count[0])<<8 | int(count[1])

	outs := make([]TxOut, 0, n)
	for i := 0; i < n; i++ {
		var value uint64
		if err := readElements(r, &value); err != nil {
			return nil, err
		}
		if value > uint64(ledgertypes.MaxAmount) {
			return nil, fmt.Errorf("output %d value overflows", i)
		}
		s, err := Decode(r)
		if err != nil {
			return nil, err
		}
		outs = append(outs, TxOut{
			Value:  ledgertypes.Amount(value),
			Script: s,
		})
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after outputs")
	}

	return outs, nil
}

func writeCount(w io.Writer, n int) error {
	_, err := w.Write([]byte{byte(n >> 8), byte(n)})
	return err
}

package ledgertest

import (
	"sync/atomic"

	"github.com/chanledger/chanledger/ledgertypes"
)

// HeightOracle is a height source the test advances by hand.
type HeightOracle struct {
	height atomic.Uint32
}

// NewHeightOracle returns an oracle starting at height.
func NewHeightOracle(height ledgertypes.Height) *HeightOracle {
	h := &HeightOracle{}
	h.height.Store(uint32(height))

	return h
}

// CurrentHeight returns the current height.
func (h *HeightOracle) CurrentHeight() ledgertypes.Height {
	return ledgertypes.Height(h.height.Load())
}

// SetHeight moves the oracle to height. Heights never decrease so a lower
// value is ignored.
func (h *HeightOracle) SetHeight(height ledgertypes.Height) {
	for {
		cur := h.height.Load()
		if uint32(height) <= cur {
			return
		}
		if h.height.CompareAndSwap(cur, uint32(height)) {
			return
		}
	}
}

// Advance moves the oracle forward by n.
func (h *HeightOracle) Advance(n uint32) ledgertypes.Height {
	return ledgertypes.Height(h.height.Add(n))
}

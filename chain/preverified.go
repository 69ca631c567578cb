package chain

import "github.com/gurukamath/silkworm/common"

// PreVerified is a sparse map of block number to the hash the binary
// already knows to be correct at that height. It lets the header chain
// reject a wrong-network segment the instant it crosses a checkpoint,
// without waiting for it to connect to the persisted head (§4.4, "pre-
// verified hash list").
type PreVerified map[uint64]common.Hash

// Check reports whether (number, hash) is consistent with the checkpoint
// table: true if there is no checkpoint at number, or the checkpoint
// matches. A checkpoint mismatch is always a rejection, never a soft
// warning — §4.4 rule 4 and P6.
func (p PreVerified) Check(number uint64, hash common.Hash) bool {
	want, ok := p[number]
	if !ok {
		return true
	}
	return want == hash
}

// Highest returns the greatest checkpoint height recorded, or 0 if the
// table is empty.
func (p PreVerified) Highest() uint64 {
	var max uint64
	for n := range p {
		if n > max {
			max = n
		}
	}
	return max
}

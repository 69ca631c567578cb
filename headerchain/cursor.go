package headerchain

import "github.com/gurukamath/silkworm/chain"

// ConnectedPrefix returns the longest run of connected links starting at
// persisted_head+1, capped at max, without removing them — the Headers
// stage drops them from the chain by calling SetPersistedHead once its
// transaction commits (§4.4, "Output: a cursor returning the longest
// connected prefix [persisted_head+1 .. HWM] of ... links").
func (hc *HeaderChain) ConnectedPrefix(max int) []*chain.Header {
	var out []*chain.Header
	n := hc.persistedHeadNumber + 1
	for len(out) < max {
		hash, ok := hc.canon[n]
		if !ok {
			break
		}
		l, ok := hc.links[hash]
		if !ok {
			break
		}
		out = append(out, l.header)
		n++
	}
	return out
}

// HWM is the highest connected number currently available (persisted_head
// if nothing is connected yet).
func (hc *HeaderChain) HWM() uint64 {
	n := hc.persistedHeadNumber
	for {
		if _, ok := hc.canon[n+1]; !ok {
			return n
		}
		n++
	}
}

// HasPendingWork reports whether the chain holds unconnected anchors —
// used by the Headers stage to distinguish "caught up" from "nothing
// connected yet but requests are in flight" (§4.2).
func (hc *HeaderChain) HasPendingWork() bool {
	return len(hc.anchors) > 0
}

// AnchorCount exposes the current anchor-table size for tests and metrics.
func (hc *HeaderChain) AnchorCount() int { return len(hc.anchors) }

package headerchain

import (
	"sort"
	"time"

	"github.com/gurukamath/silkworm/protocol"
)

// GenerateRequests inspects the anchors and emits a GetBlockHeaders
// outbound message for each one older than the configured retry
// interval, oldest anchor first (§4.4, "Request generation").
func (hc *HeaderChain) GenerateRequests(now time.Time) []*protocol.GetBlockHeaders {
	type candidate struct {
		a   *anchor
		age time.Duration
	}
	var due []candidate
	for _, a := range hc.anchors {
		if now.Sub(a.lastAttempt) < hc.cfg.AnchorRetryInterval {
			continue
		}
		due = append(due, candidate{a, now.Sub(a.lastAttempt)})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].age > due[j].age })

	out := make([]*protocol.GetBlockHeaders, 0, len(due))
	for _, c := range due {
		c.a.lastAttempt = now
		c.a.retries++
		out = append(out, &protocol.GetBlockHeaders{
			MinBlock: c.a.bottom().Number,
			Request: protocol.HeadersRequest{
				Origin:  protocol.HashOrNumber{Hash: c.a.parentHash, ByHash: true},
				Amount:  uint64(hc.cfg.MaxBlocksPerMessage),
				Skip:    0,
				Reverse: true,
			},
		})
	}
	return out
}

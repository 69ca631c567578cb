package protocol

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/sentry"
	"github.com/gurukamath/silkworm/store"
)

// maxHeadersServed bounds how many headers a single GetBlockHeaders reply
// will carry, independent of what the requester asked for — the minimal
// reply path promised in §1's Non-goals is not obliged to honor abusive
// requests.
const maxHeadersServed = 1024

// Inbound is a decoded message arriving from the sentry. Handle performs
// whatever in-memory side effect the message implies and, for request
// messages, returns the reply to execute; response messages return a nil
// reply.
type Inbound interface {
	Name() string
	Handle(ctx context.Context, d Deps) (Outbound, error)
}

// Decode turns a raw sentry.InboundMessage into its typed Inbound
// representation. Message kinds the core does not act on (§6: Status,
// Transactions, PooledTransactionHashes, GetPooledTransactions,
// PooledTransactions) decode to nil with no error — callers discard them.
func Decode(msg sentry.InboundMessage) (Inbound, error) {
	switch msg.ID {
	case sentry.MessageGetBlockHeaders:
		var req HeadersRequest
		if err := rlp.DecodeBytes(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("protocol: decode GetBlockHeaders: %w", err)
		}
		return &inboundGetBlockHeaders{peer: msg.PeerID, req: req}, nil

	case sentry.MessageBlockHeaders:
		var resp HeadersResponse
		if err := rlp.DecodeBytes(msg.Data, &resp); err != nil {
			return nil, fmt.Errorf("protocol: decode BlockHeaders: %w", err)
		}
		return &inboundBlockHeaders{peer: msg.PeerID, resp: resp}, nil

	case sentry.MessageGetBlockBodies:
		var req BodiesRequest
		if err := rlp.DecodeBytes(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("protocol: decode GetBlockBodies: %w", err)
		}
		return &inboundGetBlockBodies{peer: msg.PeerID, req: req}, nil

	case sentry.MessageBlockBodies:
		var resp BodiesResponse
		if err := rlp.DecodeBytes(msg.Data, &resp); err != nil {
			return nil, fmt.Errorf("protocol: decode BlockBodies: %w", err)
		}
		return &inboundBlockBodies{peer: msg.PeerID, resp: resp}, nil

	case sentry.MessageNewBlockHashes:
		var pkt NewBlockHashesPacket
		if err := rlp.DecodeBytes(msg.Data, &pkt); err != nil {
			return nil, fmt.Errorf("protocol: decode NewBlockHashes: %w", err)
		}
		return &inboundNewBlockHashes{peer: msg.PeerID, pkt: pkt}, nil

	case sentry.MessageNewBlock:
		var pkt NewBlockPacket
		if err := rlp.DecodeBytes(msg.Data, &pkt); err != nil {
			return nil, fmt.Errorf("protocol: decode NewBlock: %w", err)
		}
		return &inboundNewBlock{peer: msg.PeerID, pkt: pkt}, nil

	default:
		return nil, nil
	}
}

type inboundGetBlockHeaders struct {
	peer common.PeerID
	req  HeadersRequest
}

func (m *inboundGetBlockHeaders) Name() string { return "GetBlockHeaders" }

// Handle serves headers already in the persistent store (the "minimal
// status/response reply path for inbound queries about already-persisted
// headers" of §1). Hash-origin lookups are not served: the store has no
// hash→number index, only the canonical number→hash mapping, so a
// hash-keyed request yields an empty reply rather than a table scan.
func (m *inboundGetBlockHeaders) Handle(ctx context.Context, d Deps) (Outbound, error) {
	if m.req.Origin.ByHash {
		return &BlockHeaders{Peer: m.peer, Response: HeadersResponse{RequestID: m.req.RequestID}}, nil
	}

	amount := m.req.Amount
	if amount > maxHeadersServed {
		amount = maxHeadersServed
	}
	headers := make([]*chain.Header, 0, amount)
	number := m.req.Origin.Number
	for uint64(len(headers)) < amount {
		hash, err := store.ReadCanonicalHash(d.Store, number)
		if err != nil {
			return nil, err
		}
		if hash.IsZero() {
			break
		}
		h, err := store.ReadHeader(d.Store, number, hash)
		if err != nil {
			return nil, err
		}
		if h == nil {
			break
		}
		headers = append(headers, h)

		step := m.req.Skip + 1
		if m.req.Reverse {
			if number < step {
				break
			}
			number -= step
		} else {
			number += step
		}
	}
	return &BlockHeaders{Peer: m.peer, Response: HeadersResponse{RequestID: m.req.RequestID, Headers: headers}}, nil
}

type inboundBlockHeaders struct {
	peer common.PeerID
	resp HeadersResponse
}

func (m *inboundBlockHeaders) Name() string { return "BlockHeaders" }

func (m *inboundBlockHeaders) Handle(ctx context.Context, d Deps) (Outbound, error) {
	if len(m.resp.Headers) == 0 {
		return nil, nil
	}
	return nil, d.Headers.AddHeaders(m.peer, m.resp.Headers)
}

type inboundGetBlockBodies struct {
	peer common.PeerID
	req  BodiesRequest
}

func (m *inboundGetBlockBodies) Name() string { return "GetBlockBodies" }

func (m *inboundGetBlockBodies) Handle(ctx context.Context, d Deps) (Outbound, error) {
	bodies := make([]*chain.Body, 0, len(m.req.Hashes))
	for _, hash := range m.req.Hashes {
		number, ok, err := findNumberForHash(d.Store, hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		b, err := store.ReadBody(d.Store, number, hash)
		if err != nil {
			return nil, err
		}
		if b != nil {
			bodies = append(bodies, b)
		}
	}
	return &BlockBodies{Peer: m.peer, Response: BodiesResponse{RequestID: m.req.RequestID, Bodies: bodies}}, nil
}

// findNumberForHash recovers the block number for a body lookup by hash
// via the canonical head, since the store keys bodies by (number, hash).
// This walks from the current head pointer, which is the only index the
// store layout (§6) provides for this direction.
func findNumberForHash(tx store.ReadTx, hash common.Hash) (uint64, bool, error) {
	head, ok, err := store.ReadHeadNumber(tx)
	if err != nil || !ok {
		return 0, false, err
	}
	for n := head; ; n-- {
		h, err := store.ReadCanonicalHash(tx, n)
		if err != nil {
			return 0, false, err
		}
		if h == hash {
			return n, true, nil
		}
		if n == 0 {
			return 0, false, nil
		}
	}
}

type inboundBlockBodies struct {
	peer common.PeerID
	resp BodiesResponse
}

func (m *inboundBlockBodies) Name() string { return "BlockBodies" }

// ItemCount exposes how many bodies this response carried, so the block
// exchange can feed msgrate.Trackers an actual delivery size instead of a
// constant (§4.7 step 4, "reports... bandwidth").
func (m *inboundBlockBodies) ItemCount() int { return len(m.resp.Bodies) }

func (m *inboundBlockBodies) Handle(ctx context.Context, d Deps) (Outbound, error) {
	if len(m.resp.Bodies) == 0 {
		return nil, nil
	}
	return nil, d.Bodies.AddBodies(m.peer, uint64(m.resp.RequestID), m.resp.Bodies, d.Store)
}

type inboundNewBlockHashes struct {
	peer common.PeerID
	pkt  NewBlockHashesPacket
}

func (m *inboundNewBlockHashes) Name() string { return "NewBlockHashes" }

func (m *inboundNewBlockHashes) Handle(ctx context.Context, d Deps) (Outbound, error) {
	for _, entry := range m.pkt {
		d.Headers.AnnounceHead(m.peer, entry.Hash, entry.Number)
	}
	return nil, nil
}

type inboundNewBlock struct {
	peer common.PeerID
	pkt  NewBlockPacket
}

func (m *inboundNewBlock) Name() string { return "NewBlock" }

// Handle feeds the announced header into the header chain like any other
// BlockHeaders arrival. The gossiped body rides along but is not
// persisted from here: body persistence always goes through the Bodies
// stage's read-write transaction, never the read-only view Execute holds,
// so the body is dropped and re-fetched normally by the body sequence
// once its header is persisted.
func (m *inboundNewBlock) Handle(ctx context.Context, d Deps) (Outbound, error) {
	d.Headers.AnnounceHead(m.peer, m.pkt.Header.Hash(), m.pkt.Header.Number)
	if err := d.Headers.AddHeaders(m.peer, []*chain.Header{m.pkt.Header}); err != nil {
		return nil, err
	}
	return nil, nil
}

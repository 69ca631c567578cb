// Package protocol implements the polymorphic outbound/inbound message
// objects of §4.6: typed payloads carrying a fixed fan-out and timeout
// policy that is a property of the message class, not of the call site.
package protocol

import (
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
)

// RequestID is the 64-bit id every request carries and the matching
// response must echo (§6).
type RequestID uint64

// RequestIDOf converts the body sequence's internal batch counter into the
// wire RequestID carried on a GetBlockBodies request (§3, "request
// fingerprint").
func RequestIDOf(id uint64) RequestID { return RequestID(id) }

// HeadersRequest is the payload of an outbound GetBlockHeaders (§4.4,
// "emit a GetBlockHeaders{origin = anchor.parent_hash, amount, skip = 0,
// reverse = true}").
type HeadersRequest struct {
	RequestID RequestID
	Origin    HashOrNumber
	Amount    uint64
	Skip      uint64
	Reverse   bool
}

// HashOrNumber selects a header origin by hash or by number; exactly one
// of the two is meaningful, following the wire protocol's own encoding.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
	ByHash bool
}

// HeadersResponse is the payload of a BlockHeaders message, sent either as
// a reply to HeadersRequest or, unsolicited, never (the engine never
// broadcasts headers it did not receive).
type HeadersResponse struct {
	RequestID RequestID
	Headers   []*chain.Header
}

// BodiesRequest is the payload of an outbound GetBlockBodies.
type BodiesRequest struct {
	RequestID RequestID
	Hashes    []common.Hash
}

// BodiesResponse is the payload of a BlockBodies message.
type BodiesResponse struct {
	RequestID RequestID
	Bodies    []*chain.Body
}

// NewBlockHash is one entry of a NewBlockHashes announcement.
type NewBlockHash struct {
	Hash   common.Hash
	Number uint64
}

// NewBlockHashesPacket announces new block hashes without the full blocks.
type NewBlockHashesPacket []NewBlockHash

// NewBlockPacket gossips a full block together with the sender's total
// difficulty at that block.
type NewBlockPacket struct {
	Header          *chain.Header
	Body            *chain.Body
	TotalDifficulty *chain.TotalDifficulty
}

// Package sentry is the client side of the sentry RPC surface (§6): the
// bidirectional link between the sync engine and the daemon that actually
// owns peer connections and wire framing. Everything here is a client —
// the engine never accepts inbound peer connections itself.
package sentry

import (
	"context"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
)

// MessageID names a wire-protocol message kind, independent of its eth/66
// packet encoding (§6: "Status, GetBlockHeaders, BlockHeaders, ...").
type MessageID int

const (
	MessageStatus MessageID = iota
	MessageGetBlockHeaders
	MessageBlockHeaders
	MessageGetBlockBodies
	MessageBlockBodies
	MessageNewBlockHashes
	MessageNewBlock
	MessageTransactions
	MessagePooledTransactionHashes
	MessageGetPooledTransactions
	MessagePooledTransactions
)

// PenaltyReason names why a peer is being penalised (§3, PeerPenalisation).
type PenaltyReason int

const (
	PenaltyBadBlock PenaltyReason = iota
	PenaltyDuplicateHeader
	PenaltyTooFarBehind
	PenaltyTooFarForward
	PenaltyInvalidSeal
	PenaltyInvalidBodyRoot
	// PenaltyTimeout marks a peer that repeatedly let a body/header
	// request expire without answering (§4.5's retry threshold). Not
	// part of the protocol's wire vocabulary, just this engine's own
	// bookkeeping reason.
	PenaltyTimeout
)

// StatusData is what SetStatus advertises to the sentry so it can filter
// peers by fork-id and total difficulty during their handshake (§6).
type StatusData struct {
	NetworkID       uint64
	TotalDifficulty *chain.TotalDifficulty
	BestHash        common.Hash
	GenesisHash     common.Hash
	ForkID          chain.ID
	MaxBlock        uint64
}

// SentPeers lists the peers an outbound send actually reached.
type SentPeers struct {
	Peers []common.PeerID
}

// InboundMessage is a message delivered by the sentry's Messages stream,
// not yet decoded past its envelope (§6, "InboundMessage = {id, peer_id,
// data}").
type InboundMessage struct {
	ID     MessageID
	PeerID common.PeerID
	Data   []byte
}

// MessageFilter selects which inbound message kinds the Messages stream
// should deliver; an empty filter means "all of them".
type MessageFilter struct {
	IDs []MessageID
}

// Backend is the sentry RPC surface the engine consumes, matching §6
// exactly: status/handshake, per-peer penalisation and targeting, fan-out
// sends, the inbound message stream and peer-count polling.
type Backend interface {
	SetStatus(ctx context.Context, status StatusData) error
	HandShake(ctx context.Context) (protocolVersion uint32, err error)

	PenalizePeer(ctx context.Context, peer common.PeerID, reason PenaltyReason) error
	PeerMinBlock(ctx context.Context, peer common.PeerID, minBlock uint64) error

	SendMessageByMinBlock(ctx context.Context, minBlock uint64, id MessageID, data []byte) (SentPeers, error)
	SendMessageByID(ctx context.Context, peer common.PeerID, id MessageID, data []byte) (SentPeers, error)
	SendMessageToRandomPeers(ctx context.Context, maxPeers int, id MessageID, data []byte) (SentPeers, error)
	SendMessageToAll(ctx context.Context, id MessageID, data []byte) (SentPeers, error)

	// Messages streams inbound messages matching filter until ctx is
	// cancelled or the connection drops. It is called once, from the
	// execution loop (§4.7 step 4).
	Messages(ctx context.Context, filter MessageFilter) (<-chan InboundMessage, error)

	PeerCount(ctx context.Context) (int, error)
}

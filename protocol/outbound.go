package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/sentry"
)

// requestTimeout is the per-call timeout for GetBlockHeaders/GetBlockBodies
// (§4.6: "5-second per-call timeout").
const requestTimeout = 5 * time.Second

// Outbound is a polymorphic outbound message: it knows its own name,
// logging content, and execution policy. Each message type fixes its own
// timeout and fan-out inside Execute; callers dispatch through this
// interface, with no central type switch.
type Outbound interface {
	Name() string
	Content() string
	Execute(ctx context.Context, d Deps) error
}

// GetBlockHeaders requests a header run from a single chosen peer. On no
// peer available it returns without sending; headerchain's request
// generation emits the request again once the anchor's retry interval has
// elapsed (§4.4, §4.6).
type GetBlockHeaders struct {
	MinBlock uint64 // hint used by the sentry to pick a qualifying peer
	Request  HeadersRequest
}

func (m *GetBlockHeaders) Name() string { return "GetBlockHeaders" }
func (m *GetBlockHeaders) Content() string {
	return fmt.Sprintf("origin=%+v amount=%d skip=%d reverse=%v", m.Request.Origin, m.Request.Amount, m.Request.Skip, m.Request.Reverse)
}

func (m *GetBlockHeaders) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Request)
	if err != nil {
		return fmt.Errorf("protocol: encode GetBlockHeaders: %w", err)
	}
	sent, err := d.Sentry.SendMessageByMinBlock(ctx, m.MinBlock, sentry.MessageGetBlockHeaders, data)
	if err != nil {
		return err
	}
	if len(sent.Peers) == 0 {
		d.Log.Debug("GetBlockHeaders: no peer available")
	}
	return nil
}

// GetBlockBodies requests a body batch from a single chosen peer, same
// fan-out policy as GetBlockHeaders (§4.6). Peer, when set, targets the
// specific peer the body sequence's scheduler picked to respect the
// per-peer outstanding cap (I4); when empty, the sentry chooses.
type GetBlockBodies struct {
	Peer    common.PeerID
	Request BodiesRequest
}

func (m *GetBlockBodies) Name() string { return "GetBlockBodies" }
func (m *GetBlockBodies) Content() string {
	return fmt.Sprintf("peer=%s hashes=%d", m.Peer, len(m.Request.Hashes))
}

func (m *GetBlockBodies) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Request)
	if err != nil {
		return fmt.Errorf("protocol: encode GetBlockBodies: %w", err)
	}
	var sent sentry.SentPeers
	if m.Peer != "" {
		sent, err = d.Sentry.SendMessageByID(ctx, m.Peer, sentry.MessageGetBlockBodies, data)
	} else {
		sent, err = d.Sentry.SendMessageByMinBlock(ctx, 0, sentry.MessageGetBlockBodies, data)
	}
	if err != nil {
		return err
	}
	if len(sent.Peers) == 0 {
		d.Log.Debug("GetBlockBodies: no peer available")
	}
	return nil
}

// BlockHeaders is the reply to an inbound GetBlockHeaders, unicast to the
// originating peer (§4.6).
type BlockHeaders struct {
	Peer     common.PeerID
	Response HeadersResponse
}

func (m *BlockHeaders) Name() string { return "BlockHeaders" }
func (m *BlockHeaders) Content() string {
	return fmt.Sprintf("peer=%s headers=%d", m.Peer, len(m.Response.Headers))
}

func (m *BlockHeaders) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Response)
	if err != nil {
		return fmt.Errorf("protocol: encode BlockHeaders: %w", err)
	}
	_, err = d.Sentry.SendMessageByID(ctx, m.Peer, sentry.MessageBlockHeaders, data)
	return err
}

// BlockBodies is the reply to an inbound GetBlockBodies, unicast (§4.6).
type BlockBodies struct {
	Peer     common.PeerID
	Response BodiesResponse
}

func (m *BlockBodies) Name() string { return "BlockBodies" }
func (m *BlockBodies) Content() string {
	return fmt.Sprintf("peer=%s bodies=%d", m.Peer, len(m.Response.Bodies))
}

func (m *BlockBodies) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Response)
	if err != nil {
		return fmt.Errorf("protocol: encode BlockBodies: %w", err)
	}
	_, err = d.Sentry.SendMessageByID(ctx, m.Peer, sentry.MessageBlockBodies, data)
	return err
}

// NewBlockHashes broadcasts a set of newly seen block hashes (§4.6).
type NewBlockHashes struct {
	Packet NewBlockHashesPacket
}

func (m *NewBlockHashes) Name() string       { return "NewBlockHashes" }
func (m *NewBlockHashes) Content() string    { return fmt.Sprintf("hashes=%d", len(m.Packet)) }
func (m *NewBlockHashes) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Packet)
	if err != nil {
		return fmt.Errorf("protocol: encode NewBlockHashes: %w", err)
	}
	_, err = d.Sentry.SendMessageToAll(ctx, sentry.MessageNewBlockHashes, data)
	return err
}

// NewBlock broadcasts a full block (§4.6). This engine never originates
// one — it relays what it received when re-propagation is wired by a
// future caller — so this type exists for policy-completeness but is not
// otherwise constructed by the engine today.
type NewBlock struct {
	Packet NewBlockPacket
}

func (m *NewBlock) Name() string    { return "NewBlock" }
func (m *NewBlock) Content() string { return fmt.Sprintf("number=%d", m.Packet.Header.Number) }
func (m *NewBlock) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	data, err := rlp.EncodeToBytes(m.Packet)
	if err != nil {
		return fmt.Errorf("protocol: encode NewBlock: %w", err)
	}
	_, err = d.Sentry.SendMessageToAll(ctx, sentry.MessageNewBlock, data)
	return err
}

// PeerPenalization is unicast, best effort: a failure is logged by the
// sentry client itself, never retried here (§4.6).
type PeerPenalization struct {
	Peer   common.PeerID
	Reason sentry.PenaltyReason
}

func (m *PeerPenalization) Name() string    { return "PeerPenalization" }
func (m *PeerPenalization) Content() string { return fmt.Sprintf("peer=%s reason=%v", m.Peer, m.Reason) }
func (m *PeerPenalization) Execute(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return d.Sentry.PenalizePeer(ctx, m.Peer, m.Reason)
}

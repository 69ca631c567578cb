// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package sentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "sentry.Sentry"

	defaultCallTimeout  = 5 * time.Second
	defaultStatsInterval = 15 * time.Second
)

// Client is the sentry RPC surface's concrete implementation: a gRPC
// connection to the sentry daemon, plus the two long-running loops the
// engine spawns over it (§4.7 step 4).
type Client struct {
	conn *grpc.ClientConn
	log  log.Logger

	statsInterval time.Duration
	callTimeout   time.Duration

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Configure overrides the call timeout and stats-loop interval from the
// engine's loaded configuration; Dial seeds both with their package
// defaults so a caller that skips this still gets sane behaviour.
func (c *Client) Configure(callTimeout, statsInterval time.Duration) {
	if callTimeout > 0 {
		c.callTimeout = callTimeout
	}
	if statsInterval > 0 {
		c.statsInterval = statsInterval
	}
}

// Dial connects to the sentry daemon at addr. The connection is not usable
// for syncing until SetStatus and HandShake both succeed.
func Dial(ctx context.Context, addr string, logger log.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("sentry: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, log: logger, statsInterval: defaultStatsInterval, callTimeout: defaultCallTimeout}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type setStatusReply struct{ OK bool }
type handShakeReply struct{ ProtocolVersion uint32 }

// SetStatus advertises this node's chain identity to the sentry so inbound
// peers can be filtered by fork-id before the engine ever sees them.
func (c *Client) SetStatus(ctx context.Context, st StatusData) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply setStatusReply
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/SetStatus", st, &reply); err != nil {
		return fmt.Errorf("sentry: SetStatus: %w", err)
	}
	if !reply.OK {
		return errors.New("sentry: SetStatus rejected")
	}
	return nil
}

// HandShake confirms the sentry is ready and agrees on network, genesis and
// fork before the engine starts trusting any peer it reports.
func (c *Client) HandShake(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply handShakeReply
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/HandShake", struct{}{}, &reply); err != nil {
		return 0, fmt.Errorf("sentry: HandShake: %w", err)
	}
	return reply.ProtocolVersion, nil
}

type penalizeRequest struct {
	PeerID common.PeerID
	Reason PenaltyReason
}

// PenalizePeer is unicast, best effort: a failure is logged, not retried
// (§4.6).
func (c *Client) PenalizePeer(ctx context.Context, peer common.PeerID, reason PenaltyReason) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	err := c.conn.Invoke(ctx, "/"+serviceName+"/PenalizePeer", penalizeRequest{peer, reason}, &struct{}{})
	if err != nil {
		c.log.Warn("penalize peer call failed", "peer", peer, "reason", reason, "err", err)
	}
	return nil
}

type peerMinBlockRequest struct {
	PeerID   common.PeerID
	MinBlock uint64
}

func (c *Client) PeerMinBlock(ctx context.Context, peer common.PeerID, minBlock uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, "/"+serviceName+"/PeerMinBlock", peerMinBlockRequest{peer, minBlock}, &struct{}{})
}

type sendByMinBlockRequest struct {
	MinBlock uint64
	ID       MessageID
	Data     []byte
}

func (c *Client) SendMessageByMinBlock(ctx context.Context, minBlock uint64, id MessageID, data []byte) (SentPeers, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply SentPeers
	err := c.conn.Invoke(ctx, "/"+serviceName+"/SendMessageByMinBlock", sendByMinBlockRequest{minBlock, id, data}, &reply)
	return reply, err
}

type sendByIDRequest struct {
	PeerID common.PeerID
	ID     MessageID
	Data   []byte
}

func (c *Client) SendMessageByID(ctx context.Context, peer common.PeerID, id MessageID, data []byte) (SentPeers, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply SentPeers
	err := c.conn.Invoke(ctx, "/"+serviceName+"/SendMessageById", sendByIDRequest{peer, id, data}, &reply)
	return reply, err
}

type sendToRandomRequest struct {
	MaxPeers int
	ID       MessageID
	Data     []byte
}

func (c *Client) SendMessageToRandomPeers(ctx context.Context, maxPeers int, id MessageID, data []byte) (SentPeers, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply SentPeers
	err := c.conn.Invoke(ctx, "/"+serviceName+"/SendMessageToRandomPeers", sendToRandomRequest{maxPeers, id, data}, &reply)
	return reply, err
}

type sendToAllRequest struct {
	ID   MessageID
	Data []byte
}

func (c *Client) SendMessageToAll(ctx context.Context, id MessageID, data []byte) (SentPeers, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply SentPeers
	err := c.conn.Invoke(ctx, "/"+serviceName+"/SendMessageToAll", sendToAllRequest{id, data}, &reply)
	return reply, err
}

func (c *Client) PeerCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply struct{ Count int }
	err := c.conn.Invoke(ctx, "/"+serviceName+"/PeerCount", struct{}{}, &reply)
	return reply.Count, err
}

var messagesStreamDesc = &grpc.StreamDesc{
	StreamName:    "Messages",
	ServerStreams: true,
}

// Messages opens the sentry's inbound message stream and fans it into a
// channel, translating a cancelled transport error into a clean channel
// close rather than propagating it (§4.7, "gracefully translate a
// cancelled transport error into normal termination").
func (c *Client) Messages(ctx context.Context, filter MessageFilter) (<-chan InboundMessage, error) {
	stream, err := c.conn.NewStream(ctx, messagesStreamDesc, "/"+serviceName+"/Messages")
	if err != nil {
		return nil, fmt.Errorf("sentry: open Messages stream: %w", err)
	}
	if err := stream.SendMsg(filter); err != nil {
		return nil, fmt.Errorf("sentry: send filter: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("sentry: close filter send: %w", err)
	}

	out := make(chan InboundMessage, 256)
	go func() {
		defer close(out)
		for {
			var msg InboundMessage
			if err := stream.RecvMsg(&msg); err != nil {
				if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
					return
				}
				c.log.Crit("sentry messages stream ended", "err", err)
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

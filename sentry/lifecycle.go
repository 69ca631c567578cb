package sentry

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// stopGrace bounds how long Stop waits for execution_loop and
// stats_receiving_loop to exit before returning anyway (§4.7 step 5).
const stopGrace = 5 * time.Second

// Start performs the connection handshake (SetStatus, HandShake) and spawns
// the two long-running loops described in §4.7 step 4: execution_loop
// drains inbound messages into inbound, stats_receiving_loop polls peer
// counts into statsFn at statsInterval. Start returns once the handshake
// completes; the loops keep running until Stop is called or ctx is done.
func (c *Client) Start(ctx context.Context, status StatusData, inbound chan<- InboundMessage, statsFn func(peerCount int)) error {
	if err := c.SetStatus(ctx, status); err != nil {
		return err
	}
	if _, err := c.HandShake(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	group, gctx := errgroup.WithContext(loopCtx)
	c.group = group

	group.Go(func() error { return c.executionLoop(gctx, inbound) })
	group.Go(func() error { return c.statsReceivingLoop(gctx, statsFn) })

	return nil
}

// executionLoop drains the sentry's inbound message stream and forwards
// every message to inbound, which feeds the block exchange (§4.7 step 4,
// §5).
func (c *Client) executionLoop(ctx context.Context, inbound chan<- InboundMessage) error {
	msgs, err := c.Messages(ctx, MessageFilter{})
	if err != nil {
		return translateCancel(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// statsReceivingLoop periodically reports the sentry's current peer count
// (§4.7 step 4, "reports peer counts, bandwidth"; bandwidth accounting
// lives in msgrate and is not duplicated here).
func (c *Client) statsReceivingLoop(ctx context.Context, statsFn func(peerCount int)) error {
	ticker := time.NewTicker(c.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.PeerCount(ctx)
			if err != nil {
				if translateCancel(err) == nil {
					return nil
				}
				c.log.Warn("peer count query failed", "err", err)
				continue
			}
			if statsFn != nil {
				statsFn(n)
			}
		}
	}
}

// Stop signals cancellation to both loops and waits up to stopGrace for
// them to exit (§4.7 step 5).
func (c *Client) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan error, 1)
	go func() { done <- c.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(stopGrace):
		c.log.Warn("sentry loops did not exit within grace period")
		return nil
	}
}

// translateCancel turns a cancelled transport error into nil, matching
// §4.7's "gracefully translate a cancelled transport error into normal
// termination; other transport errors are fatal and propagate."
func translateCancel(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

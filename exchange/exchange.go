// Package exchange implements the block exchange of §4.1/§5/§L5: the
// orchestrator running two concurrent loops — outbound scheduling and
// inbound processing — that feed the header chain and body sequence.
package exchange

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/msgrate"
	"github.com/gurukamath/silkworm/bodies"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/headerchain"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/protocol"
	"github.com/gurukamath/silkworm/sentry"
	"github.com/gurukamath/silkworm/store"
)

// schedulingInterval paces the fast path of the scheduling loop: how often
// it re-inspects the header chain's anchors and the body sequence's ready
// set when the previous pass found work to dispatch (§4.4, §4.5).
const schedulingInterval = 200 * time.Millisecond

// peerIdleTimeout evicts a peer from the roster once nothing has been
// heard from it for this long.
const peerIdleTimeout = 2 * time.Minute

// inboundBuffer bounds how many inbound messages may queue between the
// sentry client's execution loop and this package's processing loop before
// the execution loop blocks (§5, "bounded wait").
const inboundBuffer = 1024

// Exchange is the block exchange of §L5: it owns the header chain and body
// sequence for the duration of a sync session and runs the scheduling and
// processing loops described in §5 over them.
type Exchange struct {
	cfg  config.Config
	log  log.Logger
	back sentry.Backend
	db   *store.DB

	headers *headerchain.HeaderChain
	bodies  *bodies.Sequence

	trackers *msgrate.Trackers
	peers    *peerSet

	inbound chan sentry.InboundMessage
	limiter *rate.Limiter

	cancel context.CancelFunc
}

// New builds an Exchange over an already-constructed header chain and body
// sequence; both are owned by the exchange for the duration of Run (§3,
// "both are destroyed when the stage commits").
func New(cfg config.Config, logger log.Logger, backend sentry.Backend, db *store.DB, hc *headerchain.HeaderChain, seq *bodies.Sequence) *Exchange {
	// msgrate is vendored upstream rather than adapted in-tree (see
	// DESIGN.md), so its tracker set logs through go-ethereum's own
	// logger rather than this engine's zerolog-backed one.
	trackers := msgrate.NewTrackers(gethlog.New("module", "msgrate"))
	return &Exchange{
		cfg:      cfg,
		log:      logger,
		back:     backend,
		db:       db,
		headers:  hc,
		bodies:   seq,
		trackers: trackers,
		peers:    newPeerSet(cfg.MaxRequestsPerPeer, peerIdleTimeout, trackers),
		inbound:  make(chan sentry.InboundMessage, inboundBuffer),
		limiter:  rate.NewLimiter(rate.Every(schedulingInterval), 4),
	}
}

// Inbound is the channel the sentry client's execution loop feeds (§4.7
// step 4): every inbound message it receives is forwarded here.
func (e *Exchange) Inbound() chan<- sentry.InboundMessage { return e.inbound }

// PeerCount reports the exchange's own peer roster size — distinct from
// the sentry's PeerCount() RPC, which counts connections the sentry holds
// whether or not this engine has heard from them yet.
func (e *Exchange) PeerCount() int { return e.peers.Count() }

// Run starts the scheduling and processing loops and blocks until ctx is
// cancelled or either loop returns a fatal error (§5: "three long-lived
// tasks run concurrently", two of which live here).
func (e *Exchange) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.schedulingLoop(gctx) })
	group.Go(func() error { return e.processingLoop(gctx) })
	return group.Wait()
}

// Stop signals both loops to exit; a subsequent Run call is not supported,
// matching the block exchange's one-session-per-construction lifecycle.
func (e *Exchange) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// schedulingLoop is the outbound half of §5's single logical task: it
// drives header-chain anchor retries and body-sequence batch dispatch,
// backing off to NoPeerDelay when a pass dispatches nothing (§4.5, §8 S5).
func (e *Exchange) schedulingLoop(ctx context.Context) error {
	delay := schedulingInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil
		}

		e.peers.Evict()
		e.dispatchHeaderRequests(ctx)
		dispatchedBodies := e.dispatchBodyRequests(ctx)

		if dispatchedBodies {
			delay = schedulingInterval
		} else {
			delay = e.cfg.NoPeerDelay
		}
	}
}

func (e *Exchange) dispatchHeaderRequests(ctx context.Context) {
	for _, req := range e.headers.GenerateRequests(time.Now()) {
		if err := e.send(ctx, req); err != nil {
			e.log.Warn("GetBlockHeaders dispatch failed", "err", err)
		}
	}
	for _, pen := range e.headers.TakePenalties() {
		e.applyPenalty(ctx, pen)
	}
}

// dispatchBodyRequests runs one body-sequence scheduling tick and reports
// whether it put anything on the wire, so the caller can decide between
// the fast retry interval and NoPeerDelay.
func (e *Exchange) dispatchBodyRequests(ctx context.Context) bool {
	msgs := e.bodies.Tick(time.Now(), e.peers)
	for _, req := range msgs {
		if err := e.send(ctx, req); err != nil {
			e.log.Warn("GetBlockBodies dispatch failed", "peer", req.Peer, "err", err)
			e.peers.Release(req.Peer)
		}
	}
	for _, pen := range e.bodies.TakePenalties() {
		e.applyPenalty(ctx, pen)
	}
	return len(msgs) > 0
}

// processingLoop is the inbound half of §5's single logical task: it
// drains the inbound channel the sentry client feeds and dispatches each
// message into the header chain / body sequence via protocol.Handle.
func (e *Exchange) processingLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-e.inbound:
			if !ok {
				return nil
			}
			e.peers.Touch(msg.PeerID)
			e.handle(ctx, msg)
		}
	}
}

func (e *Exchange) handle(ctx context.Context, msg sentry.InboundMessage) {
	in, err := protocol.Decode(msg)
	if err != nil {
		e.log.Debug("discarding malformed inbound message", "peer", msg.PeerID, "err", err)
		return
	}
	if in == nil {
		return // a message kind the core does not act on (§6)
	}

	before := time.Now()
	var out protocol.Outbound
	err = e.db.View(func(tx store.ReadTx) error {
		deps := protocol.Deps{Store: tx, Headers: e.headers, Bodies: e.bodies, Sentry: e.back, Log: e.log}
		o, herr := in.Handle(ctx, deps)
		out = o
		return herr
	})
	if err != nil {
		e.log.Warn("inbound message handling failed", "peer", msg.PeerID, "kind", in.Name(), "err", err)
		return
	}
	if sized, ok := in.(interface{ ItemCount() int }); ok {
		e.peers.Update(msg.PeerID, time.Since(before), sized.ItemCount())
	}

	for _, pen := range e.headers.TakePenalties() {
		e.applyPenalty(ctx, pen)
	}
	for _, pen := range e.bodies.TakePenalties() {
		e.applyPenalty(ctx, pen)
	}

	if out != nil {
		if err := e.send(ctx, out); err != nil {
			e.log.Warn("reply dispatch failed", "peer", msg.PeerID, "kind", out.Name(), "err", err)
		}
	}
}

func (e *Exchange) send(ctx context.Context, msg protocol.Outbound) error {
	return msg.Execute(ctx, protocol.Deps{Sentry: e.back, Log: e.log})
}

func (e *Exchange) applyPenalty(ctx context.Context, pen *protocol.PeerPenalization) {
	if err := e.send(ctx, pen); err != nil {
		e.log.Warn("penalize failed", "peer", pen.Peer, "err", err)
	}
}

package protocol

import (
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/sentry"
	"github.com/gurukamath/silkworm/store"
)

// HeaderSink is the subset of the header chain (§4.4) that message
// execution needs. Kept as an interface here, implemented by
// headerchain.HeaderChain, so this package never imports headerchain and
// headerchain is free to construct and emit protocol messages itself.
type HeaderSink interface {
	// AddHeaders ingests a header batch received from peer into the
	// segment graph (§4.4 steps 1-4).
	AddHeaders(peer common.PeerID, headers []*chain.Header) error
	// AnnounceHead records a peer's announced head, as carried by
	// NewBlockHashes / NewBlock. It creates no anchor by itself.
	AnnounceHead(peer common.PeerID, hash common.Hash, number uint64)
}

// BodySink is the subset of the body sequence (§4.5) that message
// execution needs, implemented by bodies.Sequence.
type BodySink interface {
	// AddBodies matches arrived bodies against the outstanding request
	// they echo requestID for (§3, request fingerprint) and marks each
	// match Arrived; non-matching bodies are discarded. tx is used to
	// look up the persisted header each body is checked against (§4.3).
	AddBodies(peer common.PeerID, requestID uint64, bodies []*chain.Body, tx store.ReadTx) error
}

// Deps bundles everything Execute/Handle needs: the read-only store view
// (§4.6, "execute(read-only-store, header-chain, body-sequence,
// sentry)"), the two in-memory sinks, the sentry backend, and a logger.
type Deps struct {
	Store   store.ReadTx
	Headers HeaderSink
	Bodies  BodySink
	Sentry  sentry.Backend
	Log     log.Logger
}

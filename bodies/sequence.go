// Package bodies implements the body sequence of §4.5: the pending
// (number, hash) set awaiting bodies, batched into size-capped requests
// with per-peer outstanding caps and request deadlines.
package bodies

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/protocol"
	"github.com/gurukamath/silkworm/sentry"
	"github.com/gurukamath/silkworm/store"
)

// status is a pending entry's place in the state machine of §4.5.
type status int

const (
	statusReady status = iota
	statusRequested
	statusArrived
)

type entry struct {
	number   uint64
	hash     common.Hash
	status   status
	peer     common.PeerID
	sentAt   time.Time
	deadline time.Time
	retries  int
}

// PeerPicker abstracts peer selection and the per-peer outstanding count
// so the sequence can enforce I4/P5 without owning the peer roster
// itself; the block exchange supplies the concrete implementation backed
// by msgrate.
type PeerPicker interface {
	// Pick returns a peer currently under max_requests_per_peer, or
	// false if none qualifies.
	Pick() (common.PeerID, bool)
	Reserve(peer common.PeerID)
	Release(peer common.PeerID)
	// Capacity returns how many items peer is estimated to deliver within
	// the scheduler's target round trip, falling back to fallback when no
	// measurement exists yet (original_source/'s peer bandwidth-weighted
	// body-batch sizing, supplemented into this engine per SPEC_FULL.md).
	Capacity(peer common.PeerID, fallback int) int
}

// Sequence is the body sequence. It implements protocol.BodySink.
type Sequence struct {
	cfg config.Config
	log log.Logger

	mu        sync.Mutex
	pending   map[common.Hash]*entry
	batches   map[uint64][]common.Hash // requestID -> hashes sent, in request order
	nextReqID uint64
	arrived   map[common.Hash]*chain.Body

	// recent absorbs duplicate/late arrivals cheaply, avoiding a second
	// trip through validation for a body that already landed (§8 S4).
	recent *fastcache.Cache

	pendingPenalties []*protocol.PeerPenalization
}

// New builds an empty body sequence.
func New(cfg config.Config, logger log.Logger) *Sequence {
	return &Sequence{
		cfg:     cfg,
		log:     logger,
		pending: make(map[common.Hash]*entry),
		batches: make(map[uint64][]common.Hash),
		arrived: make(map[common.Hash]*chain.Body),
		recent:  fastcache.New(8 << 20),
	}
}

// Pending is one (number, hash) the Headers stage publishes as needing a
// body (§4.3, "header persisted ∧ body missing").
type Pending struct {
	Number uint64
	Hash   common.Hash
}

// Enqueue adds newly-persisted, body-missing headers to the Ready set.
// Entries already pending or already arrived are left untouched.
func (s *Sequence) Enqueue(items []Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, ok := s.pending[it.Hash]; ok {
			continue
		}
		if _, ok := s.arrived[it.Hash]; ok {
			continue
		}
		s.pending[it.Hash] = &entry{number: it.Number, hash: it.Hash, status: statusReady}
	}
}

// TakePenalties drains the penalisations accumulated since the last call.
func (s *Sequence) TakePenalties() []*protocol.PeerPenalization {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingPenalties
	s.pendingPenalties = nil
	return out
}

// Len reports how many (number, hash) pairs the sequence still holds:
// Ready, Requested, or Arrived but not yet drained. The Bodies stage uses
// it to decide Done.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Tick promotes expired Requested entries back to Ready, penalising
// peers past the retry threshold, then forms at most one new batch
// targeted at a peer the picker reports as having spare capacity (§4.5).
func (s *Sequence) Tick(now time.Time, picker PeerPicker) []*protocol.GetBlockBodies {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.pending {
		if e.status != statusRequested || now.Before(e.deadline) {
			continue
		}
		picker.Release(e.peer)
		delete(s.batches, e.reqID)
		e.retries++
		if e.retries >= s.cfg.RetryThreshold {
			s.pendingPenalties = append(s.pendingPenalties, &protocol.PeerPenalization{Peer: e.peer, Reason: sentry.PenaltyTimeout})
		}
		e.status = statusReady
		e.peer = ""
	}

	var ready []*entry
	for _, e := range s.pending {
		if e.status == statusReady {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].number < ready[j].number })

	peer, ok := picker.Pick()
	if !ok {
		return nil // caller sleeps no_peer_delay (§4.5, §8 S5)
	}
	picker.Reserve(peer)

	// Cap the batch by the peer's own measured throughput rather than
	// always requesting the configured maximum, falling back to it when no
	// measurement exists yet for this peer.
	batchCap := picker.Capacity(peer, s.cfg.MaxBlocksPerMessage)
	if batchCap > s.cfg.MaxBlocksPerMessage {
		batchCap = s.cfg.MaxBlocksPerMessage
	}
	if len(ready) > batchCap {
		ready = ready[:batchCap]
	}

	reqID := s.nextReqID
	s.nextReqID++

	hashes := make([]common.Hash, len(ready))
	for i, e := range ready {
		e.status = statusRequested
		e.peer = peer
		e.sentAt = now
		e.deadline = now.Add(s.cfg.RequestDeadline)
		e.reqID = reqID
		hashes[i] = e.hash
	}
	s.batches[reqID] = hashes

	return []*protocol.GetBlockBodies{{
		Peer:    peer,
		Request: protocol.BodiesRequest{RequestID: protocol.RequestIDOf(reqID), Hashes: hashes},
	}}
}

// AddBodies implements protocol.BodySink. It matches the response's
// request id against the batch sent under that id, verifies each body
// against its persisted header, and on success marks the entry Arrived.
func (s *Sequence) AddBodies(peer common.PeerID, requestID uint64, responseBodies []*chain.Body, tx store.ReadTx) error {
	s.mu.Lock()
	hashes, ok := s.batches[requestID]
	if ok {
		delete(s.batches, requestID)
	}
	s.mu.Unlock()

	if !ok {
		// Stale response: request id doesn't match any outstanding
		// batch (already timed out and re-issued, or a mismatched
		// peer echo). Discarded without penalisation (§8 S4).
		s.log.Debug("discarding body response with unknown request id", "peer", peer, "reqID", requestID)
		return nil
	}

	for i, body := range responseBodies {
		if i >= len(hashes) {
			break
		}
		hash := hashes[i]
		if err := s.acceptBody(peer, hash, body, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence) acceptBody(peer common.PeerID, hash common.Hash, body *chain.Body, tx store.ReadTx) error {
	s.mu.Lock()
	e, ok := s.pending[hash]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if enc, err := rlp.EncodeToBytes(body); err == nil {
		if cached := s.recent.Get(nil, hash[:]); cached != nil {
			return nil // already landed via an earlier response
		}
		s.recent.Set(hash[:], enc)
	}

	header, err := store.ReadHeader(tx, e.number, hash)
	if err != nil {
		return fmt.Errorf("bodies: read header %d/%s: %w", e.number, hash, err)
	}
	if header == nil {
		// Header was unwound between being published and the body
		// arriving; drop the pending entry, nothing to verify against.
		s.mu.Lock()
		delete(s.pending, hash)
		s.mu.Unlock()
		return nil
	}

	if !body.Matches(header) {
		s.mu.Lock()
		s.pendingPenalties = append(s.pendingPenalties, &protocol.PeerPenalization{Peer: peer, Reason: sentry.PenaltyInvalidBodyRoot})
		e.status = statusReady
		e.peer = ""
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	e.status = statusArrived
	s.arrived[hash] = body
	s.mu.Unlock()
	return nil
}

// Drain removes and returns every Arrived body, for the Bodies stage to
// persist in its own transaction.
func (s *Sequence) Drain() map[common.Hash]*chain.Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[common.Hash]*chain.Body, len(s.arrived))
	for hash, body := range s.arrived {
		out[hash] = body
		delete(s.arrived, hash)
		delete(s.pending, hash)
	}
	return out
}

// Package headerchain implements the in-memory anchor/link segment graph
// of §4.4: it accepts header batches, splits them into segments, connects
// or anchors them, and exposes the longest connected prefix above the
// persisted head for the Headers stage to drain.
package headerchain

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/protocol"
	"github.com/gurukamath/silkworm/sentry"
)

// link is a header that has been attached, directly or transitively, to
// the persisted head (§3).
type link struct {
	header *chain.Header
}

// anchor is the lowest header of a segment not yet connected downward to
// the persisted chain (§3).
type anchor struct {
	parentHash  common.Hash // hash the anchor is waiting to connect to
	headers     []*chain.Header // ascending by number, headers[0].ParentHash == parentHash
	lastAttempt time.Time
	retries     int
}

func (a *anchor) bottom() *chain.Header { return a.headers[0] }
func (a *anchor) top() *chain.Header    { return a.headers[len(a.headers)-1] }

// BadSegment is returned (wrapped) when a segment is rejected, carrying
// the offending peer and reason for the caller to penalise (§4.4 point 3).
type BadSegment struct {
	Peer   common.PeerID
	Reason sentry.PenaltyReason
	Err    error
}

func (e *BadSegment) Error() string { return fmt.Sprintf("headerchain: bad segment from %s: %v", e.Peer, e.Err) }

// HeaderChain implements protocol.HeaderSink.
type HeaderChain struct {
	cfg         config.Config
	log         log.Logger
	preverified chain.PreVerified

	persistedHeadNumber uint64
	persistedHeadHash   common.Hash

	links    map[common.Hash]*link   // by header hash
	canon    map[uint64]common.Hash  // the one accepted link hash at each number
	anchors  map[common.Hash]*anchor // by parentHash
	seen     *bloomfilter.Filter     // cheap membership prefilter over anchor parent hashes
	blacklist mapset.Set[common.Hash]

	// pendingPenalties collects penalisations raised while processing a
	// batch, drained by the exchange after AddHeaders returns.
	pendingPenalties []*protocol.PeerPenalization
	announced        map[common.PeerID]common.Hash
}

// New builds an empty header chain rooted at the given persisted head.
func New(cfg config.Config, preverified chain.PreVerified, headNumber uint64, headHash common.Hash, logger log.Logger) *HeaderChain {
	seen, _ := bloomfilter.New(1<<20, 4)
	return &HeaderChain{
		cfg:                 cfg,
		log:                 logger,
		preverified:         preverified,
		persistedHeadNumber: headNumber,
		persistedHeadHash:   headHash,
		links:               make(map[common.Hash]*link),
		canon:               make(map[uint64]common.Hash),
		anchors:             make(map[common.Hash]*anchor),
		seen:                seen,
		blacklist:           mapset.NewSet[common.Hash](),
		announced:           make(map[common.PeerID]common.Hash),
	}
}

// SetPersistedHead is called by the Headers stage after a commit (forward
// or unwind) to rebase the chain at the new persisted head (§3,
// "destroyed when the stage commits and re-hydrates state from the
// persisted head").
func (hc *HeaderChain) SetPersistedHead(number uint64, hash common.Hash) {
	hc.persistedHeadNumber = number
	hc.persistedHeadHash = hash
	for n := range hc.canon {
		if n <= number {
			delete(hc.canon, n)
		}
	}
	for h, l := range hc.links {
		if l.header.Number <= number {
			delete(hc.links, h)
		}
	}
}

// Blacklist marks hash as rejected, surviving future AddHeaders calls
// within this process run; persistence across restarts is the store's
// blacklist namespace, consulted by the Headers stage before re-offering
// work here.
func (hc *HeaderChain) Blacklist(hash common.Hash) {
	hc.blacklist.Add(hash)
}

// TakePenalties drains the penalisations accumulated since the last call.
func (hc *HeaderChain) TakePenalties() []*protocol.PeerPenalization {
	out := hc.pendingPenalties
	hc.pendingPenalties = nil
	return out
}

// AnnounceHead implements protocol.HeaderSink: it records the peer's
// claimed head hash and logs it. Request generation does not read the
// record; only headers delivered through AddHeaders enter the graph.
func (hc *HeaderChain) AnnounceHead(peer common.PeerID, hash common.Hash, number uint64) {
	hc.announced[peer] = hash
	hc.log.Debug("peer announced head", "peer", peer, "hash", hash, "number", number)
}

// AddHeaders implements protocol.HeaderSink: splits the batch into
// segments and routes each through connect / extend-down / new-anchor
// (§4.4 steps 1-4).
func (hc *HeaderChain) AddHeaders(peer common.PeerID, headers []*chain.Header) error {
	for _, seg := range splitSegments(headers) {
		if err := hc.ingestSegment(peer, seg); err != nil {
			if bad, ok := err.(*BadSegment); ok {
				hc.pendingPenalties = append(hc.pendingPenalties, &protocol.PeerPenalization{Peer: bad.Peer, Reason: bad.Reason})
				hc.log.Warn("discarding bad segment", "peer", peer, "err", bad.Err)
				continue
			}
			return err
		}
	}
	return nil
}

func (hc *HeaderChain) ingestSegment(peer common.PeerID, seg []*chain.Header) error {
	bottom, top := seg[0], seg[len(seg)-1]

	if hc.blacklist.Contains(bottom.Hash()) || hc.blacklist.Contains(top.Hash()) {
		return &BadSegment{Peer: peer, Reason: sentry.PenaltyBadBlock, Err: fmt.Errorf("segment touches blacklisted hash")}
	}
	if !hc.checkPreVerified(seg) {
		return &BadSegment{Peer: peer, Reason: sentry.PenaltyBadBlock, Err: fmt.Errorf("segment disagrees with pre-verified checkpoint")}
	}

	// connect: bottom attaches directly to the persisted head.
	if bottom.ParentHash == hc.persistedHeadHash && bottom.Number == hc.persistedHeadNumber+1 {
		return hc.connect(seg)
	}
	// connect: bottom attaches to an existing link.
	if parent, ok := hc.links[bottom.ParentHash]; ok {
		if !bottom.IsChild(parent.header) {
			return &BadSegment{Peer: peer, Reason: sentry.PenaltyBadBlock, Err: fmt.Errorf("segment bottom disagrees with connecting link")}
		}
		return hc.connect(seg)
	}

	// extend-down: top matches an existing anchor's awaited parent hash.
	// The bloom filter cheaply rejects the common case of a segment that
	// extends no anchor at all before paying for the exact map lookup.
	if hc.seen.ContainsHash(anchorHash(top.Hash())) {
		if a, ok := hc.anchors[top.Hash()]; ok {
			if !a.bottom().IsChild(top) {
				return &BadSegment{Peer: peer, Reason: sentry.PenaltyBadBlock, Err: fmt.Errorf("segment top disagrees with anchor it extends")}
			}
			delete(hc.anchors, top.Hash())
			merged := append(append([]*chain.Header{}, seg...), a.headers...)
			return hc.newOrMergeAnchor(merged)
		}
	}

	// new-anchor: no match, subject to the global cap.
	return hc.newOrMergeAnchor(seg)
}

// connect promotes every header in seg to a link, in ascending order.
func (hc *HeaderChain) connect(seg []*chain.Header) error {
	for _, h := range seg {
		hash := h.Hash()
		if existing, ok := hc.canon[h.Number]; ok && existing != hash {
			return &BadSegment{Reason: sentry.PenaltyDuplicateHeader, Err: fmt.Errorf("conflicting header at number %d", h.Number)}
		}
		hc.links[hash] = &link{header: h}
		hc.canon[h.Number] = hash
	}
	// the segment above may now itself satisfy an anchor awaiting this top.
	if a, ok := hc.anchors[seg[len(seg)-1].Hash()]; ok {
		delete(hc.anchors, seg[len(seg)-1].Hash())
		return hc.connect(a.headers)
	}
	return nil
}

// newOrMergeAnchor records seg as a fresh anchor, or, when an anchor keyed
// at the same parent hash already exists (a second batch covering the same
// unconnected gap), replaces that anchor's headers with seg and resets its
// retry state.
func (hc *HeaderChain) newOrMergeAnchor(seg []*chain.Header) error {
	parentHash := seg[0].ParentHash
	if existing, ok := hc.anchors[parentHash]; ok {
		existing.headers = seg
		existing.lastAttempt = time.Time{}
		existing.retries = 0
		return nil
	}
	if len(hc.anchors) >= hc.cfg.AnchorCap {
		hc.log.Warn("anchor cap reached, dropping segment", "cap", hc.cfg.AnchorCap, "parent", parentHash)
		return nil // back-pressure, not an error (§7)
	}
	hc.anchors[parentHash] = &anchor{parentHash: parentHash, headers: seg}
	hc.seen.AddHash(anchorHash(parentHash))
	return nil
}

func anchorHash(h common.Hash) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h[i])
	}
	return v
}

// checkPreVerified rejects a segment outright if any header sits at a
// checkpoint height and disagrees with the known-good hash there (§4.4
// point 4, I6/P6).
func (hc *HeaderChain) checkPreVerified(seg []*chain.Header) bool {
	if hc.preverified == nil {
		return true
	}
	for _, h := range seg {
		if expected, ok := hc.preverified[h.Number]; ok && expected != h.Hash() {
			return false
		}
	}
	return true
}

// splitSegments groups an arbitrarily-ordered header batch into maximal
// runs of strictly consecutive, parent-hash-linked headers (§4.4 step 1).
func splitSegments(headers []*chain.Header) [][]*chain.Header {
	if len(headers) == 0 {
		return nil
	}
	sorted := append([]*chain.Header{}, headers...)
	sortHeadersByNumber(sorted)

	var segments [][]*chain.Header
	cur := []*chain.Header{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		h := sorted[i]
		prev := cur[len(cur)-1]
		if h.Number == prev.Number {
			continue // duplicate in the same batch, ignore
		}
		if h.IsChild(prev) {
			cur = append(cur, h)
			continue
		}
		segments = append(segments, cur)
		cur = []*chain.Header{h}
	}
	segments = append(segments, cur)
	return segments
}

func sortHeadersByNumber(h []*chain.Header) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h[j-1].Number > h[j].Number; j-- {
			h[j-1], h[j] = h[j], h[j-1]
		}
	}
}

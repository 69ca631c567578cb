package exchange

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/p2p/msgrate"
	"github.com/gurukamath/silkworm/common"
)

// bodyCapacityKind is the msgrate item kind this engine tracks capacity
// under; the block exchange only ever asks trackers about body delivery
// throughput, so one constant suffices (msgrate's Tracker supports several
// kinds per peer for engines that track more than one data type).
const bodyCapacityKind = 1

// peerSet is the block exchange's own roster of recently-seen peers and
// their outstanding request counts (I4, P5). The sentry surface (§6) has
// no "list connected peers" call, so the roster is built from peer ids
// observed on inbound messages and aged out after idleTimeout.
type peerSet struct {
	mu          sync.Mutex
	peers       map[common.PeerID]*peerState
	maxPerPeer  int
	idleTimeout time.Duration

	trackers *msgrate.Trackers
}

type peerState struct {
	outstanding int
	lastSeen    time.Time
}

func newPeerSet(maxPerPeer int, idleTimeout time.Duration, trackers *msgrate.Trackers) *peerSet {
	return &peerSet{
		peers:       make(map[common.PeerID]*peerState),
		maxPerPeer:  maxPerPeer,
		idleTimeout: idleTimeout,
		trackers:    trackers,
	}
}

// Touch records that peer was just heard from, adding it to the roster if
// new.
func (p *peerSet) Touch(peer common.PeerID) {
	if peer == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.peers[peer]
	if !ok {
		st = &peerState{}
		p.peers[peer] = st
		_ = p.trackers.Track(string(peer), msgrate.NewTracker(p.trackers.MeanCapacities(), p.trackers.MedianRoundTrip()))
	}
	st.lastSeen = time.Now()
}

// Pick implements bodies.PeerPicker: returns a roster member currently
// under maxPerPeer outstanding requests and seen within idleTimeout,
// oldest-seen first so load fans out across the roster rather than
// hammering whichever peer answers fastest.
func (p *peerSet) Pick() (common.PeerID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var best common.PeerID
	var bestSeen time.Time
	found := false
	for id, st := range p.peers {
		if now.Sub(st.lastSeen) > p.idleTimeout {
			continue
		}
		if st.outstanding >= p.maxPerPeer {
			continue
		}
		if !found || st.lastSeen.Before(bestSeen) {
			best, bestSeen, found = id, st.lastSeen, true
		}
	}
	return best, found
}

func (p *peerSet) Reserve(peer common.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.peers[peer]; ok {
		st.outstanding++
	}
}

func (p *peerSet) Release(peer common.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.peers[peer]; ok && st.outstanding > 0 {
		st.outstanding--
	}
}

// Capacity implements bodies.PeerPicker's bandwidth-weighted sizing hook.
func (p *peerSet) Capacity(peer common.PeerID, fallback int) int {
	est := p.trackers.Capacity(string(peer), bodyCapacityKind, p.trackers.TargetRoundTrip())
	if est <= 1 {
		return fallback
	}
	return est
}

// Update feeds a completed body delivery's size and elapsed time back into
// the peer's throughput tracker (§4.7 step 4, "reports... bandwidth").
func (p *peerSet) Update(peer common.PeerID, elapsed time.Duration, items int) {
	p.trackers.Update(string(peer), bodyCapacityKind, elapsed, items)
}

// Evict drops peers not heard from in idleTimeout, keeping the roster (and
// the msgrate tracker set, whose confidence calculation is peer-count
// sensitive) from accumulating long-departed peers forever.
func (p *peerSet) Evict() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, st := range p.peers {
		if now.Sub(st.lastSeen) > p.idleTimeout {
			delete(p.peers, id)
			_ = p.trackers.Untrack(string(id))
		}
	}
}

// Count reports the current roster size, used by the stats loop and tests.
func (p *peerSet) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

package exchange

import (
	"testing"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/msgrate"
	"github.com/gurukamath/silkworm/common"
	"github.com/stretchr/testify/require"
)

func newTestPeerSet(maxPerPeer int, idleTimeout time.Duration) *peerSet {
	return newPeerSet(maxPerPeer, idleTimeout, msgrate.NewTrackers(gethlog.New()))
}

func TestTouchAddsToRosterOnce(t *testing.T) {
	p := newTestPeerSet(4, time.Minute)
	p.Touch("peer-1")
	p.Touch("peer-1")
	p.Touch("peer-2")
	require.Equal(t, 2, p.Count())
}

func TestTouchIgnoresEmptyPeerID(t *testing.T) {
	p := newTestPeerSet(4, time.Minute)
	p.Touch("")
	require.Equal(t, 0, p.Count())
}

func TestPickSkipsPeersAtOutstandingCap(t *testing.T) {
	p := newTestPeerSet(1, time.Minute)
	p.Touch("peer-1")
	p.Touch("peer-2")

	peer, ok := p.Pick()
	require.True(t, ok)
	p.Reserve(peer)

	second, ok := p.Pick()
	require.True(t, ok)
	require.NotEqual(t, peer, second, "the reserved peer is at cap and must be skipped")
}

func TestPickReturnsFalseWhenAllAtCap(t *testing.T) {
	p := newTestPeerSet(1, time.Minute)
	p.Touch("peer-1")
	p.Reserve("peer-1")

	_, ok := p.Pick()
	require.False(t, ok)
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	p := newTestPeerSet(4, time.Minute)
	p.Touch("peer-1")
	p.Release("peer-1")
	p.Release("peer-1")

	require.Equal(t, 0, p.peers["peer-1"].outstanding)
}

func TestPickSkipsPeersIdleBeyondTimeout(t *testing.T) {
	p := newTestPeerSet(4, time.Millisecond)
	p.Touch("peer-1")
	time.Sleep(5 * time.Millisecond)

	_, ok := p.Pick()
	require.False(t, ok)
}

func TestEvictDropsIdlePeers(t *testing.T) {
	p := newTestPeerSet(4, time.Millisecond)
	p.Touch("peer-1")
	time.Sleep(5 * time.Millisecond)

	p.Evict()
	require.Equal(t, 0, p.Count())
}

func TestCapacityFallsBackWhenNoMeasurement(t *testing.T) {
	p := newTestPeerSet(4, time.Minute)
	p.Touch("peer-1")

	require.Equal(t, 128, p.Capacity(common.PeerID("peer-1"), 128))
}

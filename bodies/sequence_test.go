package bodies

import (
	"fmt"
	"testing"
	"time"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// fakePicker is a PeerPicker double giving tests direct control over which
// peer (if any) is offered and how much capacity it reports.
type fakePicker struct {
	peer      common.PeerID
	available bool
	capacity  int
	reserved  []common.PeerID
	released  []common.PeerID
}

func (p *fakePicker) Pick() (common.PeerID, bool) {
	if !p.available {
		return "", false
	}
	return p.peer, true
}
func (p *fakePicker) Reserve(peer common.PeerID) { p.reserved = append(p.reserved, peer) }
func (p *fakePicker) Release(peer common.PeerID) { p.released = append(p.released, peer) }
func (p *fakePicker) Capacity(peer common.PeerID, fallback int) int {
	if p.capacity == 0 {
		return fallback
	}
	return p.capacity
}

func newTestDB(t *testing.T) *store.DB {
	db, err := store.OpenMemory(log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// writeHeaderForBody writes a header whose TxHash/UncleHash match an empty
// body, so acceptBody's Matches check succeeds.
func writeHeaderForBody(t *testing.T, db *store.DB, number uint64) (*chain.Header, *chain.Body) {
	body := &chain.Body{}
	h := &chain.Header{
		Number:     number,
		Difficulty: uint256.NewInt(1),
		TxHash:     body.TxRoot(),
		UncleHash:  body.UnclesHash(),
	}
	require.NoError(t, db.Update(func(tx store.ReadWriteTx) error {
		return store.WriteHeader(tx, h)
	}))
	return h, body
}

func TestEnqueueSkipsAlreadyPendingOrArrived(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	s.Enqueue([]Pending{{Number: 1, Hash: common.HexToHash("0x1")}})
	require.Equal(t, 1, s.Len())

	s.Enqueue([]Pending{{Number: 1, Hash: common.HexToHash("0x1")}})
	require.Equal(t, 1, s.Len(), "duplicate enqueue must not grow pending")
}

func TestTickReturnsNilWhenNoPeerAvailable(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	s.Enqueue([]Pending{{Number: 1, Hash: common.HexToHash("0x1")}})

	picker := &fakePicker{available: false}
	reqs := s.Tick(time.Now(), picker)
	require.Nil(t, reqs)
}

func TestTickFormsBatchCappedByPeerCapacity(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxBlocksPerMessage = 128
	s := New(cfg, log.Discard())
	for i := uint64(1); i <= 5; i++ {
		s.Enqueue([]Pending{{Number: i, Hash: common.HexToHash(fmt.Sprintf("0x%d", i))}})
	}

	picker := &fakePicker{peer: "peer-1", available: true, capacity: 3}
	reqs := s.Tick(time.Now(), picker)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Request.Hashes, 3)
	require.Equal(t, []common.PeerID{"peer-1"}, picker.reserved)
}

func TestTickPromotesExpiredRequestsAndPenalisesAtThreshold(t *testing.T) {
	cfg := config.Defaults()
	cfg.RequestDeadline = time.Second
	cfg.RetryThreshold = 2
	s := New(cfg, log.Discard())
	s.Enqueue([]Pending{{Number: 1, Hash: common.HexToHash("0x1")}})

	now := time.Now()
	picker := &fakePicker{peer: "peer-1", available: true}
	reqs := s.Tick(now, picker)
	require.Len(t, reqs, 1)

	past := now.Add(2 * time.Second)
	// First expiry: retries becomes 1, below threshold, no penalty yet.
	reqs = s.Tick(past, picker)
	require.Len(t, reqs, 1, "re-issued after expiry")
	require.Empty(t, s.TakePenalties())

	// Send it again and let it expire a second time: retries hits 2,
	// reaching RetryThreshold, which penalises the peer.
	past2 := past.Add(2 * time.Second)
	s.Tick(past2, picker)
	penalties := s.TakePenalties()
	require.Len(t, penalties, 1)
	require.Equal(t, common.PeerID("peer-1"), penalties[0].Peer)
}

func TestAddBodiesDiscardsUnknownRequestID(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	db := newTestDB(t)

	err := db.View(func(tx store.ReadTx) error {
		return s.AddBodies("peer-1", 999, nil, tx)
	})
	require.NoError(t, err)
}

func TestAddBodiesAcceptsMatchingBodyAndDrains(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	db := newTestDB(t)
	h, body := writeHeaderForBody(t, db, 1)

	s.Enqueue([]Pending{{Number: 1, Hash: h.Hash()}})
	picker := &fakePicker{peer: "peer-1", available: true}
	reqs := s.Tick(time.Now(), picker)
	require.Len(t, reqs, 1)
	reqID := uint64(reqs[0].Request.RequestID)

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		return s.AddBodies("peer-1", reqID, []*chain.Body{body}, tx)
	}))

	drained := s.Drain()
	require.Len(t, drained, 1)
	require.Contains(t, drained, h.Hash())
	require.Equal(t, 0, s.Len())
}

func TestAddBodiesPenalisesMismatchedRoot(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	db := newTestDB(t)
	h, _ := writeHeaderForBody(t, db, 1)

	s.Enqueue([]Pending{{Number: 1, Hash: h.Hash()}})
	picker := &fakePicker{peer: "peer-1", available: true}
	reqs := s.Tick(time.Now(), picker)
	reqID := uint64(reqs[0].Request.RequestID)

	wrongBody := &chain.Body{Transactions: [][]byte{[]byte("tx")}}
	require.NoError(t, db.View(func(tx store.ReadTx) error {
		return s.AddBodies("peer-1", reqID, []*chain.Body{wrongBody}, tx)
	}))

	require.Len(t, s.TakePenalties(), 1)
	require.Empty(t, s.Drain())
	require.Equal(t, 1, s.Len(), "rejected body goes back to Ready, not dropped")
}

func TestAddBodiesDropsEntryWhenHeaderWasUnwound(t *testing.T) {
	s := New(config.Defaults(), log.Discard())
	db := newTestDB(t)

	hash := common.HexToHash("0xnotpersisted")
	s.Enqueue([]Pending{{Number: 1, Hash: hash}})
	picker := &fakePicker{peer: "peer-1", available: true}
	reqs := s.Tick(time.Now(), picker)
	reqID := uint64(reqs[0].Request.RequestID)

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		return s.AddBodies("peer-1", reqID, []*chain.Body{{}}, tx)
	}))
	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Drain())
}

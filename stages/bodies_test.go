package stages

import (
	"context"
	"testing"
	"time"

	"github.com/gurukamath/silkworm/bodies"
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestBodiesForwardDoneWhenSequenceEmpty(t *testing.T) {
	db := newTestDB(t)
	seq := bodies.New(config.Defaults(), log.Discard())
	stage := NewBodies(db, seq, log.Discard())

	res := stage.Forward(context.Background(), true)
	require.Equal(t, StatusDone, res.Status)
}

// writeMatchingHeader writes a header whose roots match an empty body, and
// returns both so a test can feed the pair straight into the sequence.
func writeMatchingHeader(t *testing.T, db *store.DB, number uint64, parent common.Hash) (*chain.Header, *chain.Body) {
	body := &chain.Body{}
	h := &chain.Header{
		Number:     number,
		ParentHash: parent,
		Difficulty: uint256.NewInt(1),
		TxHash:     body.TxRoot(),
		UncleHash:  body.UnclesHash(),
	}
	require.NoError(t, db.Update(func(tx store.ReadWriteTx) error {
		if err := store.WriteHeader(tx, h); err != nil {
			return err
		}
		return store.WriteCanonicalHash(tx, number, h.Hash())
	}))
	return h, body
}

func TestBodiesForwardPersistsArrivedBodyViaFeedHeaders(t *testing.T) {
	db := newTestDB(t)
	seq := bodies.New(config.Defaults(), log.Discard())
	stage := NewBodies(db, seq, log.Discard())

	h, body := writeMatchingHeader(t, db, 1, common.Hash{})
	stage.FeedHeaders([]pendingBody{{number: h.Number, hash: h.Hash()}})

	// Simulate the exchange delivering the body straight into the shared
	// sequence, the same path a real GetBlockBodies response takes.
	require.NoError(t, db.View(func(tx store.ReadTx) error {
		picker := noopPicker{}
		reqs := seq.Tick(time.Now(), picker)
		require.Len(t, reqs, 1)
		reqID := uint64(reqs[0].Request.RequestID)
		return seq.AddBodies("peer-1", reqID, []*chain.Body{body}, tx)
	}))

	res := stage.Forward(context.Background(), true)
	require.Equal(t, StatusDone, res.Status)

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		got, err := store.ReadBody(tx, h.Number, h.Hash())
		require.NoError(t, err)
		require.NotNil(t, got)
		return nil
	}))
}

func TestBodiesUnwindToDeletesAboveAndForgetsTrackedNumbers(t *testing.T) {
	db := newTestDB(t)
	seq := bodies.New(config.Defaults(), log.Discard())
	stage := NewBodies(db, seq, log.Discard())

	h1, body1 := writeMatchingHeader(t, db, 1, common.Hash{})
	h2, _ := writeMatchingHeader(t, db, 2, h1.Hash())
	require.NoError(t, db.Update(func(tx store.ReadWriteTx) error {
		return store.WriteHeadNumber(tx, 2)
	}))
	require.NoError(t, db.Update(func(tx store.ReadWriteTx) error {
		return store.WriteBody(tx, h1.Number, h1.Hash(), body1)
	}))
	stage.numbers[h2.Hash()] = h2.Number

	res := stage.UnwindTo(context.Background(), common.BlockNum(1), h2.Hash())
	require.Equal(t, StatusDone, res.Status)
	require.NotContains(t, stage.numbers, h2.Hash())

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		got, err := store.ReadBody(tx, h1.Number, h1.Hash())
		require.NoError(t, err)
		require.NotNil(t, got, "body at or below the unwind point survives")
		return nil
	}))
}

type noopPicker struct{}

func (noopPicker) Pick() (common.PeerID, bool)     { return "peer-1", true }
func (noopPicker) Reserve(common.PeerID)           {}
func (noopPicker) Release(common.PeerID)           {}
func (noopPicker) Capacity(common.PeerID, int) int { return 128 }

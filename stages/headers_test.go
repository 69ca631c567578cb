package stages

import (
	"context"
	"fmt"
	"testing"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/config"
	"github.com/gurukamath/silkworm/headerchain"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func chainOf(n int, start common.Hash) []*chain.Header {
	out := make([]*chain.Header, n)
	parent := start
	for i := 0; i < n; i++ {
		h := &chain.Header{ParentHash: parent, Number: uint64(i + 1), Difficulty: uint256.NewInt(1)}
		out[i] = h
		parent = h.Hash()
	}
	return out
}

func newTestDB(t *testing.T) *store.DB {
	db, err := store.OpenMemory(log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHeadersForwardPersistsConnectedRun(t *testing.T) {
	db := newTestDB(t)
	cfg := config.Defaults()
	hc := headerchain.New(cfg, chain.PreVerified{}, 0, common.Hash{}, log.Discard())
	headers := chainOf(3, common.Hash{})
	require.NoError(t, hc.AddHeaders("peer-1", headers))

	stage := NewHeaders(db, hc, chain.AcceptAllSeals{}, log.Discard())
	res := stage.Forward(context.Background(), true)
	require.Equal(t, StatusDone, res.Status)

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		n, ok, err := store.ReadHeadNumber(tx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(3), n)
		return nil
	}))
}

func TestHeadersForwardFeedsAttachedBodyFeeder(t *testing.T) {
	db := newTestDB(t)
	cfg := config.Defaults()
	hc := headerchain.New(cfg, chain.PreVerified{}, 0, common.Hash{}, log.Discard())
	headers := chainOf(2, common.Hash{})
	require.NoError(t, hc.AddHeaders("peer-1", headers))

	stage := NewHeaders(db, hc, chain.AcceptAllSeals{}, log.Discard())
	feeder := &recordingFeeder{}
	stage.AttachBodyFeeder(feeder)

	res := stage.Forward(context.Background(), true)
	require.Equal(t, StatusDone, res.Status)
	require.Len(t, feeder.fed, 2)
}

type recordingFeeder struct {
	fed []pendingBody
}

func (f *recordingFeeder) FeedHeaders(items []pendingBody) {
	f.fed = append(f.fed, items...)
}

func TestHeadersForwardUnwindsOnStoreBlacklistedHeader(t *testing.T) {
	db := newTestDB(t)
	cfg := config.Defaults()
	hc := headerchain.New(cfg, chain.PreVerified{}, 0, common.Hash{}, log.Discard())
	headers := chainOf(3, common.Hash{})
	require.NoError(t, hc.AddHeaders("peer-1", headers[:2]))

	stage := NewHeaders(db, hc, chain.AcceptAllSeals{}, log.Discard())
	require.Equal(t, StatusDone, stage.Forward(context.Background(), true).Status)

	// The third header's hash is already on the persisted blacklist — e.g.
	// from a prior run — even though this header chain instance has never
	// seen it rejected.
	require.NoError(t, db.Update(func(tx store.ReadWriteTx) error {
		return store.Blacklist(tx, headers[2].Hash())
	}))
	require.NoError(t, hc.AddHeaders("peer-2", headers[2:]))

	res := stage.Forward(context.Background(), false)
	require.Equal(t, StatusUnwindNeeded, res.Status)
	require.Equal(t, common.BlockNum(2), res.UnwindPoint)
	require.Equal(t, headers[2].Hash(), res.BadBlock)
}

// rejectingSeal fails VerifySeal for exactly one header, by hash.
type rejectingSeal struct {
	reject common.Hash
}

func (r rejectingSeal) VerifySeal(h *chain.Header) error {
	if h.Hash() == r.reject {
		return errSealRejected
	}
	return nil
}

var errSealRejected = fmt.Errorf("stages: seal rejected")

func TestHeadersForwardUnwindsOnSealRejection(t *testing.T) {
	db := newTestDB(t)
	cfg := config.Defaults()
	hc := headerchain.New(cfg, chain.PreVerified{}, 0, common.Hash{}, log.Discard())
	headers := chainOf(3, common.Hash{})
	require.NoError(t, hc.AddHeaders("peer-1", headers))

	stage := NewHeaders(db, hc, rejectingSeal{reject: headers[2].Hash()}, log.Discard())
	res := stage.Forward(context.Background(), true)
	require.Equal(t, StatusUnwindNeeded, res.Status)
	require.Equal(t, common.BlockNum(2), res.UnwindPoint)
	require.Equal(t, headers[2].Hash(), res.BadBlock)
}

func TestHeadersUnwindToRevertsHeadAndBlacklists(t *testing.T) {
	db := newTestDB(t)
	cfg := config.Defaults()
	hc := headerchain.New(cfg, chain.PreVerified{}, 0, common.Hash{}, log.Discard())
	headers := chainOf(4, common.Hash{})
	require.NoError(t, hc.AddHeaders("peer-1", headers))

	stage := NewHeaders(db, hc, chain.AcceptAllSeals{}, log.Discard())
	require.Equal(t, StatusDone, stage.Forward(context.Background(), true).Status)

	badHash := headers[3].Hash()
	res := stage.UnwindTo(context.Background(), common.BlockNum(2), badHash)
	require.Equal(t, StatusDone, res.Status)

	require.NoError(t, db.View(func(tx store.ReadTx) error {
		n, ok, err := store.ReadHeadNumber(tx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(2), n)

		blacklisted, err := store.IsBlacklisted(tx, badHash)
		require.NoError(t, err)
		require.True(t, blacklisted)

		hdr, err := store.ReadHeader(tx, 4, badHash)
		require.NoError(t, err)
		require.Nil(t, hdr)
		return nil
	}))
}

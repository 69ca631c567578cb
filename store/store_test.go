package store

import (
	"testing"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	db, err := OpenMemory(log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCanonicalHashRoundTrip(t *testing.T) {
	db := openTestDB(t)
	hash := common.HexToHash("0xabc")

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return WriteCanonicalHash(tx, 7, hash)
	}))

	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadCanonicalHash(tx, 7)
		require.NoError(t, err)
		require.Equal(t, hash, got)
		return nil
	}))

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return DeleteCanonicalHash(tx, 7)
	}))
	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadCanonicalHash(tx, 7)
		require.NoError(t, err)
		require.True(t, got.IsZero())
		return nil
	}))
}

func TestHeaderRoundTrip(t *testing.T) {
	db := openTestDB(t)
	h := &chain.Header{Number: 42, Difficulty: uint256.NewInt(1)}
	hash := h.Hash()

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return WriteHeader(tx, h)
	}))

	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadHeader(tx, 42, hash)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, h.Number, got.Number)
		require.Equal(t, hash, got.Hash())
		return nil
	}))

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return DeleteHeader(tx, 42, hash)
	}))
	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadHeader(tx, 42, hash)
		require.NoError(t, err)
		require.Nil(t, got)
		return nil
	}))
}

func TestTotalDifficultyRoundTrip(t *testing.T) {
	db := openTestDB(t)
	hash := common.HexToHash("0x1")
	td := uint256.NewInt(12345)

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return WriteTotalDifficulty(tx, 1, hash, td)
	}))
	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadTotalDifficulty(tx, 1, hash)
		require.NoError(t, err)
		require.Equal(t, td, got)
		return nil
	}))
}

func TestHeadNumberRoundTrip(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := readHeadNumberView(t, db)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return WriteHeadNumber(tx, 99)
	}))
	n, ok, err := readHeadNumberView(t, db)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(99), n)
}

func readHeadNumberView(t *testing.T, db *DB) (uint64, bool, error) {
	var n uint64
	var ok bool
	err := db.View(func(tx ReadTx) error {
		var err error
		n, ok, err = ReadHeadNumber(tx)
		return err
	})
	return n, ok, err
}

func TestBlacklistRoundTrip(t *testing.T) {
	db := openTestDB(t)
	hash := common.HexToHash("0xbad")

	require.NoError(t, db.View(func(tx ReadTx) error {
		blacklisted, err := IsBlacklisted(tx, hash)
		require.NoError(t, err)
		require.False(t, blacklisted)
		return nil
	}))

	require.NoError(t, db.Update(func(tx ReadWriteTx) error {
		return Blacklist(tx, hash)
	}))

	require.NoError(t, db.View(func(tx ReadTx) error {
		blacklisted, err := IsBlacklisted(tx, hash)
		require.NoError(t, err)
		require.True(t, blacklisted)
		return nil
	}))
}

func TestUpdateDiscardsBatchOnError(t *testing.T) {
	db := openTestDB(t)
	hash := common.HexToHash("0x1")

	err := db.Update(func(tx ReadWriteTx) error {
		require.NoError(t, WriteCanonicalHash(tx, 1, hash))
		return errTestAbort
	})
	require.ErrorIs(t, err, errTestAbort)

	require.NoError(t, db.View(func(tx ReadTx) error {
		got, err := ReadCanonicalHash(tx, 1)
		require.NoError(t, err)
		require.True(t, got.IsZero(), "aborted update must not have committed")
		return nil
	}))
}

var errTestAbort = errAbort{}

type errAbort struct{}

func (errAbort) Error() string { return "test: deliberate abort" }

package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyMatchesEmptyBody(t *testing.T) {
	body := &Body{}
	h := newTestHeader(1, [32]byte{})
	h.TxHash = body.TxRoot()
	h.UncleHash = body.UnclesHash()
	require.True(t, body.Matches(h))
}

func TestBodyMatchesRejectsTamperedTransactions(t *testing.T) {
	body := &Body{Transactions: [][]byte{{1, 2, 3}}}
	h := newTestHeader(1, [32]byte{})
	h.TxHash = body.TxRoot()
	h.UncleHash = body.UnclesHash()
	require.True(t, body.Matches(h))

	body.Transactions[0][0] = 9
	require.False(t, body.Matches(h))
}

func TestBodyMatchesRejectsWrongUncleHash(t *testing.T) {
	body := &Body{Uncles: []*Header{newTestHeader(5, [32]byte{})}}
	h := newTestHeader(6, [32]byte{})
	h.TxHash = body.TxRoot()
	h.UncleHash = [32]byte{1}
	require.False(t, body.Matches(h))
}

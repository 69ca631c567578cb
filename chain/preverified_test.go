package chain

import (
	"testing"

	"github.com/gurukamath/silkworm/common"
	"github.com/stretchr/testify/require"
)

func TestPreVerifiedCheck(t *testing.T) {
	pv := PreVerified{100: common.HexToHash("0xaa")}

	require.True(t, pv.Check(50, common.HexToHash("0xbb")), "no checkpoint at this height, anything passes")
	require.True(t, pv.Check(100, common.HexToHash("0xaa")))
	require.False(t, pv.Check(100, common.HexToHash("0xcc")))
}

func TestPreVerifiedHighest(t *testing.T) {
	require.Equal(t, uint64(0), PreVerified{}.Highest())

	pv := PreVerified{10: common.Hash{}, 500: common.Hash{}, 42: common.Hash{}}
	require.Equal(t, uint64(500), pv.Highest())
}

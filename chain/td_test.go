package chain

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAddDifficulty(t *testing.T) {
	parentTD := uint256.NewInt(1000)
	child := newTestHeader(2, [32]byte{})
	child.Difficulty = uint256.NewInt(50)

	sum := AddDifficulty(parentTD, child)
	require.Equal(t, uint256.NewInt(1050), sum)
	// parentTD itself is untouched.
	require.Equal(t, uint256.NewInt(1000), parentTD)
}

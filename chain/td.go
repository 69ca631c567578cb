package chain

import "github.com/holiman/uint256"

// TotalDifficulty is the arbitrary-precision, strictly-increasing
// accumulated proof-of-work metric used to pick the canonical chain (§3).
type TotalDifficulty = uint256.Int

// AddDifficulty returns parent + child.Difficulty as a fresh TotalDifficulty,
// the value persisted alongside child when it is appended to the canonical
// chain (P2).
func AddDifficulty(parent *TotalDifficulty, child *Header) *TotalDifficulty {
	sum := new(uint256.Int)
	sum.Add(parent, child.Difficulty)
	return sum
}

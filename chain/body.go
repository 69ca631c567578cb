package chain

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/crypto"
)

// Body is the non-header half of a block: its transactions and ommer
// headers. The engine never decodes or executes a transaction — it is
// carried as an opaque RLP-encoded blob (§1 Non-goals: "does not execute
// transactions") and only ever hashed to check the binding against the
// owning header.
type Body struct {
	Transactions [][]byte
	Uncles       []*Header
}

// TxRoot returns the ordered Merkle root of the body's transaction blobs,
// the value expected to match the owning header's TxHash (P3).
func (b *Body) TxRoot() common.Hash {
	return merkleRoot(b.Transactions)
}

// UnclesHash returns the keccak256 of the RLP-encoded ommer list, the value
// expected to match the owning header's UncleHash (P3). An empty uncle list
// hashes to the RLP encoding of an empty list, matching the well-known
// "no uncles" sentinel used throughout the wire protocol.
func (b *Body) UnclesHash() common.Hash {
	if len(b.Uncles) == 0 {
		enc, _ := rlp.EncodeToBytes([]*Header{})
		return crypto.Keccak256Hash(enc)
	}
	enc, err := rlp.EncodeToBytes(b.Uncles)
	if err != nil {
		panic("chain: uncle list RLP encoding failed: " + err.Error())
	}
	return crypto.Keccak256Hash(enc)
}

// Matches reports whether the body's derived roots satisfy header's binding
// invariant (P3, §4.3 "verify transactions-root and ommers-hash").
func (b *Body) Matches(header *Header) bool {
	return b.TxRoot() == header.TxHash && b.UnclesHash() == header.UncleHash
}

// merkleRoot computes a simple ordered binary Merkle root over opaque
// leaves: each leaf is hashed, pairs are combined with keccak256 level by
// level, and an odd leaf at any level is paired with itself. An empty input
// hashes to the keccak256 of the empty string.
func merkleRoot(leaves [][]byte) common.Hash {
	if len(leaves) == 0 {
		return crypto.Keccak256Hash(nil)
	}
	level := make([]common.Hash, len(leaves))
	for i, leaf := range leaves {
		level[i] = crypto.Keccak256Hash(leaf)
	}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, crypto.Keccak256Hash(level[i][:], level[i+1][:]))
			} else {
				next = append(next, crypto.Keccak256Hash(level[i][:], level[i][:]))
			}
		}
		level = next
	}
	return level[0]
}

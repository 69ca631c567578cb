// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/crypto"
	"github.com/holiman/uint256"
)

// Header is a block header as carried over the wire and persisted by the
// Headers stage. Hash() is the keccak256 of its RLP encoding; the engine
// treats that as the header's identity everywhere (I-model §3).
type Header struct {
	ParentHash  common.Hash    `json:"parentHash"`
	UncleHash   common.Hash    `json:"sha3Uncles"`
	Coinbase    [20]byte       `json:"miner"`
	Root        common.Hash    `json:"stateRoot"`
	TxHash      common.Hash    `json:"transactionsRoot"`
	ReceiptHash common.Hash    `json:"receiptsRoot"`
	Bloom       [256]byte      `json:"logsBloom"`
	Difficulty  *uint256.Int   `json:"difficulty"`
	Number      uint64         `json:"number"`
	GasLimit    uint64         `json:"gasLimit"`
	GasUsed     uint64         `json:"gasUsed"`
	Time        uint64         `json:"timestamp"`
	Extra       []byte         `json:"extraData"`
	MixDigest   common.Hash    `json:"mixHash"`
	Nonce       [8]byte        `json:"nonce"`
	BaseFee     *uint256.Int   `json:"baseFeePerGas" rlp:"optional"`

	// hash caches the keccak256 digest of the RLP encoding so repeated
	// lookups during segment-splitting don't rehash the same header.
	hash atomic.Pointer[common.Hash]
}

// Hash returns the keccak256 of the header's RLP encoding, computing and
// caching it on first use.
func (h *Header) Hash() common.Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic("chain: header RLP encoding failed: " + err.Error())
	}
	digest := crypto.Keccak256Hash(enc)
	h.hash.Store(&digest)
	return digest
}

// Copy returns a deep-enough copy for safe concurrent reads: a fresh header
// value with its own hash cache and a duplicated Extra slice, sharing the
// (immutable after construction) difficulty and base fee pointers.
func (h *Header) Copy() *Header {
	cp := &Header{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       h.Bloom,
		Difficulty:  h.Difficulty,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       append([]byte(nil), h.Extra...),
		MixDigest:   h.MixDigest,
		Nonce:       h.Nonce,
		BaseFee:     h.BaseFee,
	}
	return cp
}

// IsChild reports whether h is the immediate successor of parent: a
// consecutive number and a matching parent hash (§4.2 forward algorithm,
// checks (a) and (b); P1).
func (h *Header) IsChild(parent *Header) bool {
	return h.Number == parent.Number+1 && h.ParentHash == parent.Hash()
}

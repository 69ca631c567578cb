package store

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
)

// ReadCanonicalHash returns the hash stored as canonical at number, or the
// zero hash if none is recorded.
func ReadCanonicalHash(tx ReadTx, number uint64) (common.Hash, error) {
	v, err := tx.Get(canonicalHashKey(number))
	if err != nil || v == nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

// WriteCanonicalHash records hash as canonical at number.
func WriteCanonicalHash(tx ReadWriteTx, number uint64, hash common.Hash) error {
	return tx.Put(canonicalHashKey(number), hash.Bytes())
}

// DeleteCanonicalHash removes the canonical mapping at number, used by
// unwind to retract headers above the rewind point (§4.2 unwind).
func DeleteCanonicalHash(tx ReadWriteTx, number uint64) error {
	return tx.Delete(canonicalHashKey(number))
}

// ReadHeadNumber returns the current canonical head block number.
func ReadHeadNumber(tx ReadTx) (uint64, bool, error) {
	v, err := tx.Get(keyHeadNumber)
	if err != nil || v == nil {
		return 0, false, err
	}
	return decodeNumber(v), true, nil
}

// WriteHeadNumber sets the canonical head pointer, the one namespace every
// stage's commit is allowed to touch in addition to its own (§6).
func WriteHeadNumber(tx ReadWriteTx, number uint64) error {
	return tx.Put(keyHeadNumber, encodeNumber(number))
}

// ReadHeader decodes the header stored at (number, hash), or nil if absent.
func ReadHeader(tx ReadTx, number uint64, hash common.Hash) (*chain.Header, error) {
	v, err := tx.Get(headerKey(number, hash))
	if err != nil || v == nil {
		return nil, err
	}
	h := new(chain.Header)
	if err := rlp.DecodeBytes(v, h); err != nil {
		return nil, err
	}
	return h, nil
}

// WriteHeader RLP-encodes and persists header at (number, hash).
func WriteHeader(tx ReadWriteTx, header *chain.Header) error {
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	return tx.Put(headerKey(header.Number, header.Hash()), enc)
}

// DeleteHeader removes the header stored at (number, hash).
func DeleteHeader(tx ReadWriteTx, number uint64, hash common.Hash) error {
	return tx.Delete(headerKey(number, hash))
}

// ReadTotalDifficulty decodes the total difficulty recorded at (number, hash).
func ReadTotalDifficulty(tx ReadTx, number uint64, hash common.Hash) (*chain.TotalDifficulty, error) {
	v, err := tx.Get(tdKey(number, hash))
	if err != nil || v == nil {
		return nil, err
	}
	td := new(chain.TotalDifficulty)
	if err := rlp.DecodeBytes(v, td); err != nil {
		return nil, err
	}
	return td, nil
}

// WriteTotalDifficulty persists td at (number, hash).
func WriteTotalDifficulty(tx ReadWriteTx, number uint64, hash common.Hash, td *chain.TotalDifficulty) error {
	enc, err := rlp.EncodeToBytes(td)
	if err != nil {
		return err
	}
	return tx.Put(tdKey(number, hash), enc)
}

// DeleteTotalDifficulty removes the total difficulty entry at (number, hash).
func DeleteTotalDifficulty(tx ReadWriteTx, number uint64, hash common.Hash) error {
	return tx.Delete(tdKey(number, hash))
}

// ReadBody decodes the body stored at (number, hash), or nil if absent.
func ReadBody(tx ReadTx, number uint64, hash common.Hash) (*chain.Body, error) {
	v, err := tx.Get(bodyKey(number, hash))
	if err != nil || v == nil {
		return nil, err
	}
	b := new(chain.Body)
	if err := rlp.DecodeBytes(v, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteBody RLP-encodes and persists body at (number, hash).
func WriteBody(tx ReadWriteTx, number uint64, hash common.Hash, body *chain.Body) error {
	enc, err := rlp.EncodeToBytes(body)
	if err != nil {
		return err
	}
	return tx.Put(bodyKey(number, hash), enc)
}

// DeleteBody removes the body stored at (number, hash).
func DeleteBody(tx ReadWriteTx, number uint64, hash common.Hash) error {
	return tx.Delete(bodyKey(number, hash))
}

// IsBlacklisted reports whether hash has been recorded as a bad block by a
// previous unwind, in this run or a prior one (§7, "persists across
// restarts").
func IsBlacklisted(tx ReadTx, hash common.Hash) (bool, error) {
	return tx.Has(blacklistKey(hash))
}

// Blacklist records hash as a bad block.
func Blacklist(tx ReadWriteTx, hash common.Hash) error {
	return tx.Put(blacklistKey(hash), []byte{1})
}

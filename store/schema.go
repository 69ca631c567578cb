// Package store adapts the engine's persisted state onto a pebble key-value
// database. It is modelled on go-ethereum's ethdb layer (a flat key-value
// store with a namespacing convention by key prefix) rather than on a
// bucketed transactional engine, because pebble — like leveldb before it —
// exposes one flat keyspace; namespaces below are prefixes, and the
// transactional commit boundary required by §4.1 is provided by pebble's
// atomic Batch.
package store

import "encoding/binary"

// Key prefixes, one per logical namespace named in §6 ("Persistent store
// layout"). Each stage's commit touches only its own namespaces plus the
// shared canonical head pointer.
var (
	prefixCanonicalHash = []byte("h") // canonical header hashes by number
	prefixHeader        = []byte("H") // headers by (number, hash)
	prefixTD            = []byte("t") // total difficulty by (number, hash)
	prefixBody          = []byte("b") // block bodies by (number, hash)
	prefixBlacklist     = []byte("B") // bad-block blacklist, keyed by hash
	keyHeadNumber       = []byte("LastHeader")
)

func encodeNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func decodeNumber(enc []byte) uint64 {
	return binary.BigEndian.Uint64(enc)
}

// canonicalHashKey = prefixCanonicalHash ++ number(big-endian)
func canonicalHashKey(number uint64) []byte {
	return append(append([]byte{}, prefixCanonicalHash...), encodeNumber(number)...)
}

// headerKey = prefixHeader ++ number(big-endian) ++ hash
func headerKey(number uint64, hash [32]byte) []byte {
	k := append(append([]byte{}, prefixHeader...), encodeNumber(number)...)
	return append(k, hash[:]...)
}

func tdKey(number uint64, hash [32]byte) []byte {
	k := append(append([]byte{}, prefixTD...), encodeNumber(number)...)
	return append(k, hash[:]...)
}

func bodyKey(number uint64, hash [32]byte) []byte {
	k := append(append([]byte{}, prefixBody...), encodeNumber(number)...)
	return append(k, hash[:]...)
}

func blacklistKey(hash [32]byte) []byte {
	return append(append([]byte{}, prefixBlacklist...), hash[:]...)
}

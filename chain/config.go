// Package chain holds the static, read-only descriptors that identify a
// chain to peers and consensus: its genesis, fork schedule, and the sparse
// table of checkpoint hashes shipped with the binary. None of it changes at
// runtime; it is consumed by the sync handshake (fork-id) and by the header
// chain's fast-path rejection of the wrong network.
package chain

import "github.com/gurukamath/silkworm/common"

// Config identifies a chain for the purposes of the sync handshake: the
// network id advertised in Status, the genesis hash folded into the fork id
// checksum, and the ordered list of block numbers at which a consensus
// upgrade changes validation rules.
type Config struct {
	NetworkID   uint64
	ChainName   string
	GenesisHash common.Hash

	// ForkBlocks is the ascending, deduplicated list of block numbers at
	// which the fork-id checksum changes. A chain with no scheduled forks
	// has an empty list.
	ForkBlocks []uint64

	// ForkTimes is the ascending list of fork-activation timestamps for
	// post-merge, time-based forks (EIP-2124 extended the checksum to also
	// fold in activation times once forks stopped being block-numbered).
	ForkTimes []uint64
}

// Mainnet-style chain identifiers recognised at startup; a chain id outside
// this table is rejected as unsupported (§7, "Unsupported chain": fatal at
// startup).
const (
	NetworkMainnet = 1
	NetworkSepolia = 11155111
	NetworkHolesky = 17000
)

// Supported reports whether id names a chain this engine knows how to
// validate headers for. Rinkeby and Goerli are deliberately absent: their
// consensus engines were never carried over from the source implementation.
func Supported(id uint64) bool {
	switch id {
	case NetworkMainnet, NetworkSepolia, NetworkHolesky:
		return true
	default:
		return false
	}
}

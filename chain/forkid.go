// Copyright 2019 The go-ethereum Authors
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
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ID is a fork identifier as defined by EIP-2124.
type ID struct {
	Hash [4]byte // CRC32 checksum of the genesis hash and all forks known to us
	Next uint64  // Block number (or timestamp) of the next upcoming fork, 0 if none known
}

// ErrRemoteStale is returned by Filter when the remote is on our chain but
// has not yet activated a fork we have already passed.
var ErrRemoteStale = errors.New("remote needs update")

// ErrLocalIncompatibleOrStale is returned by Filter when either side has
// diverged from the other's fork schedule irrecoverably.
var ErrLocalIncompatibleOrStale = errors.New("local incompatible or needs update")

// NewID computes the fork id for the given config at the supplied head
// block number and head timestamp. Only forks at or below head contribute
// to the checksum; forks above head set Next.
func NewID(cfg *Config, head, time uint64) ID {
	hash := crc32.ChecksumIEEE(cfg.GenesisHash[:])

	var next uint64
	for _, fork := range cfg.ForkBlocks {
		if fork <= head {
			if fork == 0 {
				continue
			}
			hash = checksumUpdate(hash, fork)
			continue
		}
		next = fork
		break
	}
	if next == 0 {
		for _, t := range cfg.ForkTimes {
			if t <= time {
				hash = checksumUpdate(hash, t)
				continue
			}
			next = t
			break
		}
	}
	return ID{Hash: checksumToBytes(hash), Next: next}
}

func checksumUpdate(hash uint32, fork uint64) uint32 {
	var blob [8]byte
	binary.BigEndian.PutUint64(blob[:], fork)
	return crc32.Update(hash, crc32.IEEETable, blob[:])
}

func checksumToBytes(hash uint32) [4]byte {
	var blob [4]byte
	binary.BigEndian.PutUint32(blob[:], hash)
	return blob
}

// Filter returns a function that validates a remotely advertised fork id
// against the locally known schedule, as performed once per peer during the
// sentry handshake (§6, "fork-id for EIP-2124 validation").
func Filter(cfg *Config, headFn func() (uint64, uint64)) func(id ID) error {
	forksByBlock := append([]uint64{}, cfg.ForkBlocks...)
	return func(id ID) error {
		head, time := headFn()
		local := NewID(cfg, head, time)

		// Identical checksum and identical expectation of the next fork:
		// both sides agree exactly.
		if id.Hash == local.Hash {
			if id.Next == 0 || id.Next == local.Next {
				return nil
			}
			// The remote advertises a future fork we also have scheduled;
			// fine as long as it's in our own fork list.
			for _, fork := range forksByBlock {
				if fork == id.Next {
					return nil
				}
			}
			return ErrRemoteStale
		}

		// Checksums differ: the remote may simply be behind us on a fork we
		// have already passed, in which case re-derive our checksum history
		// up to progressively earlier forks and see if it ever matches.
		for _, fork := range forksByBlock {
			if fork == 0 {
				continue
			}
			if fork > head {
				break
			}
			partial := NewID(cfg, fork-1, time)
			if partial.Hash == id.Hash {
				return ErrRemoteStale
			}
		}
		return ErrLocalIncompatibleOrStale
	}
}

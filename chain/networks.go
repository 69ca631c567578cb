package chain

import "github.com/gurukamath/silkworm/common"

// Networks maps a supported network id to the static descriptor used for
// Status/fork-id handshakes. The fork schedule itself is not modelled
// beyond genesis: this engine never executes a fork-gated validation rule
// (§1 Non-goals, "consensus-engine block execution"), so the only fork-id
// consumer is the handshake's staleness check, which degrades gracefully
// with an empty schedule.
var Networks = map[uint64]Config{
	NetworkMainnet: {
		NetworkID:   NetworkMainnet,
		ChainName:   "mainnet",
		GenesisHash: common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"),
	},
	NetworkSepolia: {
		NetworkID:   NetworkSepolia,
		ChainName:   "sepolia",
		GenesisHash: common.HexToHash("0x25a5cc106eea7138acab33231d7160d69cb777ee0c2c553fcddf5138993e6dd9"),
	},
	NetworkHolesky: {
		NetworkID:   NetworkHolesky,
		ChainName:   "holesky",
		GenesisHash: common.HexToHash("0xb5f7f912443c940f21fd611f12828d75b534364ed9e95ca4e307729a4661bde4"),
	},
}

// ByName looks up a network config by its ChainName, for the --network CLI
// flag.
func ByName(name string) (Config, bool) {
	for _, cfg := range Networks {
		if cfg.ChainName == name {
			return cfg, true
		}
	}
	return Config{}, false
}

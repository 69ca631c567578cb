// Package config holds the tunables the download engine threads through
// construction of the body sequence and block exchange, rather than
// carrying them as static state (§9, "Global tunables").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config is the full set of engine tunables. Zero-value fields are filled
// in by Defaults() before Load returns.
type Config struct {
	// MaxBlocksPerMessage bounds a single GetBlockBodies batch (§4.5).
	MaxBlocksPerMessage int `toml:"max_blocks_per_req"`
	// MaxRequestsPerPeer bounds outstanding requests to any one peer (I4, P5).
	MaxRequestsPerPeer int `toml:"max_requests_per_peer"`
	// RequestDeadline is how long an outstanding request may go unanswered
	// before it is re-queued (§4.5, §8 S4).
	RequestDeadline time.Duration `toml:"-"`
	RequestDeadlineS int64 `toml:"request_deadline_s"`
	// NoPeerDelay is how long the body scheduler sleeps when no eligible
	// peer is available (§4.5, §8 S5).
	NoPeerDelay time.Duration `toml:"-"`
	NoPeerDelayMS int64 `toml:"no_peer_delay_ms"`
	// AnchorCap bounds the header chain's anchor table (§4.4 point 2).
	AnchorCap int `toml:"anchor_cap"`
	// StatsInterval paces the sentry client's stats_receiving_loop (§4.7).
	StatsInterval time.Duration `toml:"-"`

	// RetryThreshold is the number of missed deadlines before a body
	// request's originating peer is penalised (§4.5).
	RetryThreshold int `toml:"retry_threshold"`
	// AnchorRetryInterval bounds how often a stale anchor re-requests its
	// parent (§4.4).
	AnchorRetryInterval time.Duration `toml:"-"`

	// SentryCallTimeout bounds every outbound sentry call (§5, "5s default").
	SentryCallTimeout time.Duration `toml:"-"`
}

// Defaults returns the tunables named in §5/§6, before any override.
func Defaults() Config {
	return Config{
		MaxBlocksPerMessage: 128,
		MaxRequestsPerPeer:  16,
		RequestDeadline:     30 * time.Second,
		NoPeerDelay:         500 * time.Millisecond,
		AnchorCap:           1024,
		StatsInterval:       15 * time.Second,
		RetryThreshold:      3,
		AnchorRetryInterval: 5 * time.Second,
		SentryCallTimeout:   5 * time.Second,
	}
}

// Load reads a TOML config file at path, if it exists, layering it over
// Defaults(). A missing file is not an error: the engine runs on defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.RequestDeadlineS > 0 {
		cfg.RequestDeadline = time.Duration(cfg.RequestDeadlineS) * time.Second
	}
	if cfg.NoPeerDelayMS > 0 {
		cfg.NoPeerDelay = time.Duration(cfg.NoPeerDelayMS) * time.Millisecond
	}
	return cfg, nil
}

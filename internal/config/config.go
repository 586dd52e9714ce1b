// Package config loads this core's TOML configuration file, grounded on
// github.com/BurntSushi/toml, present (indirect, pulled in for a sibling's
// test tooling) in the teacher monorepo's own go.mod and promoted here to
// direct use as the config format.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Pool is one configured upstream pool: name, listen address, and an
// opaque blob of protocol-specific settings this core never interprets.
type Pool struct {
	Name    string          `toml:"name"`
	Address string          `toml:"address"`
	Options json.RawMessage `toml:"options"`
}

// Respawn bounds the master's crash-loop backoff: a worker slot that exits
// nonzero more than MaxAttempts times within Window is left dead instead of
// respawned immediately (not named in spec.md's recognized options, added
// per SPEC_FULL.md §5.C to avoid a fork-bomb on a persistently broken
// config or environment).
type Respawn struct {
	MaxAttempts int      `toml:"max_attempts"`
	Window      Duration `toml:"window"`
}

// Config is the full recognized configuration surface: spec.md §6's
// `worker_processes`, `worker_shutdown_timeout`, `user`/`gid`, plus the
// stats listener address and sampler interval SPEC_FULL.md §3 requires,
// plus Pools.
type Config struct {
	WorkerProcesses       int      `toml:"worker_processes"`
	WorkerShutdownTimeout Duration `toml:"worker_shutdown_timeout"`
	User                  string   `toml:"user"`
	GID                   int      `toml:"gid"`
	HasGID                bool     `toml:"-"`

	StatsAddress     string   `toml:"stats_address"`
	SamplerInterval  Duration `toml:"sampler_interval"`
	RegionSize       int      `toml:"region_size"`

	LogPath  string `toml:"log_path"`
	LogLevel string `toml:"log_level"`

	Respawn Respawn `toml:"respawn"`

	Pools []Pool `toml:"pools"`
}

// Duration wraps time.Duration so TOML config files can write plain
// integer seconds (`worker_shutdown_timeout = 30`) as the original C
// configuration surface does, rather than Go duration strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	var secs int64
	if _, err := fmt.Sscanf(string(b), "%d", &secs); err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", b, err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load parses and validates the TOML file at path.
func Load(path string) (*Config, error) {
	var c Config
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	c.HasGID = meta.IsDefined("gid")
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Defaults a Config has when no value is configured.
const (
	DefaultWorkerShutdownTimeout = 30 * time.Second
	DefaultSamplerInterval       = time.Second
	DefaultRegionSize            = 1 << 20
	DefaultRespawnMaxAttempts    = 5
	DefaultRespawnWindow         = 10 * time.Second
)

func (c *Config) validate() error {
	if c.WorkerProcesses < 1 {
		return fmt.Errorf("config: worker_processes must be >= 1, got %d", c.WorkerProcesses)
	}
	if c.WorkerShutdownTimeout == 0 {
		c.WorkerShutdownTimeout = Duration(DefaultWorkerShutdownTimeout)
	}
	if c.SamplerInterval == 0 {
		c.SamplerInterval = Duration(DefaultSamplerInterval)
	}
	if c.RegionSize <= 0 {
		c.RegionSize = DefaultRegionSize
	}
	if c.Respawn.MaxAttempts <= 0 {
		c.Respawn.MaxAttempts = DefaultRespawnMaxAttempts
	}
	if c.Respawn.Window <= 0 {
		c.Respawn.Window = Duration(DefaultRespawnWindow)
	}
	if c.StatsAddress == "" {
		return fmt.Errorf("config: stats_address is required")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" || p.Address == "" {
			return fmt.Errorf("config: pool entries require name and address")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("config: duplicate pool name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nccore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
worker_processes = 2
stats_address = "127.0.0.1:9000"

[[pools]]
name = "cache"
address = "127.0.0.1:11211"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultWorkerShutdownTimeout, cfg.WorkerShutdownTimeout.Duration())
	require.Equal(t, DefaultSamplerInterval, cfg.SamplerInterval.Duration())
	require.Equal(t, DefaultRegionSize, cfg.RegionSize)
	require.Equal(t, DefaultRespawnMaxAttempts, cfg.Respawn.MaxAttempts)
	require.False(t, cfg.HasGID)
	require.Len(t, cfg.Pools, 1)
	require.Equal(t, "cache", cfg.Pools[0].Name)
}

func TestLoad_ExplicitDurationsAndGID(t *testing.T) {
	path := writeConfig(t, `
worker_processes = 4
worker_shutdown_timeout = 5
sampler_interval = 2
gid = 0
stats_address = "127.0.0.1:9000"

[respawn]
max_attempts = 3
window = 60
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.WorkerShutdownTimeout.Duration())
	require.Equal(t, 2*time.Second, cfg.SamplerInterval.Duration())
	require.Equal(t, 60*time.Second, cfg.Respawn.Window.Duration())
	require.True(t, cfg.HasGID, "gid = 0 is an explicit value, distinct from omitted")
}

func TestLoad_RejectsMissingWorkerProcesses(t *testing.T) {
	path := writeConfig(t, `stats_address = "127.0.0.1:9000"`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMissingStatsAddress(t *testing.T) {
	path := writeConfig(t, `worker_processes = 1`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsDuplicatePoolNames(t *testing.T) {
	path := writeConfig(t, `
worker_processes = 1
stats_address = "127.0.0.1:9000"

[[pools]]
name = "cache"
address = "127.0.0.1:11211"

[[pools]]
name = "cache"
address = "127.0.0.1:11212"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("30")))
	require.Equal(t, 30*time.Second, d.Duration())
	require.Error(t, (&Duration{}).UnmarshalText([]byte("not-a-number")))
}

//go:build linux

package supervisor

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/joeycumines/nccore/internal/config"
	"github.com/joeycumines/nccore/internal/control"
	"github.com/joeycumines/nccore/internal/telemetry"
)

// IsWorker reports whether the current process was re-exec'd into the
// worker role, per the reserved environment variables spawn.go sets.
func IsWorker() bool {
	return os.Getenv(EnvRole) == RoleWorker
}

// WorkerEnv is everything a worker's main() needs, reconstructed from the
// fixed fd layout and reserved environment variables spawn.go establishes
// across the re-exec.
type WorkerEnv struct {
	Slot       int
	ConfigPath string
	Cfg        *config.Config
	Channel    *control.Channel
	Region     *telemetry.Region
	Listeners  []*net.TCPListener // one per Cfg.Pools entry, same order
}

// LoadWorkerEnv reads NCCORE_SLOT/NCCORE_CONFIG, reparses the config file
// (workers need their own Pool name/address list; they never bind, only
// wrap the fds inherited via ExtraFiles), and reconstructs the control
// channel, telemetry region and pool listeners from their fixed fd
// offsets.
func LoadWorkerEnv() (*WorkerEnv, error) {
	slotStr := os.Getenv(EnvSlot)
	slot, err := strconv.Atoi(slotStr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: invalid %s=%q: %w", EnvSlot, slotStr, err)
	}
	configPath := os.Getenv(EnvConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	ch := &control.Channel{MasterFD: -1, WorkerFD: ChannelFD}
	region, err := telemetry.OpenRegion(RegionFD, cfg.RegionSize)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open telemetry region: %w", err)
	}

	listeners := make([]*net.TCPListener, 0, len(cfg.Pools))
	for i := range cfg.Pools {
		f := os.NewFile(uintptr(ListenerFD(i)), fmt.Sprintf("pool-listener-%d", i))
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("supervisor: reconstruct listener %d: %w", i, err)
		}
		_ = f.Close() // net.FileListener dups; close our copy same as SocketHandoff does
		tcpLn, ok := ln.(*net.TCPListener)
		if !ok {
			return nil, fmt.Errorf("supervisor: listener %d is not TCP", i)
		}
		listeners = append(listeners, tcpLn)
	}

	return &WorkerEnv{
		Slot:       slot,
		ConfigPath: configPath,
		Cfg:        cfg,
		Channel:    ch,
		Region:     region,
		Listeners:  listeners,
	}, nil
}

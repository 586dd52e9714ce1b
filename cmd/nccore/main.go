// Command nccore is the process-supervision and event-dispatch core: a
// single binary that re-execs itself into worker role, per
// internal/supervisor's re-exec-as-fork design.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/joeycumines/nccore/internal/config"
	"github.com/joeycumines/nccore/internal/logging"
	"github.com/joeycumines/nccore/internal/supervisor"
	"github.com/joeycumines/nccore/internal/telemetry"
	"github.com/joeycumines/nccore/internal/worker"
	"github.com/joeycumines/nccore/pkg/proxyiface"
	"github.com/joeycumines/nccore/pkg/proxyiface/refimpl"
)

func main() {
	// GOMAXPROCS must track the cgroup CPU quota, not the host's full core
	// count, in every role: both master and worker run inside the same
	// container limits. Quiet by default; logging isn't set up yet this
	// early in either role.
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		fmt.Fprintln(os.Stderr, "nccore: GOMAXPROCS:", err)
	}

	configPath := flag.String("config", "/etc/nccore/nccore.toml", "path to the TOML configuration file")
	flag.Parse()

	var err error
	if supervisor.IsWorker() {
		err = runWorker()
	} else {
		err = runMaster(*configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "nccore:", err)
		os.Exit(1)
	}
}

func runMaster(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sink, err := logging.Open(cfg.LogPath, parseLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer sink.Close()

	m := supervisor.New(cfg, configPath, sink)
	if err := m.Run(); err != nil {
		return err
	}
	os.Exit(m.ExitCode())
	return nil
}

// runWorker reconstructs everything the master handed this process across
// the re-exec — control channel, telemetry region, pool listeners — and
// runs the worker's own event loop until it drains and exits.
func runWorker() error {
	env, err := supervisor.LoadWorkerEnv()
	if err != nil {
		return err
	}
	sink, err := logging.Open(env.Cfg.LogPath, parseLevel(env.Cfg.LogLevel))
	if err != nil {
		return err
	}
	defer sink.Close()

	pools := make([]proxyiface.Pool, 0, len(env.Cfg.Pools))
	for i, p := range env.Cfg.Pools {
		if i >= len(env.Listeners) {
			break
		}
		pools = append(pools, refimpl.AdoptPool(p.Name, p.Address, env.Listeners[i]))
	}
	ctx := refimpl.NewContext(pools...)

	w := worker.New(worker.Config{
		Context:         ctx,
		Channel:         env.Channel,
		Region:          env.Region,
		LogSink:         sink,
		Log:             sink.Logger(),
		SampleEvery:     env.Cfg.SamplerInterval.Duration(),
		ShutdownTimeout: env.Cfg.WorkerShutdownTimeout.Duration(),
		Meta: telemetry.WorkerMeta{
			Service: "nccore",
			Source:  "worker",
			PID:     os.Getpid(),
		},
		NEvent: 256,
	})
	return w.Run()
}

// parseLevel maps a config string to a logiface.Level, defaulting to
// Informational when empty or unrecognized (spec.md's log_level option has
// no defined grammar beyond the syslog names it lists).
func parseLevel(s string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emerg", "emergency":
		return logging.LevelEmergency
	case "alert":
		return logging.LevelAlert
	case "crit", "critical":
		return logging.LevelCritical
	case "err", "error":
		return logging.LevelError
	case "warn", "warning":
		return logging.LevelWarning
	case "notice":
		return logging.LevelNotice
	case "info", "informational", "":
		return logging.LevelInformational
	case "debug":
		return logging.LevelDebug
	case "trace":
		return logging.LevelTrace
	default:
		return logging.LevelInformational
	}
}

// Package launch starts the worker processes of one run, locally or over
// ssh, and feeds each of them the rendezvous contract via environment.
package launch

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/okapi-labs/worldctl/internal/config"
	"github.com/okapi-labs/worldctl/internal/observability"
	"github.com/okapi-labs/worldctl/internal/world"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ModeLocal = "local"
	ModeSSH   = "ssh"
)

// workerSpec is one planned worker: which slot it fills, how it is
// started, and which rendezvous address it dials.
type workerSpec struct {
	Slot     int
	Mode     string
	DialAddr string
	Runner   Runner
}

type Launcher struct {
	cfg    config.LaunchConfig
	logger zerolog.Logger

	// localAddr is the coordinator's bound address for same-host workers;
	// remote workers dial cfg.AdvertiseAddr instead.
	localAddr string
}

func New(cfg config.LaunchConfig, localAddr string) *Launcher {
	return &Launcher{
		cfg:       cfg,
		logger:    log.With().Str("component", "launch").Logger(),
		localAddr: localAddr,
	}
}

// specs plans the slot assignment: local slots first, then each remote
// host's slots in config order.
func (l *Launcher) specs() []workerSpec {
	remote := 0
	for _, host := range l.cfg.Hosts {
		remote += host.Slots
	}
	local := l.cfg.WorldSize - remote

	specs := make([]workerSpec, 0, l.cfg.WorldSize)
	slot := 0
	for ; slot < local; slot++ {
		specs = append(specs, workerSpec{
			Slot:     slot,
			Mode:     ModeLocal,
			DialAddr: l.localAddr,
			Runner:   LocalRunner{},
		})
	}
	for _, host := range l.cfg.Hosts {
		runner := SSHRunner{
			Host:    host.Addr,
			User:    host.User,
			KeyPath: host.KeyFile,
		}
		for i := 0; i < host.Slots; i++ {
			specs = append(specs, workerSpec{
				Slot:     slot,
				Mode:     ModeSSH,
				DialAddr: l.cfg.AdvertiseAddr,
				Runner:   runner,
			})
			slot++
		}
	}
	return specs
}

// workerEnv builds the rendezvous contract for one slot.
func (l *Launcher) workerEnv(slot int, dialAddr string) []string {
	env := []string{
		world.EnvRendezvousAddr + "=" + dialAddr,
		world.EnvWorldSize + "=" + strconv.Itoa(l.cfg.WorldSize),
		world.EnvSlot + "=" + strconv.Itoa(slot),
		world.EnvLaunchToken + "=" + l.cfg.LaunchToken,
	}
	if l.cfg.JoinWindowSeconds > 0 {
		// Workers wait for the welcome as long as the coordinator
		// waits for joins.
		env = append(env, world.EnvJoinTimeout+"="+strconv.Itoa(l.cfg.JoinWindowSeconds))
	}
	if l.cfg.TLS.Enabled {
		env = append(env, world.EnvTLSCAFile+"="+l.cfg.TLS.CAFile)
		if l.cfg.TLS.ServerName != "" {
			env = append(env, world.EnvTLSServerName+"="+l.cfg.TLS.ServerName)
		}
		if l.cfg.TLS.Mutual {
			env = append(env,
				world.EnvTLSCertFile+"="+l.cfg.TLS.WorkerCertFile,
				world.EnvTLSKeyFile+"="+l.cfg.TLS.WorkerKeyFile,
			)
		}
	}
	return env
}

// Run starts every worker and blocks until all have exited. Worker stdout
// passes through unmodified; stderr is relayed line by line through the
// launcher log with the worker's rank.
func (l *Launcher) Run(ctx context.Context) error {
	specs := l.specs()

	var wg sync.WaitGroup
	errs := make([]error, len(specs))
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec workerSpec) {
			defer wg.Done()
			l.logger.Info().
				Int("slot", spec.Slot).
				Str("mode", spec.Mode).
				Str("command", l.cfg.Command).
				Msg("starting worker")
			observability.RecordWorkerSpawned(spec.Mode)

			stderr := newLineWriter(l.logger, spec.Slot)
			err := spec.Runner.RunStreaming(
				ctx,
				l.cfg.Command,
				l.cfg.Args,
				l.workerEnv(spec.Slot, spec.DialAddr),
				os.Stdout,
				stderr,
			)
			stderr.Flush()
			if err != nil {
				errs[i] = fmt.Errorf("worker slot %d (%s): %w", spec.Slot, spec.Mode, err)
			}
		}(i, spec)
	}
	wg.Wait()

	failed := 0
	var first error
	for _, err := range errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
			l.logger.Error().Err(err).Msg("worker failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d workers failed: %w", failed, len(specs), first)
	}
	return nil
}

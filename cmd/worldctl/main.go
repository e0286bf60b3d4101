package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/okapi-labs/worldctl/internal/config"
	"github.com/okapi-labs/worldctl/internal/launch"
	"github.com/okapi-labs/worldctl/internal/observability"
	"github.com/okapi-labs/worldctl/internal/rendezvous"
	"github.com/okapi-labs/worldctl/internal/status"
	"github.com/rs/zerolog/log"
)

func main() {
	observability.InitLogger("worldctl")

	configPath := flag.String("config", "worldctl.toml", "launch plan file")
	np := flag.Int("np", 0, "override world size")
	flag.Parse()

	cfg, hostfilePath, err := loadLaunchPlan(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load launch plan")
	}
	if *np > 0 {
		cfg.WorldSize = *np
	}
	if args := flag.Args(); len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}
	if hostfilePath != "" {
		hosts, err := config.LoadHostfile(hostfilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load hostfile")
		}
		cfg.Hosts = hosts
	}
	if err := config.ValidateLaunchConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid launch plan")
	}
	if cfg.LaunchToken == "" {
		cfg.LaunchToken = newLaunchToken()
	}
	log.Info().Str("path", *configPath).Int("world_size", cfg.WorldSize).Msg("loaded launch plan")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator, err := rendezvous.New(rendezvous.Config{
		ListenAddr: cfg.RendezvousAddr,
		Size:       cfg.WorldSize,
		Token:      cfg.LaunchToken,
		JoinWindow: time.Duration(cfg.JoinWindowSeconds) * time.Second,
		TLS: rendezvous.ServerTLS{
			Enabled:  cfg.TLS.Enabled,
			Mutual:   cfg.TLS.Mutual,
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			CAFile:   cfg.TLS.CAFile,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start coordinator")
	}
	defer coordinator.Close()
	coordinator.Serve()
	log.Info().Str("addr", coordinator.Addr()).Msg("rendezvous listening")

	var (
		mu     sync.Mutex
		roster []string
	)
	if cfg.StatusAddr != "" {
		server := status.NewServer(cfg.StatusAddr, cfg.CorsOrigins, func() status.Snapshot {
			mu.Lock()
			defer mu.Unlock()
			return status.Snapshot{
				WorldSize: cfg.WorldSize,
				Formed:    roster != nil,
				Roster:    roster,
			}
		})
		go func() {
			if err := server.Serve(); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
		log.Info().Str("addr", cfg.StatusAddr).Msg("status surface listening")
	}

	formation := make(chan error, 1)
	go func() {
		formed, err := coordinator.Wait(ctx)
		if err != nil {
			formation <- err
			return
		}
		mu.Lock()
		roster = formed
		mu.Unlock()
		formation <- nil
	}()

	if err := launch.New(cfg, coordinator.Addr()).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("launch failed")
	}
	if err := <-formation; err != nil {
		log.Fatal().Err(err).Msg("world never formed")
	}
	log.Info().Int("world_size", cfg.WorldSize).Msg("run complete")
}

func newLaunchToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal().Err(err).Msg("failed to generate launch token")
	}
	return hex.EncodeToString(buf)
}

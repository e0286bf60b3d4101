package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/okapi-labs/worldctl/internal/config"
)

// worldctl plan file key mapping to launch settings.
type fileConfig struct {
	WorldSize         int           `toml:"world_size"`
	Command           string        `toml:"command"`
	Args              []string      `toml:"args"`
	RendezvousAddr    string        `toml:"rendezvous_addr"`
	AdvertiseAddr     string        `toml:"advertise_addr"`
	StatusAddr        string        `toml:"status_addr"`
	CorsOrigins       []string      `toml:"cors_origins"`
	LaunchToken       string        `toml:"launch_token"`
	JoinWindowSeconds int           `toml:"join_window_seconds"`
	Hostfile          string        `toml:"hostfile"`
	TLS               fileTLSConfig `toml:"tls"`
}

type fileTLSConfig struct {
	Enabled        bool   `toml:"enabled"`
	Mutual         bool   `toml:"mutual"`
	CertFile       string `toml:"cert_file"`
	KeyFile        string `toml:"key_file"`
	CAFile         string `toml:"ca_file"`
	ServerName     string `toml:"server_name"`
	WorkerCertFile string `toml:"worker_cert_file"`
	WorkerKeyFile  string `toml:"worker_key_file"`
}

// loadLaunchPlan overlays explicitly-set file keys onto the defaults. The
// hostfile, if named, is loaded separately and merged by the caller.
func loadLaunchPlan(path string) (config.LaunchConfig, string, error) {
	cfg := config.DefaultLaunchConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.LaunchConfig{}, "", fmt.Errorf("load launch plan: %w", err)
	}

	if meta.IsDefined("world_size") {
		cfg.WorldSize = raw.WorldSize
	}
	if meta.IsDefined("command") {
		cfg.Command = strings.TrimSpace(raw.Command)
	}
	if meta.IsDefined("args") {
		cfg.Args = raw.Args
	}
	if meta.IsDefined("rendezvous_addr") {
		cfg.RendezvousAddr = strings.TrimSpace(raw.RendezvousAddr)
	}
	if meta.IsDefined("advertise_addr") {
		cfg.AdvertiseAddr = strings.TrimSpace(raw.AdvertiseAddr)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("launch_token") {
		cfg.LaunchToken = raw.LaunchToken
	}
	if meta.IsDefined("join_window_seconds") {
		cfg.JoinWindowSeconds = raw.JoinWindowSeconds
	}
	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "worker_cert_file") {
		cfg.TLS.WorkerCertFile = strings.TrimSpace(raw.TLS.WorkerCertFile)
	}
	if meta.IsDefined("tls", "worker_key_file") {
		cfg.TLS.WorkerKeyFile = strings.TrimSpace(raw.TLS.WorkerKeyFile)
	}

	hostfilePath := ""
	if meta.IsDefined("hostfile") {
		hostfilePath = strings.TrimSpace(raw.Hostfile)
	}
	return cfg, hostfilePath, nil
}

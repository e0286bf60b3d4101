package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// LaunchConfig is one launch plan: how many workers, what to run, and
// where they rendezvous.
type LaunchConfig struct {
	WorldSize         int
	Command           string
	Args              []string
	RendezvousAddr    string
	AdvertiseAddr     string
	StatusAddr        string
	CorsOrigins       []string
	LaunchToken       string
	JoinWindowSeconds int
	TLS               TLSConfig
	Hosts             []HostConfig
}

// DefaultLaunchConfig is the base a plan file overlays.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		WorldSize:         1,
		RendezvousAddr:    "127.0.0.1:0",
		JoinWindowSeconds: 60,
	}
}

type TLSConfig struct {
	Enabled    bool
	Mutual     bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string
	// Worker-side identity for mutual TLS; paths must be valid on every
	// launch target.
	WorkerCertFile string
	WorkerKeyFile  string
}

// HostConfig is one remote launch target reached over ssh. Slots is how
// many workers the host runs; slots not covered by any host run locally.
type HostConfig struct {
	Addr    string `toml:"addr"`
	User    string `toml:"user"`
	KeyFile string `toml:"key_file"`
	Slots   int    `toml:"slots"`
}

type hostfile struct {
	Hosts []HostConfig `toml:"hosts"`
}

// LoadHostfile reads the remote launch targets of a multi-host run.
func LoadHostfile(path string) ([]HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostfile load failed (%s): %w", path, err)
	}
	var hf hostfile
	if err := toml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("hostfile parse failed (%s): %w", path, err)
	}
	for i, host := range hf.Hosts {
		if err := ValidateHostEntry(host); err != nil {
			return nil, fmt.Errorf("hosts[%d] invalid: %w", i, err)
		}
	}
	return hf.Hosts, nil
}

func ValidateLaunchConfig(cfg LaunchConfig) error {
	if cfg.WorldSize < 1 {
		return fmt.Errorf("world_size must be >= 1, got %d", cfg.WorldSize)
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("launch config missing command")
	}
	if cfg.JoinWindowSeconds < 1 {
		return fmt.Errorf("join_window_seconds must be >= 1, got %d", cfg.JoinWindowSeconds)
	}
	remoteSlots := 0
	for i, host := range cfg.Hosts {
		if err := ValidateHostEntry(host); err != nil {
			return fmt.Errorf("hosts[%d] invalid: %w", i, err)
		}
		remoteSlots += host.Slots
	}
	if remoteSlots > cfg.WorldSize {
		return fmt.Errorf("host slots (%d) exceed world_size (%d)", remoteSlots, cfg.WorldSize)
	}
	if remoteSlots > 0 {
		if strings.TrimSpace(cfg.AdvertiseAddr) == "" {
			return fmt.Errorf("advertise_addr required when remote hosts are configured")
		}
		if loopbackOnly(cfg.RendezvousAddr) {
			return fmt.Errorf("rendezvous_addr %q is loopback-only; remote hosts cannot reach it", cfg.RendezvousAddr)
		}
	}
	if cfg.TLS.Enabled {
		if strings.TrimSpace(cfg.TLS.CertFile) == "" {
			return fmt.Errorf("tls.cert_file required when tls is enabled")
		}
		if strings.TrimSpace(cfg.TLS.KeyFile) == "" {
			return fmt.Errorf("tls.key_file required when tls is enabled")
		}
	}
	if cfg.TLS.Mutual {
		if !cfg.TLS.Enabled {
			return fmt.Errorf("tls.mutual requires tls.enabled")
		}
		if strings.TrimSpace(cfg.TLS.CAFile) == "" {
			return fmt.Errorf("tls.ca_file required for mutual tls")
		}
		if strings.TrimSpace(cfg.TLS.WorkerCertFile) == "" || strings.TrimSpace(cfg.TLS.WorkerKeyFile) == "" {
			return fmt.Errorf("tls.worker_cert_file and tls.worker_key_file required for mutual tls")
		}
	}
	return nil
}

// loopbackOnly reports whether addr binds the loopback interface only.
// An empty host (":7777") binds every interface and is fine.
func loopbackOnly(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func ValidateHostEntry(host HostConfig) error {
	if strings.TrimSpace(host.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(host.User) == "" {
		return fmt.Errorf("user is required")
	}
	if strings.TrimSpace(host.KeyFile) == "" {
		return fmt.Errorf("key_file is required")
	}
	if host.Slots < 1 {
		return fmt.Errorf("slots must be >= 1")
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadHostfile(t *testing.T) {
	path := writeFile(t, "hosts.toml", `
[[hosts]]
addr = "10.0.0.2:22"
user = "worldctl"
key_file = "/etc/worldctl/id_ed25519"
slots = 2

[[hosts]]
addr = "10.0.0.3"
user = "worldctl"
key_file = "/etc/worldctl/id_ed25519"
slots = 1
`)

	hosts, err := LoadHostfile(path)
	if err != nil {
		t.Fatalf("load hostfile: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
	if hosts[0].Addr != "10.0.0.2:22" || hosts[0].Slots != 2 {
		t.Fatalf("hosts[0] mismatch: %+v", hosts[0])
	}
	if hosts[1].Addr != "10.0.0.3" || hosts[1].Slots != 1 {
		t.Fatalf("hosts[1] mismatch: %+v", hosts[1])
	}
}

func TestLoadHostfileRejectsInvalidEntry(t *testing.T) {
	path := writeFile(t, "hosts.toml", `
[[hosts]]
addr = "10.0.0.2:22"
slots = 1
`)
	_, err := LoadHostfile(path)
	if err == nil || !strings.Contains(err.Error(), "user is required") {
		t.Fatalf("expected user error, got %v", err)
	}
}

func TestValidateLaunchConfigDefaultsAreValidWithCommand(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	if err := ValidateLaunchConfig(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsMissingCommand(t *testing.T) {
	cfg := DefaultLaunchConfig()
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
}

func TestValidateRejectsExcessHostSlots(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.WorldSize = 2
	cfg.AdvertiseAddr = "10.0.0.1:7777"
	cfg.Hosts = []HostConfig{
		{Addr: "10.0.0.2:22", User: "u", KeyFile: "k", Slots: 3},
	}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "exceed world_size") {
		t.Fatalf("expected slot excess error, got %v", err)
	}
}

func TestValidateRequiresAdvertiseAddrForRemoteHosts(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.WorldSize = 2
	cfg.Hosts = []HostConfig{
		{Addr: "10.0.0.2:22", User: "u", KeyFile: "k", Slots: 1},
	}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "advertise_addr") {
		t.Fatalf("expected advertise_addr error, got %v", err)
	}
}

func TestValidateRejectsLoopbackRendezvousWithRemoteHosts(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.WorldSize = 2
	cfg.AdvertiseAddr = "10.0.0.1:7777"
	cfg.Hosts = []HostConfig{
		{Addr: "10.0.0.2:22", User: "u", KeyFile: "k", Slots: 1},
	}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Fatalf("expected loopback rendezvous error, got %v", err)
	}

	cfg.RendezvousAddr = ":7777"
	if err := ValidateLaunchConfig(cfg); err != nil {
		t.Fatalf("all-interface listen should validate: %v", err)
	}
	cfg.RendezvousAddr = "localhost:7777"
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Fatalf("expected loopback rendezvous error for localhost, got %v", err)
	}
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.TLS = TLSConfig{Enabled: true, CertFile: "/x.crt"}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Fatalf("expected key_file error, got %v", err)
	}
}

func TestValidateRejectsMutualWithoutCA(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: "/x.crt", KeyFile: "/x.key"}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "ca_file") {
		t.Fatalf("expected ca_file error, got %v", err)
	}
}

func TestValidateRejectsMutualWithoutWorkerIdentity(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.Command = "./hello"
	cfg.TLS = TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: "/x.crt", KeyFile: "/x.key", CAFile: "/ca.crt",
	}
	if err := ValidateLaunchConfig(cfg); err == nil || !strings.Contains(err.Error(), "worker_cert_file") {
		t.Fatalf("expected worker identity error, got %v", err)
	}
}

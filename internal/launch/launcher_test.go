package launch

import (
	"strings"
	"testing"

	"github.com/okapi-labs/worldctl/internal/config"
	"github.com/rs/zerolog"
)

func TestSpecsPartitionLocalThenRemote(t *testing.T) {
	cfg := config.LaunchConfig{
		WorldSize:     4,
		Command:       "./hello",
		AdvertiseAddr: "10.0.0.1:7777",
		Hosts: []config.HostConfig{
			{Addr: "10.0.0.2:22", User: "u", KeyFile: "k", Slots: 1},
			{Addr: "10.0.0.3:22", User: "u", KeyFile: "k", Slots: 1},
		},
	}
	l := New(cfg, "127.0.0.1:45000")
	specs := l.specs()

	if len(specs) != 4 {
		t.Fatalf("expected 4 specs, got %d", len(specs))
	}
	for i, spec := range specs {
		if spec.Slot != i {
			t.Fatalf("specs[%d].Slot = %d", i, spec.Slot)
		}
	}
	if specs[0].Mode != ModeLocal || specs[1].Mode != ModeLocal {
		t.Fatalf("slots 0,1 should be local: %+v", specs[:2])
	}
	if specs[2].Mode != ModeSSH || specs[3].Mode != ModeSSH {
		t.Fatalf("slots 2,3 should be ssh: %+v", specs[2:])
	}
	if specs[0].DialAddr != "127.0.0.1:45000" {
		t.Fatalf("local worker should dial bound addr, got %q", specs[0].DialAddr)
	}
	if specs[2].DialAddr != "10.0.0.1:7777" {
		t.Fatalf("remote worker should dial advertise addr, got %q", specs[2].DialAddr)
	}
}

func TestWorkerEnvCarriesContract(t *testing.T) {
	cfg := config.LaunchConfig{
		WorldSize:         3,
		Command:           "./hello",
		LaunchToken:       "tok",
		JoinWindowSeconds: 60,
	}
	l := New(cfg, "127.0.0.1:45000")
	env := l.workerEnv(2, "127.0.0.1:45000")

	want := []string{
		"WORLDCTL_RENDEZVOUS_ADDR=127.0.0.1:45000",
		"WORLDCTL_WORLD_SIZE=3",
		"WORLDCTL_SLOT=2",
		"WORLDCTL_LAUNCH_TOKEN=tok",
		"WORLDCTL_JOIN_TIMEOUT=60",
	}
	if len(env) != len(want) {
		t.Fatalf("env = %v, want %v", env, want)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("env[%d] = %q, want %q", i, env[i], want[i])
		}
	}
}

func TestWorkerEnvCarriesTLSContract(t *testing.T) {
	cfg := config.LaunchConfig{
		WorldSize: 1,
		Command:   "./hello",
		TLS: config.TLSConfig{
			Enabled:        true,
			Mutual:         true,
			CAFile:         "/pki/ca.crt",
			ServerName:     "coordinator",
			WorkerCertFile: "/pki/worker.crt",
			WorkerKeyFile:  "/pki/worker.key",
		},
	}
	l := New(cfg, "127.0.0.1:45000")
	env := strings.Join(l.workerEnv(0, "127.0.0.1:45000"), "\n")

	for _, want := range []string{
		"WORLDCTL_TLS_CA_FILE=/pki/ca.crt",
		"WORLDCTL_TLS_SERVER_NAME=coordinator",
		"WORLDCTL_TLS_CERT_FILE=/pki/worker.crt",
		"WORLDCTL_TLS_KEY_FILE=/pki/worker.key",
	} {
		if !strings.Contains(env, want) {
			t.Fatalf("env missing %q:\n%s", want, env)
		}
	}
}

func TestRemoteCommandEscapesEnvAndArgs(t *testing.T) {
	cmd := remoteCommand("./hello", []string{"a b"}, []string{"WORLDCTL_SLOT=1"})
	want := "env 'WORLDCTL_SLOT=1' './hello' 'a b'"
	if cmd != want {
		t.Fatalf("remote command = %q, want %q", cmd, want)
	}
}

func TestShellEscapeQuotes(t *testing.T) {
	if got := shellEscape("it's"); got != `'it'"'"'s'` {
		t.Fatalf("escape = %q", got)
	}
	if got := shellEscape(""); got != "''" {
		t.Fatalf("empty escape = %q", got)
	}
}

func TestLineWriterSplitsAndFlushes(t *testing.T) {
	var lines []string
	hook := zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
		lines = append(lines, msg)
	})
	logger := zerolog.New(nil).Hook(hook)

	w := newLineWriter(logger, 1)
	if _, err := w.Write([]byte("first\nsec")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("ond\ntail")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Flush()

	want := []string{"first", "second", "tail"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

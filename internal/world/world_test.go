package world

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okapi-labs/worldctl/internal/testutil/tlstest"
)

func clearLaunchEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvRendezvousAddr, EnvWorldSize, EnvSlot, EnvLaunchToken, EnvJoinTimeout,
		EnvTLSCAFile, EnvTLSCertFile, EnvTLSKeyFile, EnvTLSServerName,
		envOMPIRank, envOMPISize,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestStandaloneRunIsSingletonWorld(t *testing.T) {
	clearLaunchEnv(t)

	w, err := Join(context.Background(), Options{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer w.Close()

	if w.Rank() != 0 || w.Size() != 1 {
		t.Fatalf("expected rank 0 of 1, got %d of %d", w.Rank(), w.Size())
	}
	host, err := os.Hostname()
	if err != nil {
		t.Fatalf("hostname: %v", err)
	}
	want := fmt.Sprintf("Hello, World! I am process 0 of 1 on %s.", host)
	if w.Greeting() != want {
		t.Fatalf("greeting = %q, want %q", w.Greeting(), want)
	}
	if w.Roster() != nil {
		t.Fatalf("singleton world should have no roster, got %v", w.Roster())
	}
}

func TestJoinAdoptsOpenMPIEnv(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(envOMPIRank, "2")
	t.Setenv(envOMPISize, "4")

	w, err := Join(context.Background(), Options{Hostname: "node-2"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer w.Close()
	if w.Rank() != 2 || w.Size() != 4 {
		t.Fatalf("expected rank 2 of 4, got %d of %d", w.Rank(), w.Size())
	}
	if got := w.Greeting(); got != "Hello, World! I am process 2 of 4 on node-2." {
		t.Fatalf("greeting = %q", got)
	}
}

func TestJoinRejectsInvalidOpenMPIEnv(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(envOMPIRank, "4")
	t.Setenv(envOMPISize, "4")

	_, err := Join(context.Background(), Options{Hostname: "node-4"})
	if !errors.Is(err, ErrContextInit) {
		t.Fatalf("expected ErrContextInit for rank >= size, got %v", err)
	}
}

func TestFromEnvAbsent(t *testing.T) {
	clearLaunchEnv(t)
	_, ok, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no assignment without rendezvous addr")
	}
}

func TestFromEnvComplete(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(EnvRendezvousAddr, "127.0.0.1:7777")
	t.Setenv(EnvWorldSize, "4")
	t.Setenv(EnvSlot, "3")
	t.Setenv(EnvLaunchToken, "tok")
	t.Setenv(EnvTLSCAFile, "/etc/worldctl/ca.crt")

	a, ok, err := FromEnv()
	if err != nil || !ok {
		t.Fatalf("from env: ok=%v err=%v", ok, err)
	}
	if a.Addr != "127.0.0.1:7777" || a.Size != 4 || a.Slot != 3 || a.Token != "tok" {
		t.Fatalf("assignment mismatch: %+v", a)
	}
	if a.TLS.CAFile != "/etc/worldctl/ca.crt" {
		t.Fatalf("tls ca not carried: %+v", a.TLS)
	}
}

func TestFromEnvCarriesJoinTimeout(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(EnvRendezvousAddr, "127.0.0.1:7777")
	t.Setenv(EnvWorldSize, "2")
	t.Setenv(EnvSlot, "1")
	t.Setenv(EnvJoinTimeout, "90")

	a, ok, err := FromEnv()
	if err != nil || !ok {
		t.Fatalf("from env: ok=%v err=%v", ok, err)
	}
	if a.JoinTimeout != 90*time.Second {
		t.Fatalf("join timeout = %v, want 90s", a.JoinTimeout)
	}
}

func TestFromEnvRejectsBadJoinTimeout(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(EnvRendezvousAddr, "127.0.0.1:7777")
	t.Setenv(EnvWorldSize, "2")
	t.Setenv(EnvSlot, "1")
	t.Setenv(EnvJoinTimeout, "0")

	_, _, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), EnvJoinTimeout) {
		t.Fatalf("expected join timeout error, got %v", err)
	}
}

func TestFromEnvMissingSlot(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(EnvRendezvousAddr, "127.0.0.1:7777")
	t.Setenv(EnvWorldSize, "4")

	_, _, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), EnvSlot) {
		t.Fatalf("expected missing slot error, got %v", err)
	}
}

func TestFromEnvSlotOutOfRange(t *testing.T) {
	clearLaunchEnv(t)
	t.Setenv(EnvRendezvousAddr, "127.0.0.1:7777")
	t.Setenv(EnvWorldSize, "2")
	t.Setenv(EnvSlot, "2")

	_, _, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected slot range error, got %v", err)
	}
}

func TestJoinFailsWhenCoordinatorUnreachable(t *testing.T) {
	clearLaunchEnv(t)
	_, err := Join(context.Background(), Options{
		Assignment:  &Assignment{Addr: "127.0.0.1:1", Size: 2, Slot: 0, Token: "tok"},
		Hostname:    "node-0",
		JoinTimeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, ErrContextInit) {
		t.Fatalf("expected ErrContextInit, got %v", err)
	}
}

func TestJoinUsesAssignmentTimeout(t *testing.T) {
	clearLaunchEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	// Accept but never answer, so the join can only end by timeout.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	_, err = Join(context.Background(), Options{
		Assignment: &Assignment{
			Addr:        ln.Addr().String(),
			Size:        2,
			Slot:        0,
			Token:       "tok",
			JoinTimeout: 300 * time.Millisecond,
		},
		Hostname: "node-0",
	})
	if !errors.Is(err, ErrContextInit) {
		t.Fatalf("expected ErrContextInit, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("assignment timeout not honored, join took %v", elapsed)
	}
}

func TestClientTLSPartialKeyPair(t *testing.T) {
	c := ClientTLS{CertFile: "only-cert.crt"}
	if _, err := c.config(); !errors.Is(err, ErrTLSKeyPairPartial) {
		t.Fatalf("expected ErrTLSKeyPairPartial, got %v", err)
	}
}

// startTLSEchoListener accepts one connection and reads until the peer
// hangs up, which is enough to drive the client handshake.
func startTLSEchoListener(t *testing.T, certFile, keyFile string) net.Listener {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestDialDefaultsServerNameFromAddr(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "worldctl-test-ca")
	certFile, keyFile := ca.IssueCoordinatorCert(t, dir, "coordinator", nil, []net.IP{net.ParseIP("127.0.0.1")})
	ln := startTLSEchoListener(t, certFile, keyFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx, Assignment{
		Addr: ln.Addr().String(),
		TLS:  ClientTLS{CAFile: ca.CAFile()},
	})
	if err != nil {
		t.Fatalf("dial without explicit server name: %v", err)
	}
	conn.Close()
}

func TestDialHonorsExplicitServerName(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "worldctl-test-ca")
	certFile, keyFile := ca.IssueCoordinatorCert(t, dir, "coordinator", []string{"coordinator"}, nil)
	ln := startTLSEchoListener(t, certFile, keyFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx, Assignment{
		Addr: ln.Addr().String(),
		TLS:  ClientTLS{CAFile: ca.CAFile(), ServerName: "coordinator"},
	})
	if err != nil {
		t.Fatalf("dial with explicit server name: %v", err)
	}
	conn.Close()
}

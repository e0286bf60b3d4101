// Package world provides the execution context handle for one process in
// a cooperating group: its rank, the world size, and the hostname roster.
// The handle is constructed once at startup and owned by the caller.
package world

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/okapi-labs/worldctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ErrContextInit is the single failure category a worker surfaces: the
// ambient multi-process context exists but could not be joined.
var ErrContextInit = errors.New("world: context initialization failed")

const DefaultJoinTimeout = 30 * time.Second

// Options controls how Join resolves and reaches the coordinator.
type Options struct {
	// Assignment overrides environment resolution when non-nil.
	Assignment *Assignment
	// JoinTimeout bounds the dial plus the wait for the welcome frame.
	// Zero means the assignment's timeout, then DefaultJoinTimeout.
	JoinTimeout time.Duration
	// Hostname overrides os.Hostname, for tests.
	Hostname string
}

// World is one process's read-only view of its cooperating group.
type World struct {
	rank     int
	size     int
	hostname string
	roster   []string
	conn     net.Conn
}

// Join acquires the execution context. Resolution order: explicit
// assignment, worldctl environment, Open MPI environment, then a
// singleton world of one.
func Join(ctx context.Context, opts Options) (*World, error) {
	hostname := opts.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("%w: hostname unavailable: %v", ErrContextInit, err)
		}
		if h == "" {
			return nil, fmt.Errorf("%w: empty hostname", ErrContextInit)
		}
		hostname = h
	}

	assignment := opts.Assignment
	if assignment == nil {
		a, ok, err := FromEnv()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextInit, err)
		}
		if ok {
			assignment = &a
		}
	}

	if assignment == nil {
		if rank, size, ok, err := fromOpenMPIEnv(); ok || err != nil {
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextInit, err)
			}
			return newStatic(rank, size, hostname)
		}
		// No launcher present: a standalone run is a world of one.
		return newStatic(0, 1, hostname)
	}

	timeout := opts.JoinTimeout
	if timeout == 0 {
		timeout = assignment.JoinTimeout
	}
	if timeout == 0 {
		timeout = DefaultJoinTimeout
	}
	joinCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(joinCtx, *assignment)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrContextInit, assignment.Addr, err)
	}

	w, err := handshake(joinCtx, conn, *assignment, hostname)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

func dial(ctx context.Context, a Assignment) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.Addr)
	if err != nil {
		return nil, err
	}
	if !a.TLS.enabled() {
		return conn, nil
	}
	tlsCfg, err := a.TLS.config()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// tls.Client does not infer the server name from the dial address the
	// way tls.Dial does; default it so verification can proceed.
	if tlsCfg.ServerName == "" {
		host, _, err := net.SplitHostPort(a.Addr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		tlsCfg.ServerName = host
	}
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func handshake(ctx context.Context, conn net.Conn, a Assignment, hostname string) (*World, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextInit, err)
		}
	}

	join := protocol.Join{
		Token:    a.Token,
		Slot:     uint32(a.Slot),
		Hostname: hostname,
		PID:      uint32(os.Getpid()),
	}
	if err := protocol.EncodeJoin(conn, 1, join); err != nil {
		return nil, fmt.Errorf("%w: send join: %v", ErrContextInit, err)
	}
	log.Debug().Str("addr", a.Addr).Int("slot", a.Slot).Msg("join sent, waiting for welcome")

	f, fields, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read welcome: %v", ErrContextInit, err)
	}
	if f.Header.MessageType == protocol.MsgReject {
		reject, derr := protocol.DecodeReject(f, fields)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextInit, derr)
		}
		return nil, fmt.Errorf("%w: rejected by coordinator: %s", ErrContextInit, reject.Reason)
	}
	welcome, err := protocol.DecodeWelcome(f, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextInit, err)
	}

	// The welcome deadline no longer applies; the conn stays open until
	// Close so the coordinator can observe worker liveness.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextInit, err)
	}

	return &World{
		rank:     int(welcome.Rank),
		size:     int(welcome.WorldSize),
		hostname: hostname,
		roster:   welcome.Roster,
		conn:     conn,
	}, nil
}

func newStatic(rank, size int, hostname string) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world size %d < 1", ErrContextInit, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d out of range for world size %d", ErrContextInit, rank, size)
	}
	return &World{rank: rank, size: size, hostname: hostname}, nil
}

func (w *World) Rank() int        { return w.rank }
func (w *World) Size() int        { return w.size }
func (w *World) Hostname() string { return w.hostname }

// Roster returns the hostname of each peer, indexed by rank. It is nil
// for worlds not formed through a rendezvous.
func (w *World) Roster() []string {
	if w.roster == nil {
		return nil
	}
	out := make([]string, len(w.roster))
	copy(out, w.roster)
	return out
}

// Greeting is the fixed one-line probe output.
func (w *World) Greeting() string {
	return fmt.Sprintf("Hello, World! I am process %d of %d on %s.", w.rank, w.size, w.hostname)
}

func (w *World) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

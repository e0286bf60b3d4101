// Package rendezvous implements the launcher-side coordinator that forms
// a world: it collects one join per slot, assigns ranks, and releases all
// workers at once with the assembled roster.
package rendezvous

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/okapi-labs/worldctl/internal/observability"
	"github.com/okapi-labs/worldctl/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrWorldSizeInvalid = errors.New("rendezvous: world size must be >= 1")
	ErrJoinWindow       = errors.New("rendezvous: join window expired before world formed")
	ErrClosed           = errors.New("rendezvous: coordinator closed")
)

const DefaultJoinWindow = 60 * time.Second

// Config describes one rendezvous run. The coordinator is single-use: it
// forms exactly one world and is then done.
type Config struct {
	ListenAddr string
	Size       int
	Token      string
	// JoinWindow bounds the wait for all Size joins. Zero means
	// DefaultJoinWindow.
	JoinWindow time.Duration
	TLS        ServerTLS
}

type joined struct {
	hostname string
	conn     net.Conn
}

// Coordinator accepts joins and releases the barrier once full.
type Coordinator struct {
	cfg      Config
	listener net.Listener
	logger   zerolog.Logger

	mu        sync.Mutex
	pending   map[int]joined
	firstJoin time.Time
	closed    bool

	formed chan []string
}

// New validates cfg and starts listening. Serve must be called to begin
// accepting joins.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Size < 1 {
		return nil, ErrWorldSizeInvalid
	}
	if cfg.JoinWindow == 0 {
		cfg.JoinWindow = DefaultJoinWindow
	}

	var (
		listener net.Listener
		err      error
	)
	if cfg.TLS.enabled() {
		var tlsCfg *tls.Config
		tlsCfg, err = cfg.TLS.config()
		if err != nil {
			return nil, err
		}
		listener, err = tls.Listen("tcp", cfg.ListenAddr, tlsCfg)
	} else {
		listener, err = net.Listen("tcp", cfg.ListenAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("rendezvous: listen %s: %w", cfg.ListenAddr, err)
	}

	return &Coordinator{
		cfg:      cfg,
		listener: listener,
		logger:   log.With().Str("component", "rendezvous").Logger(),
		pending:  make(map[int]joined),
		formed:   make(chan []string, 1),
	}, nil
}

// Addr is the bound listen address, useful when ListenAddr used port 0.
func (c *Coordinator) Addr() string {
	return c.listener.Addr().String()
}

// Serve runs the accept loop in the background and returns immediately.
func (c *Coordinator) Serve() {
	go c.acceptLoop()
}

func (c *Coordinator) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			// Listener closed: either formed and done, or Close was called.
			return
		}
		go c.handleConn(conn)
	}
}

func (c *Coordinator) handleConn(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.JoinWindow)); err != nil {
		conn.Close()
		return
	}
	f, fields, err := protocol.ReadMessage(conn)
	if err != nil {
		c.logger.Warn().Err(err).Msg("unreadable join")
		observability.RecordJoin("unreadable")
		conn.Close()
		return
	}
	join, err := protocol.DecodeJoin(f, fields)
	if err != nil {
		c.reject(conn, f.Header.MessageID, "malformed join")
		return
	}

	if reason := c.admit(join, conn); reason != "" {
		c.logger.Warn().Uint32("slot", join.Slot).Str("reason", reason).Msg("join rejected")
		c.reject(conn, f.Header.MessageID, reason)
		return
	}

	c.logger.Info().
		Uint32("slot", join.Slot).
		Str("hostname", join.Hostname).
		Uint32("pid", join.PID).
		Msg("worker joined")
	observability.RecordJoin("accepted")
	c.maybeRelease()
}

// admit records the join, returning a rejection reason when invalid.
func (c *Coordinator) admit(join protocol.Join, conn net.Conn) string {
	if join.Token != c.cfg.Token {
		return "bad launch token"
	}
	slot := int(join.Slot)
	if slot < 0 || slot >= c.cfg.Size {
		return fmt.Sprintf("slot %d out of range for world size %d", slot, c.cfg.Size)
	}
	if join.Hostname == "" {
		return "empty hostname"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "coordinator closed"
	}
	if _, dup := c.pending[slot]; dup {
		return fmt.Sprintf("slot %d already joined", slot)
	}
	if len(c.pending) == 0 {
		c.firstJoin = time.Now()
	}
	c.pending[slot] = joined{hostname: join.Hostname, conn: conn}
	return ""
}

// maybeRelease sends every worker its welcome once all slots are filled.
func (c *Coordinator) maybeRelease() {
	c.mu.Lock()
	if c.closed || len(c.pending) != c.cfg.Size {
		c.mu.Unlock()
		return
	}
	roster := make([]string, c.cfg.Size)
	conns := make([]net.Conn, c.cfg.Size)
	for slot, j := range c.pending {
		roster[slot] = j.hostname
		conns[slot] = j.conn
	}
	firstJoin := c.firstJoin
	c.closed = true
	c.mu.Unlock()

	for rank, conn := range conns {
		conn.SetReadDeadline(time.Time{})
		welcome := protocol.Welcome{
			Rank:      uint32(rank),
			WorldSize: uint32(c.cfg.Size),
			Roster:    roster,
		}
		if err := protocol.EncodeWelcome(conn, uint64(rank)+1, welcome); err != nil {
			c.logger.Error().Int("rank", rank).Err(err).Msg("welcome send failed")
		}
	}

	c.logger.Info().Int("size", c.cfg.Size).Strs("roster", roster).Msg("world formed")
	observability.RecordWorldFormed(time.Since(firstJoin))
	c.listener.Close()
	c.formed <- roster
}

func (c *Coordinator) reject(conn net.Conn, messageID uint64, reason string) {
	observability.RecordJoin("rejected")
	if err := protocol.EncodeReject(conn, messageID, protocol.Reject{Reason: reason}); err != nil {
		c.logger.Debug().Err(err).Msg("reject send failed")
	}
	conn.Close()
}

// Wait blocks until the world forms, the join window expires, or ctx is
// done. On success it returns the roster indexed by rank.
func (c *Coordinator) Wait(ctx context.Context) ([]string, error) {
	timer := time.NewTimer(c.cfg.JoinWindow)
	defer timer.Stop()
	select {
	case roster := <-c.formed:
		return roster, nil
	case <-timer.C:
		c.abort("join window expired")
		return nil, fmt.Errorf("%w: %d of %d joined", ErrJoinWindow, c.joinedCount(), c.cfg.Size)
	case <-ctx.Done():
		c.abort("launch canceled")
		return nil, ctx.Err()
	}
}

func (c *Coordinator) joinedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// abort rejects every joined worker and shuts the listener down.
func (c *Coordinator) abort(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conns := make([]net.Conn, 0, len(c.pending))
	for _, j := range c.pending {
		conns = append(conns, j.conn)
	}
	c.mu.Unlock()

	c.listener.Close()
	for _, conn := range conns {
		if err := protocol.EncodeReject(conn, 0, protocol.Reject{Reason: reason}); err != nil {
			c.logger.Debug().Err(err).Msg("abort reject send failed")
		}
		conn.Close()
	}
}

// Close aborts a pending rendezvous. It is safe after formation; worker
// connections stay open in that case and are owned by the workers.
func (c *Coordinator) Close() error {
	c.abort("coordinator closed")
	return nil
}

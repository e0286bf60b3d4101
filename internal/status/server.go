// Package status exposes the launcher's HTTP surface: liveness, the
// formation state of the current run, and prometheus metrics.
package status

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/okapi-labs/worldctl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Snapshot is the launcher's view of the run at one instant.
type Snapshot struct {
	WorldSize int      `json:"world_size"`
	Formed    bool     `json:"formed"`
	Roster    []string `json:"roster,omitempty"`
}

// SnapshotFunc supplies the current run state; it must be safe for
// concurrent use.
type SnapshotFunc func() Snapshot

type Server struct {
	Addr    string
	router  *gin.Engine
	started time.Time
}

func NewServer(addr string, corsOrigins []string, snapshot SnapshotFunc) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		router:  r,
		started: time.Now(),
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})

	r.GET("/world", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot())
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve blocks; the launcher runs it in the background and does not wait
// for it on shutdown.
func (s *Server) Serve() error {
	return s.router.Run(s.Addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

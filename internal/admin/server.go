// Package admin serves the HTTP control surface of a producer or mirror:
// health, metrics, tree inspection, and optionally the WebSocket consumer
// endpoint.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/observability"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/scene"
)

const requestTimeout = 2 * time.Second

var ErrNodeNotFound = errors.New("admin: node not found")

// Source is the process the admin surface inspects.
type Source struct {
	Name    string
	Role    string
	Version string
	Ready   func() bool
	Do      func(ctx context.Context, fn func(*scene.Tree) error) error
	Stats   func() any
	// Consumers is set on producers only.
	Consumers func() []session.PeerInfo
	// WebSocket, when set, is mounted at /ws.
	WebSocket http.Handler
}

type Server struct {
	src      Source
	router   *gin.Engine
	appeared time.Time
}

func New(src Source, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(src.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{src: src, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.src.Name,
			"role":    s.src.Role,
			"version": s.src.Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.src.Ready != nil && s.src.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.appeared).String(),
			"service": s.src.Name,
			"version": s.src.Version,
		})
	})

	s.router.GET("/stats", func(c *gin.Context) {
		if s.src.Stats == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats not available"})
			return
		}
		c.JSON(http.StatusOK, s.src.Stats())
	})

	s.router.GET("/tree", func(c *gin.Context) {
		var view scene.NodeView
		err := s.do(c, func(tree *scene.Tree) error {
			view = tree.Describe()
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	s.router.GET("/nodes/:id", func(c *gin.Context) {
		raw, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil || raw == uint64(scene.EmptyID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
			return
		}
		var (
			view     scene.NodeView
			children []scene.NodeID
		)
		err = s.do(c, func(tree *scene.Tree) error {
			n, ok := tree.Find(scene.NodeID(raw))
			if !ok {
				return ErrNodeNotFound
			}
			view = n.Describe(false)
			children = n.ChildIDs()
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"node": view, "children": children})
	})

	s.router.GET("/orphans", func(c *gin.Context) {
		var orphans []scene.NodeID
		err := s.do(c, func(tree *scene.Tree) error {
			orphans = tree.Orphans()
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orphans": orphans})
	})

	if s.src.Consumers != nil {
		s.router.GET("/consumers", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"consumers": s.src.Consumers()})
		})
	}
	if s.src.WebSocket != nil {
		s.router.GET("/ws", gin.WrapH(s.src.WebSocket))
	}
}

func (s *Server) do(c *gin.Context, fn func(*scene.Tree) error) error {
	if s.src.Do == nil {
		return engine.ErrStopped
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	return s.src.Do(ctx, fn)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

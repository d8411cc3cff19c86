package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keshon/lavamux/internal/lavalink"
)

// Registry is the read side of the player manager.
type Registry interface {
	Nodes() []*lavalink.Node
	Node(id string) *lavalink.Node
	Players() []*lavalink.Player
	Player(guildID string) *lavalink.Player
}

// Server is a read-only HTTP status surface over nodes and players.
type Server struct {
	reg     Registry
	log     zerolog.Logger
	router  *gin.Engine
	started time.Time
}

func New(reg Registry, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		reg:     reg,
		log:     log.With().Str("component", "server").Logger(),
		router:  gin.New(),
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/nodes", s.listNodes)
	s.router.GET("/nodes/:id", s.getNode)
	s.router.GET("/players", s.listPlayers)
	s.router.GET("/players/:guildId", s.getPlayer)
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("status server shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

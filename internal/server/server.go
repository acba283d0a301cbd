// Package server is the HTTP adapter: request validation, JSON
// framing, and error mapping around the orchestrator. No orchestration
// logic lives here and nothing is persisted between calls.
package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"educube/internal/config"
	"educube/internal/logging"
	"educube/internal/persona"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server bundles the HTTP dependencies.
type Server struct {
	orchestrator Orchestrator
	registry     *persona.Registry
	log          *zap.Logger
}

// New builds the gin engine with all routes attached.
func New(cfg config.ServerConfig, orch Orchestrator, registry *persona.Registry) *gin.Engine {
	s := &Server{
		orchestrator: orch,
		registry:     registry,
		log:          logging.Named("server"),
	}

	g := gin.New()
	g.Use(gin.Recovery(), s.requestID(), s.accessLog())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	g.Use(cors.New(corsCfg))

	s.attachRoutes(g)
	return g
}

// requestID tags every request with a correlation id for log lines and
// the response header. Ids are fresh per request; nothing links calls.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxKeyRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

const ctxKeyRequestID = "request_id"

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		id, _ := c.Get(ctxKeyRequestID)
		s.log.Info("request",
			zap.Any("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	}
}

func (s *Server) attachRoutes(g *gin.Engine) {
	api := g.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/agent/chat", s.handleAgentChat)
	api.POST("/qa", s.handleQA)
	api.POST("/chat/init", s.handleChatInit)
	api.POST("/chat/collaborate", s.handleCollaborate)
}

// Package httpapi is the HTTP surface spec §4.1 describes: three client-
// facing routes plus the supplemented debug routes (SPEC_FULL §4.9),
// wired on top of the model mapper, load balancer, forwarder, and status
// collector.
//
// Grounded on the teacher's internal/interfaces/http — gin.Engine,
// route groups, SSE headers set via c.Header before writing the stream —
// generalized from one hand-written OpenAI-shaped handler per vendor
// into a single pipeline driven by the core's own adapter-agnostic
// ForwardResult.
package httpapi

import (
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/llmgateway/internal/balancer"
	"github.com/ngoclaw/llmgateway/internal/config"
	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/forwarder"
	"github.com/ngoclaw/llmgateway/internal/status"
)

// Server holds the collaborators the HTTP surface dispatches through.
type Server struct {
	store     *configstore.Store
	balancer  *balancer.Balancer
	forwarder *forwarder.Forwarder
	statusc   *status.Collector
	logger    *zap.Logger
}

// New builds a Server. Call Routes to obtain the configured gin.Engine.
func New(store *configstore.Store, bal *balancer.Balancer, fwd *forwarder.Forwarder, statusc *status.Collector, logger *zap.Logger) *Server {
	return &Server{store: store, balancer: bal, forwarder: fwd, statusc: statusc, logger: logger}
}

// Routes builds the gin.Engine: CORS and recovery globally, API-key auth
// scoped to the /v1 client-facing routes, and the unauthenticated debug
// routes (spec §4.1, §4.9).
func (s *Server) Routes(bootCfg config.Config) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(bootCfg))

	engine.GET("/healthz", s.Healthz)
	engine.GET("/v1/status", s.Status)

	v1 := engine.Group("/v1")
	v1.Use(apiKeyAuth(s.store))
	v1.POST("/chat/completions", s.ChatCompletions)
	v1.POST("/completions", s.Completions)
	v1.GET("/models", s.Models)

	return engine
}

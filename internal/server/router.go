package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/auth"
	"keywatch-server/internal/handler"
	"keywatch-server/internal/hub"
	"keywatch-server/internal/middleware"
	"keywatch-server/internal/session"
	"keywatch-server/internal/store"
	"keywatch-server/internal/telemetry"
	"keywatch-server/internal/view"
)

type Deps struct {
	Store        *store.Store
	Hub          *hub.Hub
	Manager      *session.Manager
	Telemetry    *telemetry.Service
	APISecret    string
	MasterSecret string
	TokenConfig  auth.TokenConfig
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(100, time.Minute)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	operatorHandler := &handler.OperatorHandler{
		Manager:      deps.Manager,
		MasterSecret: deps.MasterSecret,
		TokenConfig:  deps.TokenConfig,
		LoginLimiter: loginLimiter,
	}

	r.POST("/v1/operator/auth", operatorHandler.Auth)
	r.GET("/v1/sessions/active", operatorHandler.Active)

	operator := r.Group("/v1/operator")
	operator.Use(middleware.RequireAuth(deps.TokenConfig))
	operator.GET("/sessions", operatorHandler.List)
	operator.POST("/sessions", operatorHandler.Start)
	operator.DELETE("/sessions/:steamid", operatorHandler.Stop)

	ingestHandler := &handler.IngestHandler{Telemetry: deps.Telemetry}
	ingest := r.Group("/v1/ingest")
	ingest.Use(middleware.RequireSecret(deps.APISecret))
	ingest.POST("/key", ingestHandler.Key)
	ingest.POST("/presence", ingestHandler.Presence)
	ingest.POST("/click", ingestHandler.Click)

	dataHandler := &handler.DataHandler{Gateway: &view.Gateway{Store: deps.Store}}
	r.GET("/v1/data/:token", dataHandler.Get)
	r.GET("/v1/data/:token/export", dataHandler.Export)

	feedHandler := &handler.FeedHandler{Hub: deps.Hub, Store: deps.Store}
	r.GET("/ws", feedHandler.Serve)

	return r
}

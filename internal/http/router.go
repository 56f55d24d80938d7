package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-struggle/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-struggle/internal/http/middleware"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string

	AuthMiddleware  *httpMW.AuthMiddleware
	StruggleHandler *httpH.StruggleHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	api := r.Group("/api/struggle")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if h := cfg.StruggleHandler; h != nil {
		api.POST("/signals", h.IngestSignal)
		api.POST("/sessions/start", h.StartSession)
		api.POST("/sessions/end", h.EndSession)
		api.GET("/sessions/status", h.GetStatus)
		api.POST("/predictions", h.Predict)
		api.POST("/interventions/:id/outcome", h.RecordOutcome)
		api.GET("/metrics", h.Metrics)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/sessions/stream", cfg.RealtimeHandler.Stream)
	}

	return r
}

package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/adforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/adforge-backend/internal/http/middleware"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	TracingEnabled bool
	CORSOrigins    []string

	AuthMiddleware  *httpMW.AuthMiddleware
	MatrixHandler   *httpH.MatrixHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		name := cfg.ServiceName
		if name == "" {
			name = "adforge-backend"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Matrices
	if cfg.MatrixHandler != nil {
		h := cfg.MatrixHandler
		api.POST("/matrices", h.CreateMatrix)
		api.GET("/matrices/campaign/:campaignId", h.ListCampaignMatrices)
		api.GET("/matrices/:id", h.GetMatrix)
		api.PUT("/matrices/:id", h.UpdateMatrix)
		api.POST("/matrices/:id/combinations", h.GenerateCombinations)
		api.POST("/matrices/:id/rows/:rowId/render", h.RenderRow)
		api.POST("/matrices/:id/render-all", h.RenderAll)
		api.PUT("/matrices/:id/rows/:rowId/lock", h.SetRowLock)
		api.PUT("/matrices/:id/slots/:slotId/lock", h.SetSlotLock)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/matrices/:id/events", cfg.RealtimeHandler.MatrixEvents)
	}

	return r
}

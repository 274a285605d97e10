package app

import (
	httpMW "github.com/yungbote/adforge-backend/internal/http/middleware"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

// Auth is only enforced when a signing secret is configured.
func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	if cfg.JWTSecretKey == "" {
		log.Warn("JWT_SECRET_KEY not set; /api routes are unauthenticated")
		return Middleware{}
	}
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey)}
}

package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/modules/matrix"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/services"
)

type Services struct {
	Orchestrator *matrix.Orchestrator
	Matrix       services.MatrixService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients) Services {
	log.Info("Wiring services...")
	orch := matrix.NewOrchestrator(log, repos.Matrix, clients.Renderer, clients.Bus, cfg.Engine.Orchestrator())
	return Services{
		Orchestrator: orch,
		Matrix:       services.NewMatrixService(db, log, repos.Matrix, orch, cfg.Engine.Limits()),
	}
}

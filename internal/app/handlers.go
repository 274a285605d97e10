package app

import (
	"gorm.io/gorm"

	httpH "github.com/yungbote/adforge-backend/internal/http/handlers"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Matrix   *httpH.MatrixHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, services Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Matrix:   httpH.NewMatrixHandler(log, services.Matrix),
		Realtime: httpH.NewRealtimeHandler(log, hub, services.Matrix),
	}
}

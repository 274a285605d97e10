package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/data/repos"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type Repos struct {
	Matrix repos.MatrixConfigurationRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Matrix: repos.NewMatrixConfigurationRepo(db, log),
	}
}

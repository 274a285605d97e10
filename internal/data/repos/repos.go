package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/data/repos/matrix"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type MatrixConfigurationRepo = matrix.MatrixConfigurationRepo

var ErrDuplicate = matrix.ErrDuplicate

func NewMatrixConfigurationRepo(db *gorm.DB, baseLog *logger.Logger) MatrixConfigurationRepo {
	return matrix.NewMatrixConfigurationRepo(db, baseLog)
}

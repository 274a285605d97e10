package domain

import (
	"github.com/yungbote/adforge-backend/internal/domain/matrix"
)

const (
	RowStatusDraft     = matrix.RowStatusDraft
	RowStatusRendering = matrix.RowStatusRendering
	RowStatusRendered  = matrix.RowStatusRendered
	RowStatusFailed    = matrix.RowStatusFailed
)

type (
	MatrixConfiguration = matrix.MatrixConfiguration
	Slot                = matrix.Slot
	Row                 = matrix.Row
	RowStatus           = matrix.RowStatus
	RowStatusEvent      = matrix.RowStatusEvent
)

package matrix

import (
	"time"

	"github.com/google/uuid"
)

// RowStatusEvent announces a row's render status change to realtime subscribers.
type RowStatusEvent struct {
	MatrixID   uuid.UUID `json:"matrixId"`
	CampaignID uuid.UUID `json:"campaignId"`
	RowID      string    `json:"rowId"`
	JobID      string    `json:"jobId,omitempty"`
	Status     RowStatus `json:"status"`
	OutputURL  string    `json:"outputUrl,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

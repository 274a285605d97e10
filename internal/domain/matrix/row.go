package matrix

import (
	"time"

	"github.com/google/uuid"
)

type RowStatus string

const (
	RowStatusDraft     RowStatus = "draft"
	RowStatusRendering RowStatus = "rendering"
	RowStatusRendered  RowStatus = "rendered"
	RowStatusFailed    RowStatus = "failed"
)

func (s RowStatus) Valid() bool {
	switch s {
	case RowStatusDraft, RowStatusRendering, RowStatusRendered, RowStatusFailed:
		return true
	}
	return false
}

// Row is one concrete creative variant: a candidate chosen for every slot.
type Row struct {
	MatrixID    uuid.UUID         `gorm:"type:uuid;column:matrix_id;primaryKey" json:"-"`
	ID          string            `gorm:"column:id;primaryKey" json:"id"`
	Position    int               `gorm:"column:position;not null;index" json:"-"`
	Values      map[string]string `gorm:"column:slot_values;serializer:json;type:jsonb" json:"values"`
	Status      RowStatus         `gorm:"column:status;not null;index" json:"status"`
	Locked      bool              `gorm:"column:locked;not null;default:false" json:"locked"`
	RenderJobID string            `gorm:"column:render_job_id" json:"renderJobId,omitempty"`
	OutputURL   string            `gorm:"column:output_url" json:"outputUrl,omitempty"`
	LastError   string            `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	RenderedAt  *time.Time        `gorm:"column:rendered_at" json:"renderedAt,omitempty"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updatedAt"`
}

func (Row) TableName() string { return "matrix_row" }

// Conforms reports whether the row has exactly one non-empty value per slot id.
func (r Row) Conforms(slotIDs []string) bool {
	if len(r.Values) != len(slotIDs) {
		return false
	}
	for _, id := range slotIDs {
		if v, ok := r.Values[id]; !ok || v == "" {
			return false
		}
	}
	return true
}

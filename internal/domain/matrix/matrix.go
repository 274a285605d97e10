package matrix

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatrixConfiguration is one creative structure for a campaign: the slots that
// vary and the concrete rows produced from them. Rows live in their own table
// so render tasks can patch a single row without touching siblings.
type MatrixConfiguration struct {
	ID          uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID  uuid.UUID                 `gorm:"type:uuid;column:campaign_id;not null;index" json:"campaignId"`
	OwnerUserID *uuid.UUID                `gorm:"type:uuid;column:owner_user_id;index" json:"ownerUserId,omitempty"`
	Name        string                    `gorm:"column:name;not null" json:"name"`
	Description string                    `gorm:"column:description;type:text" json:"description"`
	Slots       datatypes.JSONSlice[Slot] `gorm:"column:slots;type:jsonb" json:"slots"`
	Rows        []Row                     `gorm:"-" json:"rows"`
	CreatedAt   time.Time                 `gorm:"not null;index" json:"createdAt"`
	UpdatedAt   time.Time                 `gorm:"not null;index" json:"updatedAt"`
}

func (MatrixConfiguration) TableName() string { return "matrix_configuration" }

// Slot is a creative role that varies across rows.
type Slot struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	CandidateIDs []string `json:"candidateIds"`
	Locked       bool     `json:"locked"`
	LockedValue  string   `json:"lockedValue,omitempty"`
}

// Domain is the set of candidates generation may draw from for this slot.
func (s Slot) Domain() []string {
	if s.Locked {
		if s.LockedValue == "" {
			return nil
		}
		return []string{s.LockedValue}
	}
	return s.CandidateIDs
}

func (s Slot) HasCandidate(id string) bool {
	for _, c := range s.CandidateIDs {
		if c == id {
			return true
		}
	}
	return false
}

func (m *MatrixConfiguration) SlotIndex(slotID string) int {
	if m == nil {
		return -1
	}
	for i := range m.Slots {
		if m.Slots[i].ID == slotID {
			return i
		}
	}
	return -1
}

func (m *MatrixConfiguration) RowIndex(rowID string) int {
	if m == nil {
		return -1
	}
	for i := range m.Rows {
		if m.Rows[i].ID == rowID {
			return i
		}
	}
	return -1
}

// SlotIDs returns slot ids in slot order.
func (m *MatrixConfiguration) SlotIDs() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Slots))
	for _, s := range m.Slots {
		out = append(out, s.ID)
	}
	return out
}

package matrix

import (
	"strings"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

// SetSlotLock returns a copy of m with slotID pinned to lockedValue, or
// released when locked is false. Rows are left alone; regeneration is a
// separate, explicit step.
func SetSlotLock(m *types.MatrixConfiguration, slotID string, locked bool, lockedValue string) (*types.MatrixConfiguration, error) {
	if m == nil {
		return nil, ValidationError("matrix is required")
	}
	idx := m.SlotIndex(strings.TrimSpace(slotID))
	if idx < 0 {
		return nil, NotFoundError("slot %q not found", slotID)
	}
	slot := m.Slots[idx].Clone()
	if locked {
		lockedValue = strings.TrimSpace(lockedValue)
		if lockedValue == "" {
			return nil, ValidationError("slot %q: lockedValue is required to lock", slot.ID)
		}
		if !slot.HasCandidate(lockedValue) {
			return nil, ValidationError("slot %q: lockedValue %q is not a candidate", slot.ID, lockedValue)
		}
		slot.Locked = true
		slot.LockedValue = lockedValue
	} else {
		slot.Locked = false
		slot.LockedValue = ""
	}

	out := m.Clone()
	out.Slots[idx] = slot
	return out, nil
}

// SetRowLock returns a copy of m with the row's locked flag set.
func SetRowLock(m *types.MatrixConfiguration, rowID string, locked bool) (*types.MatrixConfiguration, error) {
	if m == nil {
		return nil, ValidationError("matrix is required")
	}
	idx := m.RowIndex(strings.TrimSpace(rowID))
	if idx < 0 {
		return nil, NotFoundError("row %q not found", rowID)
	}
	out := m.Clone()
	out.Rows[idx].Locked = locked
	return out, nil
}

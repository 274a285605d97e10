package matrix

import (
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

// NormalizeSlots trims ids and checks slot definitions. It returns a copy;
// the input is never modified. Empty candidate lists are accepted here and
// rejected when combinations are generated.
func NormalizeSlots(in []types.Slot) ([]types.Slot, error) {
	if len(in) == 0 {
		return nil, ValidationError("at least one slot is required")
	}
	out := make([]types.Slot, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, s := range in {
		s = s.Clone()
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.TrimSpace(s.Name)
		s.Type = strings.TrimSpace(s.Type)
		s.LockedValue = strings.TrimSpace(s.LockedValue)
		if s.ID == "" {
			return nil, ValidationError("slot %d: id is required", i)
		}
		if seen[s.ID] {
			return nil, ValidationError("slot %q: duplicate slot id", s.ID)
		}
		seen[s.ID] = true
		if s.CandidateIDs == nil {
			s.CandidateIDs = []string{}
		}
		for j, c := range s.CandidateIDs {
			c = strings.TrimSpace(c)
			if c == "" {
				return nil, ValidationError("slot %q: candidate %d is blank", s.ID, j)
			}
			s.CandidateIDs[j] = c
		}
		if s.Locked {
			if s.LockedValue == "" {
				return nil, ValidationError("slot %q: locked slot requires lockedValue", s.ID)
			}
			if !s.HasCandidate(s.LockedValue) {
				return nil, ValidationError("slot %q: lockedValue %q is not a candidate", s.ID, s.LockedValue)
			}
		} else {
			s.LockedValue = ""
		}
		out = append(out, s)
	}
	return out, nil
}

// NormalizeRows assigns ids to id-less rows, defaults status to draft and
// checks every row against the slot set.
func NormalizeRows(in []types.Row, slots []types.Slot) ([]types.Row, error) {
	slotIDs := make([]string, 0, len(slots))
	for _, s := range slots {
		slotIDs = append(slotIDs, s.ID)
	}
	out := make([]types.Row, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, r := range in {
		r = r.Clone()
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if seen[r.ID] {
			return nil, ValidationError("row %q: duplicate row id", r.ID)
		}
		seen[r.ID] = true
		if r.Status == "" {
			r.Status = types.RowStatusDraft
		}
		if !r.Status.Valid() {
			return nil, ValidationError("row %q: unknown status %q", r.ID, r.Status)
		}
		if !r.Conforms(slotIDs) {
			return nil, ValidationError("row %d (%s): values must hold exactly one candidate per slot", i, r.ID)
		}
		out = append(out, r)
	}
	return out, nil
}

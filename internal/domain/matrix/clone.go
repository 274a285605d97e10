package matrix

// Clone returns a deep copy so callers can derive a new configuration without
// aliasing slot candidate lists or row value maps of the original.
func (m *MatrixConfiguration) Clone() *MatrixConfiguration {
	if m == nil {
		return nil
	}
	out := *m
	if m.OwnerUserID != nil {
		owner := *m.OwnerUserID
		out.OwnerUserID = &owner
	}
	out.Slots = CloneSlots(m.Slots)
	out.Rows = CloneRows(m.Rows)
	return &out
}

func CloneSlots(in []Slot) []Slot {
	if in == nil {
		return nil
	}
	out := make([]Slot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func (s Slot) Clone() Slot {
	if s.CandidateIDs != nil {
		s.CandidateIDs = append([]string(nil), s.CandidateIDs...)
	}
	return s
}

func CloneRows(in []Row) []Row {
	if in == nil {
		return nil
	}
	out := make([]Row, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func (r Row) Clone() Row {
	if r.Values != nil {
		vals := make(map[string]string, len(r.Values))
		for k, v := range r.Values {
			vals[k] = v
		}
		r.Values = vals
	}
	if r.RenderedAt != nil {
		t := *r.RenderedAt
		r.RenderedAt = &t
	}
	return r
}

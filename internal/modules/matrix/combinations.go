package matrix

import (
	"math"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

type GenerateOptions struct {
	MaxRows         int  `json:"maxRows"`
	AllowDuplicates bool `json:"allowDuplicates"`
}

// Limits bound what callers may ask the generator for.
type Limits struct {
	DefaultMaxRows int
	MaxRowsLimit   int
}

// Resolve fills a zero MaxRows from the configured default and rejects
// requests above the hard limit.
func (o GenerateOptions) Resolve(l Limits) (GenerateOptions, error) {
	if o.MaxRows < 0 {
		return o, ValidationError("maxRows must not be negative")
	}
	if o.MaxRows == 0 {
		o.MaxRows = l.DefaultMaxRows
	}
	if l.MaxRowsLimit > 0 && o.MaxRows > l.MaxRowsLimit {
		return o, ValidationError("maxRows %d exceeds the limit of %d", o.MaxRows, l.MaxRowsLimit)
	}
	return o, nil
}

type GenerateStats struct {
	PreservedRows     int  `json:"preservedRows"`
	GeneratedRows     int  `json:"generatedRows"`
	TotalCombinations int  `json:"totalCombinations"`
	Truncated         bool `json:"truncated"`
}

type GenerateResult struct {
	Matrix *types.MatrixConfiguration
	Stats  GenerateStats
}

// GenerateCombinations derives the row set of m from its slots and locks.
//
// Locked rows are carried over verbatim, first and in their existing order.
// Every unlocked row is replaced by combinations from the cartesian product of
// the slot domains, enumerated with the last slot varying fastest and cut off
// after MaxRows minus the locked count. Combinations equal to a locked row are
// skipped. m is not modified; on error nothing is returned to persist.
func GenerateCombinations(m *types.MatrixConfiguration, opts GenerateOptions) (*GenerateResult, error) {
	if m == nil {
		return nil, ValidationError("matrix is required")
	}
	if len(m.Slots) == 0 {
		return nil, ValidationError("matrix has no slots")
	}
	if opts.MaxRows < 0 {
		return nil, ValidationError("maxRows must not be negative")
	}

	slotIDs := m.SlotIDs()
	domains := make([][]string, len(m.Slots))
	total := 1
	for i, s := range m.Slots {
		d := s.Domain()
		if !opts.AllowDuplicates {
			d = dedupePreserveOrder(d)
		}
		if len(d) == 0 {
			return nil, ValidationError("slot %q has an empty candidate domain", s.ID)
		}
		domains[i] = d
		total = saturatingMul(total, len(d))
	}

	preserved := make([]types.Row, 0)
	exclude := map[string]bool{}
	for _, r := range m.Rows {
		if !r.Locked {
			continue
		}
		if !r.Conforms(slotIDs) {
			return nil, ValidationError("locked row %q does not match the current slots; unlock it first", r.ID)
		}
		preserved = append(preserved, r.Clone())
		exclude[comboKey(slotIDs, r.Values)] = true
	}
	if opts.MaxRows < len(preserved) {
		return nil, ValidationError("maxRows %d is smaller than the %d locked rows", opts.MaxRows, len(preserved))
	}

	budget := opts.MaxRows - len(preserved)
	generated := make([]types.Row, 0, minInt(minInt(budget, total), 1024))
	odometer := make([]int, len(domains))
	exhausted := false
	for budget > 0 {
		values := make(map[string]string, len(slotIDs))
		for i, id := range slotIDs {
			values[id] = domains[i][odometer[i]]
		}
		if !exclude[comboKey(slotIDs, values)] {
			generated = append(generated, types.Row{
				MatrixID: m.ID,
				ID:       uuid.NewString(),
				Values:   values,
				Status:   types.RowStatusDraft,
			})
			budget--
		}
		if !advance(odometer, domains) {
			exhausted = true
			break
		}
	}

	out := m.Clone()
	out.Rows = append(preserved, generated...)
	for i := range out.Rows {
		out.Rows[i].Position = i
	}
	return &GenerateResult{
		Matrix: out,
		Stats: GenerateStats{
			PreservedRows:     len(preserved),
			GeneratedRows:     len(generated),
			TotalCombinations: total,
			Truncated:         !exhausted,
		},
	}, nil
}

// advance steps the odometer; false once every combination has been visited.
func advance(odometer []int, domains [][]string) bool {
	for i := len(odometer) - 1; i >= 0; i-- {
		odometer[i]++
		if odometer[i] < len(domains[i]) {
			return true
		}
		odometer[i] = 0
	}
	return false
}

func comboKey(slotIDs []string, values map[string]string) string {
	var b strings.Builder
	for i, id := range slotIDs {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(values[id])
	}
	return b.String()
}

func dedupePreserveOrder(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func saturatingMul(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

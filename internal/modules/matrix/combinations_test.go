package matrix

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

func visualCopyMatrix() *types.MatrixConfiguration {
	return &types.MatrixConfiguration{
		ID:         uuid.New(),
		CampaignID: uuid.New(),
		Name:       "spring",
		Slots: []types.Slot{
			{ID: "visual", Type: "visual", CandidateIDs: []string{"A", "B", "C"}},
			{ID: "copy", Type: "copy", CandidateIDs: []string{"X", "Y"}},
		},
	}
}

func rowPairs(rows []types.Row) [][2]string {
	out := make([][2]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, [2]string{r.Values["visual"], r.Values["copy"]})
	}
	return out
}

func TestGenerateCombinationsFullProduct(t *testing.T) {
	m := visualCopyMatrix()
	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 10})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	want := [][2]string{{"A", "X"}, {"A", "Y"}, {"B", "X"}, {"B", "Y"}, {"C", "X"}, {"C", "Y"}}
	if got := rowPairs(res.Matrix.Rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("rows: want=%v got=%v", want, got)
	}
	ids := map[string]bool{}
	for i, r := range res.Matrix.Rows {
		if r.Status != types.RowStatusDraft {
			t.Fatalf("row %d status: want=draft got=%s", i, r.Status)
		}
		if r.Position != i {
			t.Fatalf("row %d position: got=%d", i, r.Position)
		}
		if r.ID == "" || ids[r.ID] {
			t.Fatalf("row %d id not unique: %q", i, r.ID)
		}
		ids[r.ID] = true
	}
	if res.Stats.TotalCombinations != 6 || res.Stats.GeneratedRows != 6 || res.Stats.Truncated {
		t.Fatalf("stats: got=%+v", res.Stats)
	}
	if len(m.Rows) != 0 {
		t.Fatalf("input matrix mutated: rows=%d", len(m.Rows))
	}
}

func TestGenerateCombinationsLockedSlot(t *testing.T) {
	m := visualCopyMatrix()
	m, err := SetSlotLock(m, "copy", true, "X")
	if err != nil {
		t.Fatalf("SetSlotLock: %v", err)
	}
	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 10})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	want := [][2]string{{"A", "X"}, {"B", "X"}, {"C", "X"}}
	if got := rowPairs(res.Matrix.Rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("rows: want=%v got=%v", want, got)
	}
}

func TestGenerateCombinationsPreservesLockedRow(t *testing.T) {
	m := visualCopyMatrix()
	m.Rows = []types.Row{
		{ID: "r0", Values: map[string]string{"visual": "B", "copy": "Y"}, Status: types.RowStatusRendered},
		{ID: "r1", Values: map[string]string{"visual": "A", "copy": "X"}, Status: types.RowStatusRendered, OutputURL: "https://cdn/r1.mp4"},
	}
	m, err := SetRowLock(m, "r1", true)
	if err != nil {
		t.Fatalf("SetRowLock: %v", err)
	}
	before := m.Rows[1].Clone()

	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 10})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	rows := res.Matrix.Rows
	if len(rows) != 6 {
		t.Fatalf("row count: want=6 got=%d", len(rows))
	}
	first := rows[0]
	if first.ID != "r1" || !reflect.DeepEqual(first.Values, before.Values) || first.Status != before.Status || first.OutputURL != before.OutputURL {
		t.Fatalf("locked row changed: before=%+v after=%+v", before, first)
	}
	for _, r := range rows[1:] {
		if r.ID == "r0" {
			t.Fatalf("unlocked row r0 should have been discarded")
		}
		if r.Values["visual"] == "A" && r.Values["copy"] == "X" {
			t.Fatalf("locked combination re-derived as %s", r.ID)
		}
	}
	if res.Stats.PreservedRows != 1 || res.Stats.GeneratedRows != 5 {
		t.Fatalf("stats: got=%+v", res.Stats)
	}
}

func TestGenerateCombinationsEmptyDomainRejected(t *testing.T) {
	m := visualCopyMatrix()
	m.Slots[1].CandidateIDs = nil
	m.Rows = []types.Row{{ID: "keep", Values: map[string]string{"visual": "A", "copy": "X"}, Status: types.RowStatusDraft}}

	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 10})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err: want ErrValidation got=%v", err)
	}
	if res != nil {
		t.Fatalf("result: want nil got=%+v", res)
	}
	if len(m.Rows) != 1 || m.Rows[0].ID != "keep" {
		t.Fatalf("matrix rows changed: %+v", m.Rows)
	}
}

func TestGenerateCombinationsTruncatesDeterministically(t *testing.T) {
	m := visualCopyMatrix()
	a, err := GenerateCombinations(m, GenerateOptions{MaxRows: 4})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	b, err := GenerateCombinations(m, GenerateOptions{MaxRows: 4})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	if !reflect.DeepEqual(rowPairs(a.Matrix.Rows), rowPairs(b.Matrix.Rows)) {
		t.Fatalf("truncation not reproducible: %v vs %v", rowPairs(a.Matrix.Rows), rowPairs(b.Matrix.Rows))
	}
	want := [][2]string{{"A", "X"}, {"A", "Y"}, {"B", "X"}, {"B", "Y"}}
	if got := rowPairs(a.Matrix.Rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("rows: want=%v got=%v", want, got)
	}
	if !a.Stats.Truncated {
		t.Fatalf("truncated: want=true")
	}
}

func TestGenerateCombinationsDedupesRepeatedCandidates(t *testing.T) {
	m := visualCopyMatrix()
	m.Slots[0].CandidateIDs = []string{"A", "A", "B"}

	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 100})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	if len(res.Matrix.Rows) != 4 {
		t.Fatalf("deduped rows: want=4 got=%d", len(res.Matrix.Rows))
	}

	res, err = GenerateCombinations(m, GenerateOptions{MaxRows: 100, AllowDuplicates: true})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	if len(res.Matrix.Rows) != 6 {
		t.Fatalf("rows with duplicates: want=6 got=%d", len(res.Matrix.Rows))
	}
}

func TestGenerateCombinationsMaxRowsBelowLockedCount(t *testing.T) {
	m := visualCopyMatrix()
	m.Rows = []types.Row{
		{ID: "r1", Values: map[string]string{"visual": "A", "copy": "X"}, Status: types.RowStatusDraft, Locked: true},
		{ID: "r2", Values: map[string]string{"visual": "B", "copy": "X"}, Status: types.RowStatusDraft, Locked: true},
	}
	if _, err := GenerateCombinations(m, GenerateOptions{MaxRows: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err: want ErrValidation got=%v", err)
	}
	if _, err := GenerateCombinations(m, GenerateOptions{MaxRows: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative maxRows: want ErrValidation got=%v", err)
	}
}

func TestGenerateCombinationsRejectsNonConformingLockedRow(t *testing.T) {
	m := visualCopyMatrix()
	m.Rows = []types.Row{{ID: "r1", Values: map[string]string{"visual": "A"}, Status: types.RowStatusDraft, Locked: true}}
	if _, err := GenerateCombinations(m, GenerateOptions{MaxRows: 10}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err: want ErrValidation got=%v", err)
	}
}

func TestGenerateCombinationsHugeProductIsLazy(t *testing.T) {
	m := &types.MatrixConfiguration{ID: uuid.New()}
	candidates := make([]string, 100)
	for i := range candidates {
		candidates[i] = uuid.NewString()
	}
	for i := 0; i < 12; i++ {
		m.Slots = append(m.Slots, types.Slot{ID: string(rune('a' + i)), CandidateIDs: candidates})
	}
	res, err := GenerateCombinations(m, GenerateOptions{MaxRows: 3})
	if err != nil {
		t.Fatalf("GenerateCombinations: %v", err)
	}
	if len(res.Matrix.Rows) != 3 || !res.Stats.Truncated {
		t.Fatalf("rows=%d truncated=%v", len(res.Matrix.Rows), res.Stats.Truncated)
	}
	if res.Stats.TotalCombinations <= 0 {
		t.Fatalf("total combinations should saturate, got=%d", res.Stats.TotalCombinations)
	}
}

func TestGenerateOptionsResolve(t *testing.T) {
	limits := Limits{DefaultMaxRows: 50, MaxRowsLimit: 500}
	got, err := GenerateOptions{}.Resolve(limits)
	if err != nil || got.MaxRows != 50 {
		t.Fatalf("default: want=50 got=%d err=%v", got.MaxRows, err)
	}
	if _, err := (GenerateOptions{MaxRows: 501}).Resolve(limits); !errors.Is(err, ErrValidation) {
		t.Fatalf("above limit: want ErrValidation got=%v", err)
	}
	if _, err := (GenerateOptions{MaxRows: -3}).Resolve(limits); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative: want ErrValidation got=%v", err)
	}
}

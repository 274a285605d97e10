package matrix

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/platform/dbctx"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/platform/render"
)

type fakeRowStore struct {
	mu   sync.Mutex
	rows map[string]*types.Row
}

func newFakeRowStore(m *types.MatrixConfiguration) *fakeRowStore {
	s := &fakeRowStore{rows: map[string]*types.Row{}}
	for _, r := range m.Rows {
		r := r.Clone()
		s.rows[r.ID] = &r
	}
	return s
}

func (s *fakeRowStore) GetRow(dbc dbctx.Context, matrixID uuid.UUID, rowID string) (*types.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok {
		return nil, nil
	}
	out := r.Clone()
	return &out, nil
}

func (s *fakeRowStore) ClaimRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, from []types.RowStatus, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok {
		return false, nil
	}
	claimable := !staleBefore.IsZero() && r.Status == types.RowStatusRendering && r.UpdatedAt.Before(staleBefore)
	for _, st := range from {
		if r.Status == st {
			claimable = true
		}
	}
	if !claimable {
		return false, nil
	}
	r.Status = types.RowStatusRendering
	r.RenderJobID = jobID
	r.LastError = ""
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeRowStore) FinishRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok || r.Status != types.RowStatusRendering || r.RenderJobID != jobID {
		return false, nil
	}
	if v, ok := updates["status"].(types.RowStatus); ok {
		r.Status = v
	}
	if v, ok := updates["output_url"].(string); ok {
		r.OutputURL = v
	}
	if v, ok := updates["last_error"].(string); ok {
		r.LastError = v
	}
	if v, ok := updates["rendered_at"].(time.Time); ok {
		r.RenderedAt = &v
	}
	return true, nil
}

func (s *fakeRowStore) status(rowID string) types.RowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[rowID].Status
}

func (s *fakeRowStore) row(rowID string) types.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[rowID].Clone()
}

// snapshot returns the matrix with rows as currently stored.
func (s *fakeRowStore) snapshot(m *types.MatrixConfiguration) *types.MatrixConfiguration {
	out := m.Clone()
	for i := range out.Rows {
		out.Rows[i] = s.row(out.Rows[i].ID)
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []types.RowStatusEvent
}

func (n *fakeNotifier) PublishRowStatus(ctx context.Context, ev types.RowStatusEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) statuses(rowID string) []types.RowStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []types.RowStatus
	for _, ev := range n.events {
		if ev.RowID == rowID {
			out = append(out, ev.Status)
		}
	}
	return out
}

func threeDraftRows() *types.MatrixConfiguration {
	m := visualCopyMatrix()
	m.Rows = []types.Row{
		{ID: "r1", Values: map[string]string{"visual": "A", "copy": "X"}, Status: types.RowStatusDraft},
		{ID: "r2", Values: map[string]string{"visual": "B", "copy": "X"}, Status: types.RowStatusDraft},
		{ID: "r3", Values: map[string]string{"visual": "C", "copy": "X"}, Status: types.RowStatusDraft},
	}
	return m
}

func okRenderer(ctx context.Context, req render.Request) (*render.Result, error) {
	return &render.Result{OutputURL: "https://cdn.example/" + req.RowID + ".mp4"}, nil
}

func newTestOrchestrator(t *testing.T, store RowStore, r render.Renderer, n Notifier, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	o := NewOrchestrator(log, store, r, n, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func TestRenderAllIsolatesFailures(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	notifier := &fakeNotifier{}
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		if req.RowID == "r2" {
			return nil, errors.New("encoder crashed")
		}
		return okRenderer(ctx, req)
	})
	o := newTestOrchestrator(t, store, renderer, notifier, OrchestratorConfig{Concurrency: 3, JobTimeout: time.Second})

	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Eligible != 3 || res.Dispatched != 3 || res.Failed != 1 || res.Rendered != 2 || res.Undispatched != 0 {
		t.Fatalf("batch: got=%+v", res)
	}
	want := []types.RowStatus{types.RowStatusRendered, types.RowStatusFailed, types.RowStatusRendered}
	for i, id := range []string{"r1", "r2", "r3"} {
		if got := store.status(id); got != want[i] {
			t.Fatalf("%s status: want=%s got=%s", id, want[i], got)
		}
		if res.Rows[i].RowID != id {
			t.Fatalf("outcome order: want=%s got=%s", id, res.Rows[i].RowID)
		}
	}
	if r2 := store.row("r2"); r2.LastError != "encoder crashed" {
		t.Fatalf("r2 lastError: got=%q", r2.LastError)
	}
	if r1 := store.row("r1"); r1.OutputURL == "" || r1.RenderedAt == nil {
		t.Fatalf("r1 outcome not recorded: %+v", r1)
	}
	got := notifier.statuses("r2")
	if len(got) != 2 || got[0] != types.RowStatusRendering || got[1] != types.RowStatusFailed {
		t.Fatalf("r2 events: got=%v", got)
	}
}

func TestRenderAllTwiceIsNoOp(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	o := newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 2})

	if _, err := o.RenderAll(context.Background(), m); err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	res, err := o.RenderAll(context.Background(), store.snapshot(m))
	if err != nil {
		t.Fatalf("second RenderAll: %v", err)
	}
	if res.Eligible != 0 || res.Dispatched != 0 || res.Message != "nothing to render" {
		t.Fatalf("second batch: got=%+v", res)
	}
}

func TestRenderAllBoundsConcurrency(t *testing.T) {
	m := visualCopyMatrix()
	for i := 0; i < 12; i++ {
		m.Rows = append(m.Rows, types.Row{ID: uuid.NewString(), Values: map[string]string{"visual": "A", "copy": "X"}, Status: types.RowStatusDraft})
	}
	store := newFakeRowStore(m)
	var inFlight, peak int32
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return okRenderer(ctx, req)
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 3})

	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Rendered != 12 {
		t.Fatalf("rendered: want=12 got=%d", res.Rendered)
	}
	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Fatalf("peak concurrency: want<=3 got=%d", p)
	}
}

func TestRenderAllSkipLockedRows(t *testing.T) {
	m := threeDraftRows()
	m.Rows[0].Locked = true

	store := newFakeRowStore(m)
	o := newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 2, SkipLockedRows: true})
	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Eligible != 2 || store.status("r1") != types.RowStatusDraft {
		t.Fatalf("locked row should be skipped: eligible=%d r1=%s", res.Eligible, store.status("r1"))
	}

	store = newFakeRowStore(m)
	o = newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 2})
	res, err = o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Eligible != 3 || store.status("r1") != types.RowStatusRendered {
		t.Fatalf("locked row should render by default: eligible=%d r1=%s", res.Eligible, store.status("r1"))
	}
}

func TestRenderRecoversPanic(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		panic("boom")
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 1})

	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Failed != 3 {
		t.Fatalf("failed: want=3 got=%d", res.Failed)
	}
	if r := store.row("r1"); !strings.Contains(r.LastError, "panic") {
		t.Fatalf("lastError: got=%q", r.LastError)
	}
}

func TestRenderTimeoutRecordsFailure(t *testing.T) {
	m := threeDraftRows()
	m.Rows = m.Rows[:1]
	store := newFakeRowStore(m)
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 1, JobTimeout: 20 * time.Millisecond})

	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("failed: want=1 got=%d", res.Failed)
	}
	if r := store.row("r1"); r.Status != types.RowStatusFailed || !strings.Contains(r.LastError, "timed out") {
		t.Fatalf("row after timeout: %+v", r)
	}
}

func TestRenderRowIsAsyncAndIdempotent(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	release := make(chan struct{})
	var calls int32
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return okRenderer(ctx, req)
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 1, JobTimeout: 5 * time.Second})

	job, err := o.RenderRow(context.Background(), m, "r2")
	if err != nil {
		t.Fatalf("RenderRow: %v", err)
	}
	if !job.Dispatched || job.Status != types.RowStatusRendering || job.JobID == "" {
		t.Fatalf("job: got=%+v", job)
	}
	if got := store.status("r2"); got != types.RowStatusRendering {
		t.Fatalf("status while running: want=rendering got=%s", got)
	}

	again, err := o.RenderRow(context.Background(), store.snapshot(m), "r2")
	if err != nil {
		t.Fatalf("RenderRow again: %v", err)
	}
	if again.Dispatched || again.JobID != job.JobID {
		t.Fatalf("second call should return the running job: got=%+v want job=%s", again, job.JobID)
	}

	close(release)
	o.Wait()
	if got := store.status("r2"); got != types.RowStatusRendered {
		t.Fatalf("status after render: want=rendered got=%s", got)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("renderer calls: want=1 got=%d", n)
	}
}

func TestRenderRowUnknownRow(t *testing.T) {
	m := threeDraftRows()
	o := newTestOrchestrator(t, newFakeRowStore(m), render.Func(okRenderer), nil, OrchestratorConfig{})
	if _, err := o.RenderRow(context.Background(), m, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: want ErrNotFound got=%v", err)
	}
}

func TestRenderRowReRendersFailedRow(t *testing.T) {
	m := threeDraftRows()
	m.Rows[0].Status = types.RowStatusFailed
	m.Rows[0].LastError = "old"
	store := newFakeRowStore(m)
	o := newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 1})

	if _, err := o.RenderRow(context.Background(), m, "r1"); err != nil {
		t.Fatalf("RenderRow: %v", err)
	}
	o.Wait()
	if r := store.row("r1"); r.Status != types.RowStatusRendered || r.LastError != "" {
		t.Fatalf("row after re-render: %+v", r)
	}
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	release := make(chan struct{})
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		<-release
		return okRenderer(ctx, req)
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 1, JobTimeout: 5 * time.Second})

	if _, err := o.RenderRow(context.Background(), m, "r1"); err != nil {
		t.Fatalf("RenderRow: %v", err)
	}
	// A newer attempt takes the row over before the first one finishes.
	if ok, _ := store.ClaimRow(dbctx.Context{}, m.ID, "r1", "newer", []types.RowStatus{types.RowStatusRendering}, time.Time{}); !ok {
		t.Fatalf("takeover claim failed")
	}
	close(release)
	o.Wait()

	r := store.row("r1")
	if r.Status != types.RowStatusRendering || r.RenderJobID != "newer" || r.OutputURL != "" {
		t.Fatalf("stale completion overwrote row: %+v", r)
	}
}

func TestShutdownCancelsInFlight(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	started := make(chan struct{})
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	o := NewOrchestrator(log, store, renderer, nil, OrchestratorConfig{Concurrency: 1})

	if _, err := o.RenderRow(context.Background(), m, "r1"); err != nil {
		t.Fatalf("RenderRow: %v", err)
	}
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := store.status("r1"); got != types.RowStatusFailed {
		t.Fatalf("status after shutdown: want=failed got=%s", got)
	}
	if _, err := o.RenderRow(context.Background(), m, "r2"); err == nil {
		t.Fatalf("RenderRow after shutdown: expected error")
	}
}

func TestRenderRowTakesOverStaleClaim(t *testing.T) {
	m := threeDraftRows()
	m.Rows[0].Status = types.RowStatusRendering
	m.Rows[0].RenderJobID = "orphaned"
	m.Rows[0].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	m.Rows[1].Status = types.RowStatusRendering
	m.Rows[1].RenderJobID = "running"
	m.Rows[1].UpdatedAt = time.Now().UTC()
	store := newFakeRowStore(m)
	o := newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 1, JobTimeout: time.Minute})

	job, err := o.RenderRow(context.Background(), m, "r1")
	if err != nil {
		t.Fatalf("RenderRow stale: %v", err)
	}
	if !job.Dispatched || job.JobID == "orphaned" {
		t.Fatalf("stale claim should be redispatched: got=%+v", job)
	}
	live, err := o.RenderRow(context.Background(), m, "r2")
	if err != nil {
		t.Fatalf("RenderRow live: %v", err)
	}
	if live.Dispatched || live.JobID != "running" {
		t.Fatalf("live claim should be left alone: got=%+v", live)
	}
	o.Wait()
	if r := store.row("r1"); r.Status != types.RowStatusRendered || r.RenderJobID != job.JobID {
		t.Fatalf("row after takeover: %+v", r)
	}
}

func TestRenderAllIncludesStaleClaims(t *testing.T) {
	m := threeDraftRows()
	m.Rows[2].Status = types.RowStatusRendering
	m.Rows[2].RenderJobID = "orphaned"
	m.Rows[2].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	store := newFakeRowStore(m)
	o := newTestOrchestrator(t, store, render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 2, StaleAfter: time.Minute})

	res, err := o.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if res.Eligible != 3 || res.Rendered != 3 {
		t.Fatalf("batch: got=%+v", res)
	}

	o2 := newTestOrchestrator(t, newFakeRowStore(m), render.Func(okRenderer), nil, OrchestratorConfig{Concurrency: 2, StaleAfter: -1})
	res, err = o2.RenderAll(context.Background(), m)
	if err != nil {
		t.Fatalf("RenderAll disabled: %v", err)
	}
	if res.Eligible != 2 {
		t.Fatalf("takeover disabled: want eligible=2 got=%d", res.Eligible)
	}
}

func TestFailedRenderErrorStaysValidUTF8(t *testing.T) {
	m := threeDraftRows()
	m.Rows = m.Rows[:1]
	store := newFakeRowStore(m)
	long := "x" + strings.Repeat("é", 1500)
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		return nil, errors.New(long)
	})
	o := newTestOrchestrator(t, store, renderer, nil, OrchestratorConfig{Concurrency: 1})

	if _, err := o.RenderAll(context.Background(), m); err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	r := store.row("r1")
	if r.Status != types.RowStatusFailed {
		t.Fatalf("status: want=failed got=%s", r.Status)
	}
	if len(r.LastError) > maxErrorBytes || !utf8.ValidString(r.LastError) {
		t.Fatalf("lastError: len=%d valid=%v", len(r.LastError), utf8.ValidString(r.LastError))
	}
	if !strings.HasPrefix(long, r.LastError) {
		t.Fatalf("lastError should be a prefix of the render error")
	}
}

func TestShutdownEndsRenderAllPromptly(t *testing.T) {
	m := threeDraftRows()
	store := newFakeRowStore(m)
	started := make(chan struct{}, 3)
	renderer := render.Func(func(ctx context.Context, req render.Request) (*render.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	o := NewOrchestrator(log, store, renderer, nil, OrchestratorConfig{Concurrency: 1, JobTimeout: time.Hour})

	done := make(chan *BatchResult, 1)
	go func() {
		res, _ := o.RenderAll(context.Background(), m)
		done <- res
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case res := <-done:
		if res.Failed != 1 || res.Undispatched != 2 {
			t.Fatalf("batch after shutdown: got=%+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RenderAll still blocked after Shutdown")
	}
}

package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/platform/dbctx"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/platform/render"
)

// RowStore is the row-level persistence the orchestrator writes through.
// Both writes are single-row and guarded, so concurrent tasks never clobber
// each other.
type RowStore interface {
	GetRow(dbc dbctx.Context, matrixID uuid.UUID, rowID string) (*types.Row, error)
	// ClaimRow moves the row into rendering under jobID if its status is one of
	// from, or if it is rendering and was last touched before a non-zero staleBefore.
	ClaimRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, from []types.RowStatus, staleBefore time.Time) (bool, error)
	// FinishRow applies updates only while the row is rendering under jobID.
	FinishRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, updates map[string]interface{}) (bool, error)
}

type Notifier interface {
	PublishRowStatus(ctx context.Context, ev types.RowStatusEvent) error
}

type OrchestratorConfig struct {
	Concurrency    int
	JobTimeout     time.Duration
	SkipLockedRows bool
	// StaleAfter is how long a rendering claim may go untouched before another
	// dispatch may take it over. Zero derives it from JobTimeout; negative disables it.
	StaleAfter time.Duration
}

const staleClaimGrace = time.Minute

type RenderJob struct {
	JobID      string          `json:"jobId"`
	MatrixID   uuid.UUID       `json:"matrixId"`
	RowID      string          `json:"rowId"`
	Status     types.RowStatus `json:"status"`
	Dispatched bool            `json:"dispatched"`
}

type RowOutcome struct {
	RowID      string          `json:"rowId"`
	JobID      string          `json:"jobId,omitempty"`
	Dispatched bool            `json:"dispatched"`
	Status     types.RowStatus `json:"status"`
	OutputURL  string          `json:"outputUrl,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type BatchResult struct {
	MatrixID     uuid.UUID    `json:"matrixId"`
	Eligible     int          `json:"eligible"`
	Dispatched   int          `json:"dispatched"`
	Undispatched int          `json:"undispatched"`
	Rendered     int          `json:"rendered"`
	Failed       int          `json:"failed"`
	Message      string       `json:"message"`
	Rows         []RowOutcome `json:"rows"`
}

var claimableStatuses = []types.RowStatus{types.RowStatusDraft, types.RowStatusRendered, types.RowStatusFailed}

// ErrShuttingDown is returned once Shutdown has started.
var ErrShuttingDown = errors.New("render orchestrator is shutting down")

// Orchestrator dispatches render work for matrix rows and records the outcome
// of every attempt on the row itself. A failing render never surfaces as an
// error from RenderRow or RenderAll.
type Orchestrator struct {
	log      *logger.Logger
	store    RowStore
	renderer render.Renderer
	notifier Notifier
	cfg      OrchestratorConfig
	tracer   trace.Tracer
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

func NewOrchestrator(baseLog *logger.Logger, store RowStore, renderer render.Renderer, notifier Notifier, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.StaleAfter == 0 && cfg.JobTimeout > 0 {
		cfg.StaleAfter = cfg.JobTimeout + staleClaimGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		log:      baseLog.With("component", "RenderOrchestrator"),
		store:    store,
		renderer: renderer,
		notifier: notifier,
		cfg:      cfg,
		tracer:   otel.Tracer("adforge/matrix"),
		now:      func() time.Time { return time.Now().UTC() },
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// RenderRow claims one row and renders it in the background. A row that is
// already rendering is returned as-is without a second dispatch, unless its
// claim has gone stale.
func (o *Orchestrator) RenderRow(ctx context.Context, m *types.MatrixConfiguration, rowID string) (*RenderJob, error) {
	if m == nil {
		return nil, ValidationError("matrix is required")
	}
	idx := m.RowIndex(strings.TrimSpace(rowID))
	if idx < 0 {
		return nil, NotFoundError("row %q not found", rowID)
	}
	row := m.Rows[idx].Clone()
	if row.Status == types.RowStatusRendering && !o.isStale(row) {
		return &RenderJob{JobID: row.RenderJobID, MatrixID: m.ID, RowID: row.ID, Status: row.Status}, nil
	}

	if !o.track() {
		return nil, ErrShuttingDown
	}
	jobID := uuid.NewString()
	claimed, err := o.store.ClaimRow(dbctx.Context{Ctx: ctx}, m.ID, row.ID, jobID, claimableStatuses, o.staleBefore())
	if err != nil {
		o.wg.Done()
		return nil, fmt.Errorf("claim row %s: %w", row.ID, err)
	}
	if !claimed {
		o.wg.Done()
		return o.currentHandle(ctx, m, row.ID)
	}
	if row.Status == types.RowStatusRendering {
		o.log.Warn("took over stale render claim", "matrix_id", m.ID, "row_id", row.ID, "stale_job_id", row.RenderJobID, "job_id", jobID)
	}
	o.publish(ctx, m, row.ID, jobID, types.RowStatusRendering, "", "")

	snapshot := m.Clone()
	go func() {
		defer o.wg.Done()
		o.runJob(o.baseCtx, snapshot, row, jobID)
	}()
	return &RenderJob{JobID: jobID, MatrixID: m.ID, RowID: row.ID, Status: types.RowStatusRendering, Dispatched: true}, nil
}

// RenderAll renders every draft row, plus rows whose rendering claim went
// stale, on a bounded pool and waits for the batch.
func (o *Orchestrator) RenderAll(ctx context.Context, m *types.MatrixConfiguration) (*BatchResult, error) {
	if m == nil {
		return nil, ValidationError("matrix is required")
	}
	eligible := make([]types.Row, 0, len(m.Rows))
	for _, r := range m.Rows {
		if r.Status != types.RowStatusDraft && !(r.Status == types.RowStatusRendering && o.isStale(r)) {
			continue
		}
		if o.cfg.SkipLockedRows && r.Locked {
			continue
		}
		eligible = append(eligible, r.Clone())
	}
	res := &BatchResult{MatrixID: m.ID, Eligible: len(eligible), Rows: []RowOutcome{}}
	if len(eligible) == 0 {
		res.Message = "nothing to render"
		return res, nil
	}

	snapshot := m.Clone()
	outcomes := make([]RowOutcome, len(eligible))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Concurrency)
	for i := range eligible {
		i := i
		row := eligible[i]
		g.Go(func() error {
			outcomes[i] = o.dispatchOne(ctx, snapshot, row)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if !out.Dispatched {
			res.Undispatched++
			continue
		}
		res.Dispatched++
		switch out.Status {
		case types.RowStatusRendered:
			res.Rendered++
		case types.RowStatusFailed:
			res.Failed++
		}
	}
	res.Rows = outcomes
	res.Message = fmt.Sprintf("dispatched %d of %d rows: %d rendered, %d failed", res.Dispatched, res.Eligible, res.Rendered, res.Failed)
	o.log.Info("render batch finished",
		"matrix_id", m.ID,
		"eligible", res.Eligible,
		"dispatched", res.Dispatched,
		"rendered", res.Rendered,
		"failed", res.Failed,
	)
	return res, nil
}

func (o *Orchestrator) dispatchOne(ctx context.Context, m *types.MatrixConfiguration, row types.Row) RowOutcome {
	out := RowOutcome{RowID: row.ID, Status: row.Status}
	if err := ctx.Err(); err != nil {
		out.Error = err.Error()
		return out
	}
	if !o.track() {
		out.Error = ErrShuttingDown.Error()
		return out
	}
	defer o.wg.Done()

	jobID := uuid.NewString()
	claimed, err := o.store.ClaimRow(dbctx.Context{Ctx: ctx}, m.ID, row.ID, jobID, []types.RowStatus{types.RowStatusDraft}, o.staleBefore())
	if err != nil {
		o.log.Warn("claim row failed", "matrix_id", m.ID, "row_id", row.ID, "error", err)
		out.Error = "could not claim row"
		return out
	}
	if !claimed {
		out.Error = "row is no longer draft"
		return out
	}
	o.publish(ctx, m, row.ID, jobID, types.RowStatusRendering, "", "")
	return o.runJob(o.baseCtx, m, row, jobID)
}

// runJob performs one claimed render attempt and records its outcome.
func (o *Orchestrator) runJob(parent context.Context, m *types.MatrixConfiguration, row types.Row, jobID string) RowOutcome {
	out := RowOutcome{RowID: row.ID, JobID: jobID, Dispatched: true}

	ctx := parent
	cancel := context.CancelFunc(func() {})
	if o.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.cfg.JobTimeout)
	}
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "matrix.render_row", trace.WithAttributes(
		attribute.String("matrix.id", m.ID.String()),
		attribute.String("matrix.row_id", row.ID),
		attribute.String("matrix.job_id", jobID),
	))
	defer span.End()

	start := time.Now()
	res, err := o.invoke(ctx, o.buildRequest(m, row, jobID))
	if err == nil && (res == nil || strings.TrimSpace(res.OutputURL) == "") {
		err = errors.New("renderer returned no output")
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("render timed out after %s: %w", o.cfg.JobTimeout, err)
	}

	finishedAt := o.now()
	updates := map[string]interface{}{"updated_at": finishedAt}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		out.Status = types.RowStatusFailed
		out.Error = err.Error()
		updates["status"] = types.RowStatusFailed
		updates["last_error"] = truncateError(err.Error())
	} else {
		out.Status = types.RowStatusRendered
		out.OutputURL = res.OutputURL
		updates["status"] = types.RowStatusRendered
		updates["output_url"] = res.OutputURL
		updates["last_error"] = ""
		updates["rendered_at"] = finishedAt
	}

	// The outcome must land even when shutdown cancelled the render itself.
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer writeCancel()
	ok, werr := o.store.FinishRow(dbctx.Context{Ctx: writeCtx}, m.ID, row.ID, jobID, updates)
	switch {
	case werr != nil:
		o.log.Error("record render outcome failed", "matrix_id", m.ID, "row_id", row.ID, "job_id", jobID, "error", werr)
		if out.Error == "" {
			out.Error = "render finished but the outcome could not be recorded"
		}
		return out
	case !ok:
		o.log.Info("stale render completion ignored", "matrix_id", m.ID, "row_id", row.ID, "job_id", jobID)
		return out
	}

	if err != nil {
		o.log.Warn("render failed", "matrix_id", m.ID, "row_id", row.ID, "job_id", jobID, "elapsed", time.Since(start), "error", err)
	} else {
		o.log.Debug("render finished", "matrix_id", m.ID, "row_id", row.ID, "job_id", jobID, "elapsed", time.Since(start))
	}
	o.publish(writeCtx, m, row.ID, jobID, out.Status, out.OutputURL, out.Error)
	return out
}

func (o *Orchestrator) invoke(ctx context.Context, req render.Request) (res *render.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("renderer panic: %v", r)
		}
	}()
	if o.renderer == nil {
		return nil, errors.New("no renderer configured")
	}
	return o.renderer.Render(ctx, req)
}

func (o *Orchestrator) buildRequest(m *types.MatrixConfiguration, row types.Row, jobID string) render.Request {
	slots := make([]render.SlotInfo, 0, len(m.Slots))
	for _, s := range m.Slots {
		slots = append(slots, render.SlotInfo{ID: s.ID, Name: s.Name, Type: s.Type})
	}
	values := make(map[string]string, len(row.Values))
	for k, v := range row.Values {
		values[k] = v
	}
	return render.Request{
		JobID:      jobID,
		MatrixID:   m.ID.String(),
		CampaignID: m.CampaignID.String(),
		RowID:      row.ID,
		Values:     values,
		Slots:      slots,
	}
}

func (o *Orchestrator) currentHandle(ctx context.Context, m *types.MatrixConfiguration, rowID string) (*RenderJob, error) {
	cur, err := o.store.GetRow(dbctx.Context{Ctx: ctx}, m.ID, rowID)
	if err != nil {
		return nil, fmt.Errorf("reload row %s: %w", rowID, err)
	}
	if cur == nil {
		return nil, NotFoundError("row %q not found", rowID)
	}
	if cur.Status == types.RowStatusRendering {
		return &RenderJob{JobID: cur.RenderJobID, MatrixID: m.ID, RowID: cur.ID, Status: cur.Status}, nil
	}
	return nil, ConflictError("row %q changed while it was being claimed", rowID)
}

func (o *Orchestrator) publish(ctx context.Context, m *types.MatrixConfiguration, rowID, jobID string, status types.RowStatus, outputURL, errMsg string) {
	if o.notifier == nil {
		return
	}
	ev := types.RowStatusEvent{
		MatrixID:   m.ID,
		CampaignID: m.CampaignID,
		RowID:      rowID,
		JobID:      jobID,
		Status:     status,
		OutputURL:  outputURL,
		Error:      errMsg,
		At:         o.now(),
	}
	if err := o.notifier.PublishRowStatus(ctx, ev); err != nil {
		o.log.Warn("publish row status failed", "matrix_id", m.ID, "row_id", rowID, "error", err)
	}
}

// staleBefore is the cutoff for taking over a rendering claim; zero disables it.
func (o *Orchestrator) staleBefore() time.Time {
	if o.cfg.StaleAfter <= 0 {
		return time.Time{}
	}
	return o.now().Add(-o.cfg.StaleAfter)
}

func (o *Orchestrator) isStale(row types.Row) bool {
	cutoff := o.staleBefore()
	return !cutoff.IsZero() && !row.UpdatedAt.IsZero() && row.UpdatedAt.Before(cutoff)
}

func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

// Wait blocks until every dispatched render has recorded its outcome.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting work, cancels in-flight renders and waits for them
// to record their outcome or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncateError caps s at maxErrorBytes without splitting a rune.
func truncateError(s string) string {
	if len(s) <= maxErrorBytes {
		return s
	}
	cut := maxErrorBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

const maxErrorBytes = 2000

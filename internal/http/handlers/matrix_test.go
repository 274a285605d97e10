package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/http/response"
	"github.com/yungbote/adforge-backend/internal/modules/matrix"
	"github.com/yungbote/adforge-backend/internal/platform/apierr"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/services"
)

// stubMatrices implements only what a test sets; anything else panics via the
// nil embedded interface.
type stubMatrices struct {
	services.MatrixService

	create      func(ctx context.Context, in services.CreateMatrixInput) (*types.MatrixConfiguration, error)
	get         func(ctx context.Context, id uuid.UUID) (*types.MatrixConfiguration, error)
	generate    func(ctx context.Context, id uuid.UUID, opts matrix.GenerateOptions) (*services.GenerateOutcome, error)
	renderRow   func(ctx context.Context, id uuid.UUID, rowID string) (*matrix.RenderJob, error)
	renderAll   func(ctx context.Context, id uuid.UUID) (*matrix.BatchResult, error)
	setRowLock  func(ctx context.Context, id uuid.UUID, rowID string, locked bool) (*types.MatrixConfiguration, error)
	setSlotLock func(ctx context.Context, id uuid.UUID, slotID string, locked bool, value string) (*types.MatrixConfiguration, error)
}

func (s *stubMatrices) Create(ctx context.Context, in services.CreateMatrixInput) (*types.MatrixConfiguration, error) {
	return s.create(ctx, in)
}
func (s *stubMatrices) GetByID(ctx context.Context, id uuid.UUID) (*types.MatrixConfiguration, error) {
	return s.get(ctx, id)
}
func (s *stubMatrices) GenerateCombinations(ctx context.Context, id uuid.UUID, opts matrix.GenerateOptions) (*services.GenerateOutcome, error) {
	return s.generate(ctx, id, opts)
}
func (s *stubMatrices) RenderRow(ctx context.Context, id uuid.UUID, rowID string) (*matrix.RenderJob, error) {
	return s.renderRow(ctx, id, rowID)
}
func (s *stubMatrices) RenderAll(ctx context.Context, id uuid.UUID) (*matrix.BatchResult, error) {
	return s.renderAll(ctx, id)
}
func (s *stubMatrices) SetRowLock(ctx context.Context, id uuid.UUID, rowID string, locked bool) (*types.MatrixConfiguration, error) {
	return s.setRowLock(ctx, id, rowID, locked)
}
func (s *stubMatrices) SetSlotLock(ctx context.Context, id uuid.UUID, slotID string, locked bool, value string) (*types.MatrixConfiguration, error) {
	return s.setSlotLock(ctx, id, slotID, locked, value)
}

func newMatrixRouter(svc services.MatrixService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMatrixHandler(logger.Nop(), svc)
	r := gin.New()
	r.POST("/api/matrices", h.CreateMatrix)
	r.GET("/api/matrices/:id", h.GetMatrix)
	r.POST("/api/matrices/:id/combinations", h.GenerateCombinations)
	r.POST("/api/matrices/:id/rows/:rowId/render", h.RenderRow)
	r.POST("/api/matrices/:id/render-all", h.RenderAll)
	r.PUT("/api/matrices/:id/rows/:rowId/lock", h.SetRowLock)
	r.PUT("/api/matrices/:id/slots/:slotId/lock", h.SetSlotLock)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env response.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestCreateMatrixReturnsCreated(t *testing.T) {
	campaign := uuid.New()
	var got services.CreateMatrixInput
	svc := &stubMatrices{create: func(_ context.Context, in services.CreateMatrixInput) (*types.MatrixConfiguration, error) {
		got = in
		return &types.MatrixConfiguration{ID: uuid.New(), CampaignID: in.CampaignID, Name: in.Name}, nil
	}}
	body := `{"campaignId":"` + campaign.String() + `","name":"Spring","slots":[{"id":"headline","candidateIds":["A","B"]}]}`
	rec, env := do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("success: want=true got=false")
	}
	if got.CampaignID != campaign || got.Name != "Spring" || len(got.Slots) != 1 || got.Slots[0].ID != "headline" {
		t.Fatalf("input not bound: %+v", got)
	}
}

func TestCreateMatrixMalformedBody(t *testing.T) {
	rec, env := do(t, newMatrixRouter(&stubMatrices{}), http.MethodPost, "/api/matrices", `{"name":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
	if env.Error != "invalid_request" {
		t.Fatalf("error code: want=invalid_request got=%q", env.Error)
	}
}

func TestCreateMatrixValidationError(t *testing.T) {
	svc := &stubMatrices{create: func(context.Context, services.CreateMatrixInput) (*types.MatrixConfiguration, error) {
		return nil, matrix.ValidationError("slot %q has no candidates", "cta")
	}}
	rec, env := do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices", `{"name":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
	if env.Error != "validation_error" || !strings.Contains(env.Message, "cta") {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestGetMatrixInvalidID(t *testing.T) {
	rec, env := do(t, newMatrixRouter(&stubMatrices{}), http.MethodGet, "/api/matrices/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest || env.Error != "invalid_matrix_id" {
		t.Fatalf("want 400 invalid_matrix_id, got %d %q", rec.Code, env.Error)
	}
}

func TestGetMatrixNotFound(t *testing.T) {
	svc := &stubMatrices{get: func(_ context.Context, id uuid.UUID) (*types.MatrixConfiguration, error) {
		return nil, matrix.NotFoundError("matrix %s not found", id)
	}}
	rec, env := do(t, newMatrixRouter(svc), http.MethodGet, "/api/matrices/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound || env.Error != "not_found" {
		t.Fatalf("want 404 not_found, got %d %q", rec.Code, env.Error)
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	svc := &stubMatrices{get: func(context.Context, uuid.UUID) (*types.MatrixConfiguration, error) {
		return nil, context.DeadlineExceeded
	}}
	rec, env := do(t, newMatrixRouter(svc), http.MethodGet, "/api/matrices/"+uuid.NewString(), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=500 got=%d", rec.Code)
	}
	if strings.Contains(env.Message, "deadline") {
		t.Fatalf("internal error leaked: %q", env.Message)
	}
}

func TestGenerateCombinationsAcceptsEmptyBody(t *testing.T) {
	var opts matrix.GenerateOptions
	opts.MaxRows = -1
	svc := &stubMatrices{generate: func(_ context.Context, id uuid.UUID, o matrix.GenerateOptions) (*services.GenerateOutcome, error) {
		opts = o
		return &services.GenerateOutcome{Matrix: &types.MatrixConfiguration{ID: id}}, nil
	}}
	rec, _ := do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices/"+uuid.NewString()+"/combinations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if opts.MaxRows != 0 || opts.AllowDuplicates {
		t.Fatalf("options: want zero value got=%+v", opts)
	}

	rec, _ = do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices/"+uuid.NewString()+"/combinations", `{"options":{"maxRows":4,"allowDuplicates":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	if opts.MaxRows != 4 || !opts.AllowDuplicates {
		t.Fatalf("options: got=%+v", opts)
	}
}

func TestRenderRowStatusCodes(t *testing.T) {
	dispatched := true
	svc := &stubMatrices{renderRow: func(_ context.Context, id uuid.UUID, rowID string) (*matrix.RenderJob, error) {
		return &matrix.RenderJob{JobID: "job-1", MatrixID: id, RowID: rowID, Status: types.RowStatusRendering, Dispatched: dispatched}, nil
	}}
	r := newMatrixRouter(svc)
	path := "/api/matrices/" + uuid.NewString() + "/rows/r1/render"

	rec, env := do(t, r, http.MethodPost, path, "")
	if rec.Code != http.StatusAccepted || env.Message != "render started" {
		t.Fatalf("first render: want 202 'render started', got %d %q", rec.Code, env.Message)
	}

	dispatched = false
	rec, env = do(t, r, http.MethodPost, path, "")
	if rec.Code != http.StatusOK || env.Message != "render already in progress" {
		t.Fatalf("repeat render: want 200 'render already in progress', got %d %q", rec.Code, env.Message)
	}
}

func TestRenderAllShutdownIsUnavailable(t *testing.T) {
	svc := &stubMatrices{renderAll: func(context.Context, uuid.UUID) (*matrix.BatchResult, error) {
		return nil, apierr.New(http.StatusServiceUnavailable, "shutting_down", matrix.ErrShuttingDown)
	}}
	rec, env := do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices/"+uuid.NewString()+"/render-all", "")
	if rec.Code != http.StatusServiceUnavailable || env.Error != "shutting_down" {
		t.Fatalf("want 503 shutting_down, got %d %q", rec.Code, env.Error)
	}
}

func TestRenderAllMessage(t *testing.T) {
	svc := &stubMatrices{renderAll: func(_ context.Context, id uuid.UUID) (*matrix.BatchResult, error) {
		return &matrix.BatchResult{MatrixID: id, Message: "nothing to render"}, nil
	}}
	rec, env := do(t, newMatrixRouter(svc), http.MethodPost, "/api/matrices/"+uuid.NewString()+"/render-all", "")
	if rec.Code != http.StatusOK || env.Message != "nothing to render" {
		t.Fatalf("want 200 'nothing to render', got %d %q", rec.Code, env.Message)
	}
}

func TestSetRowLockRequiresLockedField(t *testing.T) {
	called := false
	svc := &stubMatrices{setRowLock: func(_ context.Context, id uuid.UUID, rowID string, locked bool) (*types.MatrixConfiguration, error) {
		called = true
		return &types.MatrixConfiguration{ID: id}, nil
	}}
	r := newMatrixRouter(svc)
	path := "/api/matrices/" + uuid.NewString() + "/rows/r1/lock"

	rec, _ := do(t, r, http.MethodPut, path, `{}`)
	if rec.Code != http.StatusBadRequest || called {
		t.Fatalf("missing locked: want 400 without service call, got %d called=%v", rec.Code, called)
	}
	rec, _ = do(t, r, http.MethodPut, path, `{"locked":false}`)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("locked=false: want 200, got %d called=%v", rec.Code, called)
	}
}

func TestSetSlotLockPassesValue(t *testing.T) {
	var gotSlot, gotValue string
	var gotLocked bool
	svc := &stubMatrices{setSlotLock: func(_ context.Context, id uuid.UUID, slotID string, locked bool, value string) (*types.MatrixConfiguration, error) {
		gotSlot, gotLocked, gotValue = slotID, locked, value
		return &types.MatrixConfiguration{ID: id}, nil
	}}
	rec, _ := do(t, newMatrixRouter(svc), http.MethodPut, "/api/matrices/"+uuid.NewString()+"/slots/cta/lock", `{"locked":true,"lockedValue":"Buy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	if gotSlot != "cta" || !gotLocked || gotValue != "Buy" {
		t.Fatalf("args: slot=%q locked=%v value=%q", gotSlot, gotLocked, gotValue)
	}
}

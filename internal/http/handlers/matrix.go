package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/adforge-backend/internal/http/response"
	"github.com/yungbote/adforge-backend/internal/modules/matrix"
	"github.com/yungbote/adforge-backend/internal/platform/apierr"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/services"
)

type MatrixHandler struct {
	log      *logger.Logger
	matrices services.MatrixService
}

func NewMatrixHandler(log *logger.Logger, matrices services.MatrixService) *MatrixHandler {
	return &MatrixHandler{log: log.With("handler", "MatrixHandler"), matrices: matrices}
}

// POST /api/matrices
func (h *MatrixHandler) CreateMatrix(c *gin.Context) {
	var req services.CreateMatrixInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	m, err := h.matrices.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create_matrix_failed", err)
		return
	}
	response.RespondCreated(c, m)
}

// GET /api/matrices/campaign/:campaignId
func (h *MatrixHandler) ListCampaignMatrices(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("campaignId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_campaign_id", err)
		return
	}
	list, err := h.matrices.ListByCampaign(c.Request.Context(), campaignID)
	if err != nil {
		h.fail(c, "list_matrices_failed", err)
		return
	}
	response.RespondOK(c, list)
}

// GET /api/matrices/:id
func (h *MatrixHandler) GetMatrix(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	m, err := h.matrices.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get_matrix_failed", err)
		return
	}
	response.RespondOK(c, m)
}

// PUT /api/matrices/:id
func (h *MatrixHandler) UpdateMatrix(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	var req services.UpdateMatrixInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	m, err := h.matrices.Update(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, "update_matrix_failed", err)
		return
	}
	response.RespondOK(c, m)
}

// POST /api/matrices/:id/combinations
func (h *MatrixHandler) GenerateCombinations(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	var req struct {
		Options matrix.GenerateOptions `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	out, err := h.matrices.GenerateCombinations(c.Request.Context(), id, req.Options)
	if err != nil {
		h.fail(c, "generate_combinations_failed", err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/matrices/:id/rows/:rowId/render
func (h *MatrixHandler) RenderRow(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	job, err := h.matrices.RenderRow(c.Request.Context(), id, strings.TrimSpace(c.Param("rowId")))
	if err != nil {
		h.fail(c, "render_row_failed", err)
		return
	}
	if !job.Dispatched {
		response.RespondMessage(c, http.StatusOK, "render already in progress", job)
		return
	}
	response.RespondMessage(c, http.StatusAccepted, "render started", job)
}

// POST /api/matrices/:id/render-all
func (h *MatrixHandler) RenderAll(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	res, err := h.matrices.RenderAll(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "render_all_failed", err)
		return
	}
	response.RespondMessage(c, http.StatusOK, res.Message, res)
}

// PUT /api/matrices/:id/rows/:rowId/lock
func (h *MatrixHandler) SetRowLock(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	var req struct {
		Locked *bool `json:"locked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Locked == nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", bindError(err, "locked is required"))
		return
	}
	m, err := h.matrices.SetRowLock(c.Request.Context(), id, c.Param("rowId"), *req.Locked)
	if err != nil {
		h.fail(c, "set_row_lock_failed", err)
		return
	}
	response.RespondOK(c, m)
}

// PUT /api/matrices/:id/slots/:slotId/lock
func (h *MatrixHandler) SetSlotLock(c *gin.Context) {
	id, ok := matrixID(c)
	if !ok {
		return
	}
	var req struct {
		Locked      *bool  `json:"locked"`
		LockedValue string `json:"lockedValue"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Locked == nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", bindError(err, "locked is required"))
		return
	}
	m, err := h.matrices.SetSlotLock(c.Request.Context(), id, c.Param("slotId"), *req.Locked, req.LockedValue)
	if err != nil {
		h.fail(c, "set_slot_lock_failed", err)
		return
	}
	response.RespondOK(c, m)
}

func (h *MatrixHandler) fail(c *gin.Context, code string, err error) {
	respondServiceError(c, h.log, code, err)
}

// respondServiceError maps service errors onto status codes. Anything
// unrecognised is a 500 and gets logged; the client only sees a generic message.
func respondServiceError(c *gin.Context, log *logger.Logger, code string, err error) {
	if ae, ok := apierr.As(err); ok {
		response.RespondError(c, ae.Status, ae.Code, ae.Err)
		return
	}
	switch {
	case errors.Is(err, matrix.ErrValidation):
		response.RespondError(c, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, matrix.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, matrix.ErrConflict):
		response.RespondError(c, http.StatusConflict, "conflict", err)
	default:
		log.Error("request failed", "code", code, "path", c.FullPath(), "error", err)
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, code, err)
	}
}

func matrixID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_matrix_id", fmt.Errorf("invalid matrix id %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func bindError(err error, fallback string) error {
	if err != nil {
		return err
	}
	return errors.New(fallback)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/data/repos"
	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/modules/matrix"
	"github.com/yungbote/adforge-backend/internal/platform/apierr"
	"github.com/yungbote/adforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/adforge-backend/internal/platform/dbctx"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type CreateMatrixInput struct {
	CampaignID  uuid.UUID    `json:"campaignId"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Slots       []types.Slot `json:"slots"`
	Rows        []types.Row  `json:"rows"`
}

// UpdateMatrixInput is a partial update; nil fields are left as they are.
type UpdateMatrixInput struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Slots       *[]types.Slot `json:"slots"`
	Rows        *[]types.Row  `json:"rows"`
}

type GenerateOutcome struct {
	Matrix *types.MatrixConfiguration `json:"matrix"`
	Stats  matrix.GenerateStats       `json:"stats"`
}

// RenderDispatcher is the part of the render orchestrator the service drives.
type RenderDispatcher interface {
	RenderRow(ctx context.Context, m *types.MatrixConfiguration, rowID string) (*matrix.RenderJob, error)
	RenderAll(ctx context.Context, m *types.MatrixConfiguration) (*matrix.BatchResult, error)
}

type MatrixService interface {
	Create(ctx context.Context, in CreateMatrixInput) (*types.MatrixConfiguration, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.MatrixConfiguration, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*types.MatrixConfiguration, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateMatrixInput) (*types.MatrixConfiguration, error)
	GenerateCombinations(ctx context.Context, id uuid.UUID, opts matrix.GenerateOptions) (*GenerateOutcome, error)
	RenderRow(ctx context.Context, id uuid.UUID, rowID string) (*matrix.RenderJob, error)
	RenderAll(ctx context.Context, id uuid.UUID) (*matrix.BatchResult, error)
	SetSlotLock(ctx context.Context, id uuid.UUID, slotID string, locked bool, lockedValue string) (*types.MatrixConfiguration, error)
	SetRowLock(ctx context.Context, id uuid.UUID, rowID string, locked bool) (*types.MatrixConfiguration, error)
}

type matrixService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.MatrixConfigurationRepo
	render RenderDispatcher
	limits matrix.Limits
}

func NewMatrixService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.MatrixConfigurationRepo,
	render RenderDispatcher,
	limits matrix.Limits,
) MatrixService {
	return &matrixService{
		db:     db,
		log:    baseLog.With("service", "MatrixService"),
		repo:   repo,
		render: render,
		limits: limits,
	}
}

func (s *matrixService) Create(ctx context.Context, in CreateMatrixInput) (*types.MatrixConfiguration, error) {
	if in.CampaignID == uuid.Nil {
		return nil, matrix.ValidationError("campaignId is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, matrix.ValidationError("name is required")
	}
	slots, err := matrix.NormalizeSlots(in.Slots)
	if err != nil {
		return nil, err
	}
	rows, err := matrix.NormalizeRows(in.Rows, slots)
	if err != nil {
		return nil, err
	}

	m := &types.MatrixConfiguration{
		ID:          uuid.New(),
		CampaignID:  in.CampaignID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Slots:       slots,
		Rows:        rows,
	}
	if rd := ctxutil.GetRequestData(ctx); rd != nil && rd.UserID != uuid.Nil {
		owner := rd.UserID
		m.OwnerUserID = &owner
	}

	created, err := s.repo.Create(dbctx.Context{Ctx: ctx}, m)
	if err != nil {
		return nil, s.mapRepoError("create matrix", err)
	}
	s.log.Info("matrix created",
		"matrix_id", created.ID,
		"campaign_id", created.CampaignID,
		"slots", len(created.Slots),
		"rows", len(created.Rows),
	)
	return created, nil
}

func (s *matrixService) GetByID(ctx context.Context, id uuid.UUID) (*types.MatrixConfiguration, error) {
	return s.load(dbctx.Context{Ctx: ctx}, id)
}

func (s *matrixService) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*types.MatrixConfiguration, error) {
	if campaignID == uuid.Nil {
		return nil, matrix.ValidationError("campaignId is required")
	}
	out, err := s.repo.ListByCampaign(dbctx.Context{Ctx: ctx}, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list matrices: %w", err)
	}
	return out, nil
}

func (s *matrixService) Update(ctx context.Context, id uuid.UUID, in UpdateMatrixInput) (*types.MatrixConfiguration, error) {
	var out *types.MatrixConfiguration
	err := s.inTx(ctx, func(dbc dbctx.Context) error {
		m, err := s.load(dbc, id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return matrix.ValidationError("name must not be blank")
			}
			m.Name = name
			updates["name"] = name
		}
		if in.Description != nil {
			m.Description = strings.TrimSpace(*in.Description)
			updates["description"] = m.Description
		}

		// Rows dropped for no longer matching the slots are synced so the
		// survivors keep their stored render state; an explicit row list
		// replaces everything.
		syncRows, replaceRows := false, false
		if in.Slots != nil {
			slots, err := matrix.NormalizeSlots(*in.Slots)
			if err != nil {
				return err
			}
			m.Slots = slots
			updates["slots"] = datatypes.JSONSlice[types.Slot](slots)
			if in.Rows == nil {
				kept, dropped, err := conformingRows(m.Rows, m.SlotIDs())
				if err != nil {
					return err
				}
				if dropped > 0 {
					m.Rows = kept
					syncRows = true
					s.log.Info("dropped rows that no longer match the slots", "matrix_id", id, "dropped", dropped)
				}
			}
		}
		if in.Rows != nil {
			rows, err := matrix.NormalizeRows(*in.Rows, m.Slots)
			if err != nil {
				return err
			}
			m.Rows = rows
			replaceRows = true
		}

		if len(updates) > 0 {
			if err := s.repo.UpdateFields(dbc, id, updates); err != nil {
				return fmt.Errorf("update matrix: %w", err)
			}
		}
		switch {
		case replaceRows:
			if err := s.repo.ReplaceRows(dbc, id, m.Rows); err != nil {
				return s.mapRepoError("replace rows", err)
			}
		case syncRows:
			if err := s.repo.SyncRows(dbc, id, m.Rows); err != nil {
				return s.mapRepoError("sync rows", err)
			}
		}
		out, err = s.load(dbc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *matrixService) GenerateCombinations(ctx context.Context, id uuid.UUID, opts matrix.GenerateOptions) (*GenerateOutcome, error) {
	opts, err := opts.Resolve(s.limits)
	if err != nil {
		return nil, err
	}
	var outcome *GenerateOutcome
	err = s.inTx(ctx, func(dbc dbctx.Context) error {
		m, err := s.load(dbc, id)
		if err != nil {
			return err
		}
		res, err := matrix.GenerateCombinations(m, opts)
		if err != nil {
			return err
		}
		// Preserved rows stay as stored; a render that finished since the
		// load above must not be rolled back.
		if err := s.repo.SyncRows(dbc, id, res.Matrix.Rows); err != nil {
			return s.mapRepoError("sync rows", err)
		}
		saved, err := s.load(dbc, id)
		if err != nil {
			return err
		}
		outcome = &GenerateOutcome{Matrix: saved, Stats: res.Stats}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("combinations generated",
		"matrix_id", id,
		"preserved", outcome.Stats.PreservedRows,
		"generated", outcome.Stats.GeneratedRows,
		"total", outcome.Stats.TotalCombinations,
		"truncated", outcome.Stats.Truncated,
	)
	return outcome, nil
}

func (s *matrixService) RenderRow(ctx context.Context, id uuid.UUID, rowID string) (*matrix.RenderJob, error) {
	if strings.TrimSpace(rowID) == "" {
		return nil, matrix.ValidationError("rowId is required")
	}
	m, err := s.load(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if s.render == nil {
		return nil, errRenderUnavailable
	}
	job, err := s.render.RenderRow(ctx, m, rowID)
	return job, mapRenderError(err)
}

func (s *matrixService) RenderAll(ctx context.Context, id uuid.UUID) (*matrix.BatchResult, error) {
	m, err := s.load(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if s.render == nil {
		return nil, errRenderUnavailable
	}
	res, err := s.render.RenderAll(ctx, m)
	return res, mapRenderError(err)
}

func (s *matrixService) SetSlotLock(ctx context.Context, id uuid.UUID, slotID string, locked bool, lockedValue string) (*types.MatrixConfiguration, error) {
	var out *types.MatrixConfiguration
	err := s.inTx(ctx, func(dbc dbctx.Context) error {
		m, err := s.load(dbc, id)
		if err != nil {
			return err
		}
		next, err := matrix.SetSlotLock(m, slotID, locked, lockedValue)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateFields(dbc, id, map[string]interface{}{
			"slots": datatypes.JSONSlice[types.Slot](next.Slots),
		}); err != nil {
			return fmt.Errorf("update slots: %w", err)
		}
		out, err = s.load(dbc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("slot lock changed", "matrix_id", id, "slot_id", slotID, "locked", locked)
	return out, nil
}

func (s *matrixService) SetRowLock(ctx context.Context, id uuid.UUID, rowID string, locked bool) (*types.MatrixConfiguration, error) {
	var out *types.MatrixConfiguration
	err := s.inTx(ctx, func(dbc dbctx.Context) error {
		m, err := s.load(dbc, id)
		if err != nil {
			return err
		}
		next, err := matrix.SetRowLock(m, rowID, locked)
		if err != nil {
			return err
		}
		row := next.Rows[next.RowIndex(strings.TrimSpace(rowID))]
		// Single-row write so an in-flight render of this row keeps its status.
		if _, err := s.repo.UpdateRowFields(dbc, id, row.ID, map[string]interface{}{
			"locked":     row.Locked,
			"updated_at": time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("update row lock: %w", err)
		}
		out, err = s.load(dbc, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("row lock changed", "matrix_id", id, "row_id", rowID, "locked", locked)
	return out, nil
}

func (s *matrixService) load(dbc dbctx.Context, id uuid.UUID) (*types.MatrixConfiguration, error) {
	if id == uuid.Nil {
		return nil, matrix.ValidationError("matrix id is required")
	}
	m, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, fmt.Errorf("load matrix: %w", err)
	}
	if m == nil {
		return nil, matrix.NotFoundError("matrix %s not found", id)
	}
	return m, nil
}

func (s *matrixService) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if s.db == nil {
		return fn(dbctx.Context{Ctx: ctx})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

var errRenderUnavailable = apierr.New(http.StatusServiceUnavailable, "renderer_unavailable", errors.New("rendering is not configured"))

func mapRenderError(err error) error {
	if errors.Is(err, matrix.ErrShuttingDown) {
		return apierr.New(http.StatusServiceUnavailable, "shutting_down", err)
	}
	return err
}

func (s *matrixService) mapRepoError(op string, err error) error {
	if errors.Is(err, repos.ErrDuplicate) {
		return matrix.ConflictError("%s: duplicate id", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conformingRows keeps rows that still match slotIDs. A locked row that no
// longer matches is an error: it has to be unlocked before the slots change.
func conformingRows(rows []types.Row, slotIDs []string) ([]types.Row, int, error) {
	kept := make([]types.Row, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if r.Conforms(slotIDs) {
			kept = append(kept, r)
			continue
		}
		if r.Locked {
			return nil, 0, matrix.ValidationError("locked row %q does not match the new slots; unlock it first", r.ID)
		}
		dropped++
	}
	return kept, dropped, nil
}

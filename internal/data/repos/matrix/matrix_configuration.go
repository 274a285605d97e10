package matrix

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/platform/dbctx"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

// ErrDuplicate reports a unique-key collision on insert.
var ErrDuplicate = errors.New("duplicate key")

type MatrixConfigurationRepo interface {
	Create(dbc dbctx.Context, m *types.MatrixConfiguration) (*types.MatrixConfiguration, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MatrixConfiguration, error)
	ListByCampaign(dbc dbctx.Context, campaignID uuid.UUID) ([]*types.MatrixConfiguration, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ReplaceRows(dbc dbctx.Context, matrixID uuid.UUID, rows []types.Row) error
	SyncRows(dbc dbctx.Context, matrixID uuid.UUID, rows []types.Row) error
	GetRow(dbc dbctx.Context, matrixID uuid.UUID, rowID string) (*types.Row, error)
	UpdateRowFields(dbc dbctx.Context, matrixID uuid.UUID, rowID string, updates map[string]interface{}) (bool, error)
	ClaimRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, from []types.RowStatus, staleBefore time.Time) (bool, error)
	FinishRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, updates map[string]interface{}) (bool, error)
}

type matrixConfigurationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMatrixConfigurationRepo(db *gorm.DB, baseLog *logger.Logger) MatrixConfigurationRepo {
	return &matrixConfigurationRepo{
		db:  db,
		log: baseLog.With("repo", "MatrixConfigurationRepo"),
	}
}

func (r *matrixConfigurationRepo) Create(dbc dbctx.Context, m *types.MatrixConfiguration) (*types.MatrixConfiguration, error) {
	if m == nil {
		return nil, errors.New("matrix is nil")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return insertRows(tx, m.ID, m.Rows, now)
	})
	if err != nil {
		return nil, mapWriteError(err)
	}
	for i := range m.Rows {
		m.Rows[i].MatrixID = m.ID
		m.Rows[i].Position = i
		m.Rows[i].UpdatedAt = now
	}
	return m, nil
}

func (r *matrixConfigurationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MatrixConfiguration, error) {
	transaction := dbc.Conn(r.db)
	if id == uuid.Nil {
		return nil, nil
	}
	var m types.MatrixConfiguration
	if err := transaction.Where("id = ?", id).Limit(1).Find(&m).Error; err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil {
		return nil, nil
	}
	rows := []types.Row{}
	if err := transaction.Where("matrix_id = ?", id).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	m.Rows = rows
	return &m, nil
}

func (r *matrixConfigurationRepo) ListByCampaign(dbc dbctx.Context, campaignID uuid.UUID) ([]*types.MatrixConfiguration, error) {
	transaction := dbc.Conn(r.db)
	out := []*types.MatrixConfiguration{}
	if campaignID == uuid.Nil {
		return out, nil
	}
	if err := transaction.
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(out))
	byID := make(map[uuid.UUID]*types.MatrixConfiguration, len(out))
	for _, m := range out {
		m.Rows = []types.Row{}
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}
	var rows []types.Row
	if err := transaction.
		Where("matrix_id IN ?", ids).
		Order("matrix_id, position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		if m := byID[row.MatrixID]; m != nil {
			m.Rows = append(m.Rows, row)
		}
	}
	return out, nil
}

func (r *matrixConfigurationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).
		Model(&types.MatrixConfiguration{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ReplaceRows swaps the whole row list for the matrix, renumbering positions.
func (r *matrixConfigurationRepo) ReplaceRows(dbc dbctx.Context, matrixID uuid.UUID, rows []types.Row) error {
	now := time.Now().UTC()
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		if err := tx.Where("matrix_id = ?", matrixID).Delete(&types.Row{}).Error; err != nil {
			return err
		}
		if err := insertRows(tx, matrixID, rows, now); err != nil {
			return err
		}
		return tx.Model(&types.MatrixConfiguration{}).
			Where("id = ?", matrixID).
			Update("updated_at", now).Error
	})
	return mapWriteError(err)
}

// SyncRows makes rows the matrix's row list without rewriting rows that are
// already stored: those keep their status, job and output and only move to
// their new position. Unlisted rows are deleted and unknown ones inserted.
func (r *matrixConfigurationRepo) SyncRows(dbc dbctx.Context, matrixID uuid.UUID, rows []types.Row) error {
	now := time.Now().UTC()
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		var stored []string
		if err := tx.Model(&types.Row{}).
			Where("matrix_id = ?", matrixID).
			Pluck("id", &stored).Error; err != nil {
			return err
		}
		have := make(map[string]bool, len(stored))
		for _, id := range stored {
			have[id] = true
		}

		seen := make(map[string]bool, len(rows))
		keep := make([]string, 0, len(rows))
		fresh := make([]types.Row, 0, len(rows))
		for i, row := range rows {
			if seen[row.ID] {
				return errors.Join(ErrDuplicate, fmt.Errorf("row %s listed twice", row.ID))
			}
			seen[row.ID] = true
			if !have[row.ID] {
				row = row.Clone()
				row.MatrixID = matrixID
				row.Position = i
				row.UpdatedAt = now
				if row.Values == nil {
					row.Values = map[string]string{}
				}
				fresh = append(fresh, row)
				continue
			}
			keep = append(keep, row.ID)
			// UpdateColumn leaves updated_at alone; stale-claim detection reads it.
			if err := tx.Model(&types.Row{}).
				Where("matrix_id = ? AND id = ?", matrixID, row.ID).
				UpdateColumn("position", i).Error; err != nil {
				return err
			}
		}

		del := tx.Where("matrix_id = ?", matrixID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&types.Row{}).Error; err != nil {
			return err
		}
		if len(fresh) > 0 {
			if err := tx.CreateInBatches(&fresh, 200).Error; err != nil {
				return err
			}
		}
		return tx.Model(&types.MatrixConfiguration{}).
			Where("id = ?", matrixID).
			Update("updated_at", now).Error
	})
	return mapWriteError(err)
}

func (r *matrixConfigurationRepo) GetRow(dbc dbctx.Context, matrixID uuid.UUID, rowID string) (*types.Row, error) {
	var row types.Row
	err := dbc.Conn(r.db).
		Where("matrix_id = ? AND id = ?", matrixID, rowID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *matrixConfigurationRepo) UpdateRowFields(dbc dbctx.Context, matrixID uuid.UUID, rowID string, updates map[string]interface{}) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.Row{}).
		Where("matrix_id = ? AND id = ?", matrixID, rowID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimRow moves the row into rendering under jobID when its status is one
// of from. A non-zero staleBefore also lets it take over a rendering claim
// that has not been touched since then.
func (r *matrixConfigurationRepo) ClaimRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, from []types.RowStatus, staleBefore time.Time) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	q := dbc.Conn(r.db).
		Model(&types.Row{}).
		Where("matrix_id = ? AND id = ?", matrixID, rowID)
	switch {
	case len(statuses) > 0 && !staleBefore.IsZero():
		q = q.Where("(status IN ? OR (status = ? AND updated_at < ?))",
			statuses, string(types.RowStatusRendering), staleBefore.UTC())
	case len(statuses) > 0:
		q = q.Where("status IN ?", statuses)
	case !staleBefore.IsZero():
		q = q.Where("status = ? AND updated_at < ?", string(types.RowStatusRendering), staleBefore.UTC())
	default:
		return false, nil
	}
	res := q.Updates(map[string]interface{}{
		"status":        string(types.RowStatusRendering),
		"render_job_id": jobID,
		"last_error":    "",
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *matrixConfigurationRepo) FinishRow(dbc dbctx.Context, matrixID uuid.UUID, rowID, jobID string, updates map[string]interface{}) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.Row{}).
		Where("matrix_id = ? AND id = ? AND status = ? AND render_job_id = ?",
			matrixID, rowID, string(types.RowStatusRendering), jobID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *matrixConfigurationRepo) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.Tx != nil {
		return fn(dbc.Conn(r.db))
	}
	return dbc.Conn(r.db).Transaction(fn)
}

func insertRows(tx *gorm.DB, matrixID uuid.UUID, rows []types.Row, now time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]types.Row, len(rows))
	for i, row := range rows {
		row = row.Clone()
		row.MatrixID = matrixID
		row.Position = i
		row.UpdatedAt = now
		if row.Values == nil {
			row.Values = map[string]string{}
		}
		batch[i] = row
	}
	return tx.CreateInBatches(&batch, 200).Error
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.TrimSpace(pgErr.Code) == "23505" {
		return errors.Join(ErrDuplicate, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

func SeedMatrix(tb testing.TB, ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, createdAt time.Time) *types.MatrixConfiguration {
	tb.Helper()
	m := &types.MatrixConfiguration{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Name:       "matrix",
		Slots: []types.Slot{
			{ID: "visual", Type: "visual", CandidateIDs: []string{"A", "B"}},
			{ID: "copy", Type: "copy", CandidateIDs: []string{"X"}},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed matrix: %v", err)
	}
	return m
}

func SeedRow(tb testing.TB, ctx context.Context, tx *gorm.DB, matrixID uuid.UUID, id string, position int, status types.RowStatus) *types.Row {
	tb.Helper()
	r := &types.Row{
		MatrixID:  matrixID,
		ID:        id,
		Position:  position,
		Values:    map[string]string{"visual": "A", "copy": "X"},
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed row: %v", err)
	}
	return r
}

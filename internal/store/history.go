package store

import (
	"context"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

func (s *gormStore) AppendHistory(ctx context.Context, rows ...model.StatusHistory) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).Create(&rows).Error; err != nil {
		return translate(err, "append status history")
	}
	return nil
}

func (s *gormStore) ListHistory(ctx context.Context, entity lifecycle.EntityKind, entityID string) ([]model.StatusHistory, error) {
	var out []model.StatusHistory
	if err := s.conn(ctx).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("at asc, id asc").
		Find(&out).Error; err != nil {
		return nil, translate(err, "list status history")
	}
	return out, nil
}

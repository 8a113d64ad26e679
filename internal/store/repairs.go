package store

import (
	"context"
	"time"

	"cassette-tracker-backend/internal/model"
)

func (s *gormStore) CreateRepair(ctx context.Context, r *model.RepairSubTicket) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return translate(err, "create repair")
	}
	return nil
}

func (s *gormStore) GetRepair(ctx context.Context, id string, includeDeleted bool) (model.RepairSubTicket, error) {
	q := s.conn(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var r model.RepairSubTicket
	if err := q.Where("id = ?", id).First(&r).Error; err != nil {
		return model.RepairSubTicket{}, notFound(err, "get repair", "repair", id)
	}
	return r, nil
}

// UpdateRepair applies updates guarded by the row version and returns the reloaded row.
func (s *gormStore) UpdateRepair(ctx context.Context, r model.RepairSubTicket, updates map[string]any) (model.RepairSubTicket, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = r.Version + 1

	res := s.conn(ctx).Unscoped().Model(&model.RepairSubTicket{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(values)
	if res.Error != nil {
		return model.RepairSubTicket{}, translate(res.Error, "update repair")
	}
	if res.RowsAffected == 0 {
		return model.RepairSubTicket{}, staleVersion("update repair", "repair", r.ID, r.Version)
	}
	return s.GetRepair(ctx, r.ID, true)
}

func (s *gormStore) ListRepairs(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.RepairSubTicket, error) {
	q := s.conn(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var out []model.RepairSubTicket
	if err := q.Where("cassette_id = ?", cassetteID).Order("created_at asc, id asc").Find(&out).Error; err != nil {
		return nil, translate(err, "list repairs")
	}
	return out, nil
}

func (s *gormStore) SoftDeleteRepair(ctx context.Context, id, actor, cause string, at time.Time) error {
	return s.markDeleted(ctx, &model.RepairSubTicket{}, id, actor, cause, at, "soft delete repair")
}

func (s *gormStore) RestoreRepair(ctx context.Context, id string) error {
	err := s.conn(ctx).Unscoped().Model(&model.RepairSubTicket{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at":    nil,
			"deleted_by":    "",
			"deleted_cause": "",
		}).Error
	return translate(err, "restore repair")
}

package store

import (
	"context"
	"time"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

func (s *gormStore) CreateCassette(ctx context.Context, c *model.Cassette) error {
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return translate(err, "create cassette")
	}
	return nil
}

func (s *gormStore) GetCassette(ctx context.Context, id string) (model.Cassette, error) {
	var c model.Cassette
	if err := s.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return model.Cassette{}, notFound(err, "get cassette", "cassette", id)
	}
	return c, nil
}

// LockCassette loads the cassette row for update. Concurrent writers on the
// same cassette block on postgres and lose the version check everywhere else.
func (s *gormStore) LockCassette(ctx context.Context, id string) (model.Cassette, error) {
	var c model.Cassette
	if err := s.forUpdate(s.conn(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return model.Cassette{}, notFound(err, "lock cassette", "cassette", id)
	}
	return c, nil
}

func (s *gormStore) ListCassettes(ctx context.Context, filter CassetteFilter) ([]model.Cassette, error) {
	q := s.conn(ctx).Model(&model.Cassette{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.BankCode != "" {
		q = q.Where("bank_code = ?", filter.BankCode)
	}
	if filter.AfterID != "" {
		q = q.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []model.Cassette
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, translate(err, "list cassettes")
	}
	return out, nil
}

// UpdateCassetteStatus writes a new status guarded by the row version.
func (s *gormStore) UpdateCassetteStatus(ctx context.Context, c model.Cassette, to lifecycle.CassetteStatus, actor string, clearMachine bool, at time.Time) (model.Cassette, error) {
	updates := map[string]any{
		"status":     to,
		"version":    c.Version + 1,
		"updated_by": actor,
		"updated_at": at,
	}
	if clearMachine {
		updates["machine_id"] = nil
	}

	res := s.conn(ctx).Model(&model.Cassette{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(updates)
	if res.Error != nil {
		return model.Cassette{}, translate(res.Error, "update cassette status")
	}
	if res.RowsAffected == 0 {
		return model.Cassette{}, staleVersion("update cassette status", "cassette", c.ID, c.Version)
	}

	c.Status = to
	c.Version++
	c.UpdatedBy = actor
	c.UpdatedAt = at
	if clearMachine {
		c.MachineID = nil
	}
	return c, nil
}

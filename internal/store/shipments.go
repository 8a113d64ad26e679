package store

import (
	"context"
	"time"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

func (s *gormStore) CreateDelivery(ctx context.Context, d *model.DeliveryRecord) error {
	if err := s.conn(ctx).Create(d).Error; err != nil {
		return translate(err, "create delivery")
	}
	return nil
}

func (s *gormStore) GetDelivery(ctx context.Context, id string) (model.DeliveryRecord, error) {
	var d model.DeliveryRecord
	if err := s.conn(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return model.DeliveryRecord{}, notFound(err, "get delivery", "delivery", id)
	}
	return d, nil
}

// MarkDeliveryReceived sets the receipt timestamp exactly once.
func (s *gormStore) MarkDeliveryReceived(ctx context.Context, id, actor string, at time.Time) error {
	res := s.conn(ctx).Model(&model.DeliveryRecord{}).
		Where("id = ? AND received_at IS NULL", id).
		Updates(map[string]any{"received_at": at, "received_by": actor})
	if res.Error != nil {
		return translate(res.Error, "mark delivery received")
	}
	if res.RowsAffected == 0 {
		return lifecycle.Errorf(lifecycle.ErrAlreadyReceived, "mark delivery received", "delivery", id, "receipt already recorded")
	}
	return nil
}

// FindOpenDelivery returns the live, unreceived delivery for the cassette, if any.
func (s *gormStore) FindOpenDelivery(ctx context.Context, cassetteID string) (*model.DeliveryRecord, error) {
	return first[model.DeliveryRecord](
		s.conn(ctx).Where("cassette_id = ? AND received_at IS NULL", cassetteID),
		"find open delivery")
}

// LatestDelivery returns the most recently shipped live delivery for the cassette.
func (s *gormStore) LatestDelivery(ctx context.Context, cassetteID string) (*model.DeliveryRecord, error) {
	return first[model.DeliveryRecord](
		s.conn(ctx).Where("cassette_id = ?", cassetteID).Order("shipped_at desc"),
		"latest delivery")
}

func (s *gormStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.DeliveryRecord, error) {
	q := s.conn(ctx)
	if filter.IncludeDeleted {
		q = q.Unscoped()
	}
	if filter.TicketID != "" {
		q = q.Where("ticket_id = ?", filter.TicketID)
	}
	if filter.CassetteID != "" {
		q = q.Where("cassette_id = ?", filter.CassetteID)
	}

	var out []model.DeliveryRecord
	if err := q.Order("shipped_at asc, id asc").Find(&out).Error; err != nil {
		return nil, translate(err, "list deliveries")
	}
	return out, nil
}

// SoftDeleteDelivery marks one delivery deleted, e.g. when it lands for a withdrawn ticket.
func (s *gormStore) SoftDeleteDelivery(ctx context.Context, id, actor, cause string, at time.Time) error {
	return s.markDeleted(ctx, &model.DeliveryRecord{}, id, actor, cause, at, "soft delete delivery")
}

func (s *gormStore) CreateReturn(ctx context.Context, r *model.ReturnRecord) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return translate(err, "create return")
	}
	return nil
}

func (s *gormStore) GetReturn(ctx context.Context, id string) (model.ReturnRecord, error) {
	var r model.ReturnRecord
	if err := s.conn(ctx).Preload("Items").Where("id = ?", id).First(&r).Error; err != nil {
		return model.ReturnRecord{}, notFound(err, "get return", "return", id)
	}
	return r, nil
}

func (s *gormStore) FindReturnForTicket(ctx context.Context, ticketID string) (*model.ReturnRecord, error) {
	return first[model.ReturnRecord](
		s.conn(ctx).Preload("Items").Where("ticket_id = ?", ticketID),
		"find return for ticket")
}

// FindOpenReturnForCassette returns the live, unreceived return carrying the cassette.
func (s *gormStore) FindOpenReturnForCassette(ctx context.Context, cassetteID string) (*model.ReturnRecord, error) {
	db := s.conn(ctx)
	items := db.Model(&model.ReturnItem{}).Select("return_id").Where("cassette_id = ?", cassetteID)
	return first[model.ReturnRecord](
		db.Preload("Items").Where("received_at IS NULL AND id IN (?)", items),
		"find open return for cassette")
}

// MarkReturnReceived sets the receipt timestamp exactly once.
func (s *gormStore) MarkReturnReceived(ctx context.Context, id, actor string, at time.Time) error {
	res := s.conn(ctx).Model(&model.ReturnRecord{}).
		Where("id = ? AND received_at IS NULL", id).
		Updates(map[string]any{"received_at": at, "received_by": actor})
	if res.Error != nil {
		return translate(res.Error, "mark return received")
	}
	if res.RowsAffected == 0 {
		return lifecycle.Errorf(lifecycle.ErrAlreadyReceived, "mark return received", "return", id, "receipt already recorded")
	}
	return nil
}

func (s *gormStore) SoftDeleteReturn(ctx context.Context, id, actor, cause string, at time.Time) error {
	return s.markDeleted(ctx, &model.ReturnRecord{}, id, actor, cause, at, "soft delete return")
}

func (s *gormStore) ListReturnsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.ReturnRecord, error) {
	db := s.conn(ctx)
	items := db.Model(&model.ReturnItem{}).Select("return_id").Where("cassette_id = ?", cassetteID)

	q := db
	if includeDeleted {
		q = q.Unscoped()
	}
	var out []model.ReturnRecord
	if err := q.Preload("Items").
		Where("id IN (?)", items).
		Order("shipped_at asc, id asc").
		Find(&out).Error; err != nil {
		return nil, translate(err, "list returns for cassette")
	}
	return out, nil
}

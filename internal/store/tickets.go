package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"cassette-tracker-backend/internal/model"
)

func (s *gormStore) CreateTicket(ctx context.Context, t *model.ServiceTicket) error {
	if err := s.conn(ctx).Create(t).Error; err != nil {
		return translate(err, "create ticket")
	}
	return nil
}

// TicketNumberTaken reports whether any ticket, withdrawn ones included,
// already carries number.
func (s *gormStore) TicketNumberTaken(ctx context.Context, number string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Unscoped().Model(&model.ServiceTicket{}).
		Where("ticket_number = ?", number).
		Count(&n).Error; err != nil {
		return false, translate(err, "check ticket number")
	}
	return n > 0, nil
}

func (s *gormStore) GetTicket(ctx context.Context, id string, includeDeleted bool) (model.ServiceTicket, error) {
	q := s.conn(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var t model.ServiceTicket
	if err := q.Where("id = ?", id).First(&t).Error; err != nil {
		return model.ServiceTicket{}, notFound(err, "get ticket", "ticket", id)
	}
	return s.withDetails(ctx, t)
}

// LockTicket loads the ticket row for update, then its details.
func (s *gormStore) LockTicket(ctx context.Context, id string, includeDeleted bool) (model.ServiceTicket, error) {
	q := s.forUpdate(s.conn(ctx))
	if includeDeleted {
		q = q.Unscoped()
	}
	var t model.ServiceTicket
	if err := q.Where("id = ?", id).First(&t).Error; err != nil {
		return model.ServiceTicket{}, notFound(err, "lock ticket", "ticket", id)
	}
	return s.withDetails(ctx, t)
}

// withDetails loads every detail row, deleted ones included, so that a
// withdrawn ticket still reports which cassettes it touched.
func (s *gormStore) withDetails(ctx context.Context, t model.ServiceTicket) (model.ServiceTicket, error) {
	var details []model.TicketDetail
	if err := s.conn(ctx).Unscoped().
		Where("ticket_id = ?", t.ID).
		Order("created_at asc, id asc").
		Find(&details).Error; err != nil {
		return model.ServiceTicket{}, translate(err, "load ticket details")
	}
	t.Details = details
	return t, nil
}

// UpdateTicket applies updates guarded by the row version and returns the reloaded ticket.
func (s *gormStore) UpdateTicket(ctx context.Context, t model.ServiceTicket, updates map[string]any) (model.ServiceTicket, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = t.Version + 1

	res := s.conn(ctx).Unscoped().Model(&model.ServiceTicket{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(values)
	if res.Error != nil {
		return model.ServiceTicket{}, translate(res.Error, "update ticket")
	}
	if res.RowsAffected == 0 {
		return model.ServiceTicket{}, staleVersion("update ticket", "ticket", t.ID, t.Version)
	}
	return s.GetTicket(ctx, t.ID, true)
}

// SoftDeleteTicket marks the ticket deleted and cascades the marker to the live
// details it owns and to deliveries and returns that have already arrived,
// tagged so that a restore can undo it. Shipments still in transit stay live
// until they are received.
func (s *gormStore) SoftDeleteTicket(ctx context.Context, t model.ServiceTicket, actor string, at time.Time) error {
	if _, err := s.UpdateTicket(ctx, t, map[string]any{
		"deleted_at": at,
		"deleted_by": actor,
		"updated_by": actor,
		"updated_at": at,
	}); err != nil {
		return err
	}

	cascade := map[string]any{
		"deleted_at":    at,
		"deleted_by":    actor,
		"deleted_cause": model.DeletedByTicket,
	}
	db := s.conn(ctx)
	if err := db.Model(&model.TicketDetail{}).Where("ticket_id = ?", t.ID).Updates(cascade).Error; err != nil {
		return translate(err, "cascade ticket soft delete")
	}
	for _, m := range []any{&model.DeliveryRecord{}, &model.ReturnRecord{}} {
		if err := db.Model(m).
			Where("ticket_id = ? AND received_at IS NOT NULL", t.ID).
			Updates(cascade).Error; err != nil {
			return translate(err, "cascade ticket soft delete")
		}
	}
	return nil
}

// RestoreTicket clears the ticket's marker and the markers it cascaded.
func (s *gormStore) RestoreTicket(ctx context.Context, t model.ServiceTicket, actor string, at time.Time) error {
	if _, err := s.UpdateTicket(ctx, t, map[string]any{
		"deleted_at": nil,
		"deleted_by": "",
		"updated_by": actor,
		"updated_at": at,
	}); err != nil {
		return err
	}

	clear := map[string]any{
		"deleted_at":    nil,
		"deleted_by":    "",
		"deleted_cause": "",
	}
	db := s.conn(ctx).Unscoped()
	for _, m := range []any{&model.TicketDetail{}, &model.DeliveryRecord{}, &model.ReturnRecord{}} {
		if err := db.Model(m).
			Where("ticket_id = ? AND deleted_cause = ?", t.ID, model.DeletedByTicket).
			Updates(clear).Error; err != nil {
			return translate(err, "cascade ticket restore")
		}
	}
	return nil
}

// ListTicketsForCassette finds tickets referencing the cassette through either
// the legacy direct column or a detail row.
func (s *gormStore) ListTicketsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.ServiceTicket, error) {
	db := s.conn(ctx)
	sub := db.Session(&gorm.Session{NewDB: true}).Unscoped().
		Model(&model.TicketDetail{}).
		Select("ticket_id").
		Where("cassette_id = ?", cassetteID)

	q := db
	if includeDeleted {
		q = q.Unscoped()
	}
	var tickets []model.ServiceTicket
	if err := q.Where("cassette_id = ? OR id IN (?)", cassetteID, sub).
		Order("created_at asc, id asc").
		Find(&tickets).Error; err != nil {
		return nil, translate(err, "list tickets for cassette")
	}

	for i := range tickets {
		withDetails, err := s.withDetails(ctx, tickets[i])
		if err != nil {
			return nil, err
		}
		tickets[i] = withDetails
	}
	return tickets, nil
}

func (s *gormStore) ListDetailsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.TicketDetail, error) {
	q := s.conn(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var details []model.TicketDetail
	if err := q.Where("cassette_id = ?", cassetteID).Order("created_at asc, id asc").Find(&details).Error; err != nil {
		return nil, translate(err, "list details for cassette")
	}
	return details, nil
}

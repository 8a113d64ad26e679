package notification

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/parse"
)

// ErrSubscriptionNotFound is returned for an endpoint nobody registered.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SaveSubscription upserts a browser subscription and replaces the tickets it
// follows. refs may be ticket IDs or ticket numbers; unknown refs are ignored.
func SaveSubscription(ctx context.Context, db *gorm.DB, sub model.PushSubscription, refs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&sub).Error; err != nil {
			return err
		}

		tickets := []model.ServiceTicket{}
		ids, numbers := splitTicketRefs(refs)
		if len(ids)+len(numbers) > 0 {
			if err := tx.Where("id IN ? OR ticket_number IN ?", orNone(ids), orNone(numbers)).Find(&tickets).Error; err != nil {
				return err
			}
		}
		return tx.Model(&sub).Association("Tickets").Replace(&tickets)
	})
}

// SubscribedTickets returns the IDs of the tickets an endpoint follows.
func SubscribedTickets(ctx context.Context, db *gorm.DB, endpoint string) ([]string, error) {
	var sub model.PushSubscription
	err := db.WithContext(ctx).Preload("Tickets").First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(sub.Tickets))
	for i, t := range sub.Tickets {
		ids[i] = t.ID
	}
	return ids, nil
}

// DeleteSubscription removes a subscription and its ticket mappings.
func DeleteSubscription(ctx context.Context, db *gorm.DB, endpoint string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_ticket_mapping WHERE push_subscription_endpoint = ?", endpoint).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}

// splitTicketRefs separates well-formed ticket numbers from everything else,
// which is treated as a ticket ID.
func splitTicketRefs(refs []string) (ids, numbers []string) {
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, err := parse.ParseTicketNumber(ref); err == nil {
			numbers = append(numbers, strings.ToUpper(ref))
			continue
		}
		ids = append(ids, ref)
	}
	return ids, numbers
}

// orNone keeps "IN ?" valid for an empty list.
func orNone(s []string) []string {
	if len(s) == 0 {
		return []string{""}
	}
	return s
}

package model

import (
	"time"

	"cassette-tracker-backend/internal/lifecycle"
)

// StatusHistory is the append-only audit log of status changes.
type StatusHistory struct {
	ID        int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	Entity    lifecycle.EntityKind `gorm:"size:16;not null;index:idx_history_entity,priority:1" json:"entity"`
	EntityID  string               `gorm:"size:36;not null;index:idx_history_entity,priority:2" json:"entityId"`
	OldStatus string               `gorm:"size:32;not null" json:"oldStatus"`
	NewStatus string               `gorm:"size:32;not null" json:"newStatus"`
	Actor     string               `gorm:"size:128;not null" json:"actor"`
	Reason    string               `gorm:"size:64" json:"reason"`
	At        time.Time            `gorm:"not null;index" json:"at"`
}

package model

import (
	"time"

	"gorm.io/gorm"

	"cassette-tracker-backend/internal/lifecycle"
)

// Deletion causes recorded next to a soft-delete marker.
const (
	DeletedManually     = "manual"
	DeletedByTicket     = "ticket"    // cascaded from the owning ticket
	DeletedByReconciler = "reconcile" // repair hidden by the consistency resolver
)

// ServiceTicket is a problem report covering one or more cassettes.
type ServiceTicket struct {
	ID              string                 `gorm:"primaryKey;size:36" json:"id"`
	TicketNumber    string                 `gorm:"uniqueIndex;size:32;not null" json:"ticketNumber"`
	CassetteID      *string                `gorm:"size:36;index" json:"cassetteId"` // legacy single-cassette shape
	Priority        lifecycle.Priority     `gorm:"size:16;not null" json:"priority"`
	Status          lifecycle.TicketStatus `gorm:"size:32;not null;index" json:"status"`
	Outcome         string                 `gorm:"size:64" json:"outcome"`
	ResolutionNotes string                 `gorm:"type:text" json:"resolutionNotes"`
	ReportedBy      string                 `gorm:"size:128;not null" json:"reportedBy"`
	UpdatedBy       string                 `gorm:"size:128" json:"updatedBy"`
	Version         int64                  `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time              `gorm:"not null" json:"createdAt"`
	UpdatedAt       time.Time              `gorm:"not null" json:"updatedAt"`
	DeletedAt       gorm.DeletedAt         `gorm:"index" json:"deletedAt"`
	DeletedBy       string                 `gorm:"size:128" json:"deletedBy,omitempty"`

	// Associations
	Details []TicketDetail `gorm:"foreignKey:TicketID" json:"details,omitempty"`
}

// TicketDetail links a multi-cassette ticket to one of its cassettes.
type TicketDetail struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	TicketID     string         `gorm:"size:36;index;not null" json:"ticketId"`
	CassetteID   string         `gorm:"size:36;index;not null" json:"cassetteId"`
	CreatedAt    time.Time      `gorm:"not null" json:"createdAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deletedAt"`
	DeletedBy    string         `gorm:"size:128" json:"deletedBy,omitempty"`
	DeletedCause string         `gorm:"size:16" json:"deletedCause,omitempty"`
}

// IsDeleted reports whether the ticket carries a soft-delete marker.
func (t ServiceTicket) IsDeleted() bool { return t.DeletedAt.Valid }

// IsDeleted reports whether the detail carries a soft-delete marker.
func (d TicketDetail) IsDeleted() bool { return d.DeletedAt.Valid }

package model

import (
	"time"

	"gorm.io/gorm"
)

// DeliveryRecord is a shipment of one cassette from the vendor to the repair center.
// ReceivedAt is set once and never changed; nil means the cassette is in transit.
type DeliveryRecord struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	TicketID       string         `gorm:"size:36;index;not null" json:"ticketId"`
	CassetteID     string         `gorm:"size:36;index;not null" json:"cassetteId"`
	Courier        string         `gorm:"size:128" json:"courier"`
	TrackingNumber string         `gorm:"size:128" json:"trackingNumber"`
	ShippedAt      time.Time      `gorm:"not null" json:"shippedAt"`
	ShippedBy      string         `gorm:"size:128;not null" json:"shippedBy"`
	ReceivedAt     *time.Time     `json:"receivedAt"`
	ReceivedBy     string         `gorm:"size:128" json:"receivedBy,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deletedAt"`
	DeletedBy      string         `gorm:"size:128" json:"deletedBy,omitempty"`
	DeletedCause   string         `gorm:"size:16" json:"deletedCause,omitempty"`
}

// ReturnRecord is a shipment of a ticket's cassettes from the repair center back to the vendor.
type ReturnRecord struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	TicketID       string         `gorm:"size:36;index;not null" json:"ticketId"`
	Courier        string         `gorm:"size:128" json:"courier"`
	TrackingNumber string         `gorm:"size:128" json:"trackingNumber"`
	ShippedAt      time.Time      `gorm:"not null" json:"shippedAt"`
	ShippedBy      string         `gorm:"size:128;not null" json:"shippedBy"`
	ReceivedAt     *time.Time     `json:"receivedAt"`
	ReceivedBy     string         `gorm:"size:128" json:"receivedBy,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deletedAt"`
	DeletedBy      string         `gorm:"size:128" json:"deletedBy,omitempty"`
	DeletedCause   string         `gorm:"size:16" json:"deletedCause,omitempty"`

	// Associations
	Items []ReturnItem `gorm:"foreignKey:ReturnID" json:"items,omitempty"`
}

// ReturnItem is one cassette inside a return shipment.
type ReturnItem struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	ReturnID   string `gorm:"size:36;uniqueIndex:ux_return_item,priority:1;not null" json:"returnId"`
	CassetteID string `gorm:"size:36;uniqueIndex:ux_return_item,priority:2;index;not null" json:"cassetteId"`
}

func (d DeliveryRecord) IsDeleted() bool  { return d.DeletedAt.Valid }
func (d DeliveryRecord) IsReceived() bool { return d.ReceivedAt != nil }
func (r ReturnRecord) IsDeleted() bool    { return r.DeletedAt.Valid }
func (r ReturnRecord) IsReceived() bool   { return r.ReceivedAt != nil }

// CassetteIDs lists the cassettes carried by the return.
func (r ReturnRecord) CassetteIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.CassetteID)
	}
	return ids
}

package lifecycle

import "time"

// EntityKind names the entity whose status changed.
type EntityKind string

const (
	EntityCassette EntityKind = "cassette"
	EntityTicket   EntityKind = "ticket"
	EntityRepair   EntityKind = "repair"
)

// Event is a status change produced by the core for external consumers.
// Ticket events always carry TicketID and TicketNumber.
type Event struct {
	Entity       EntityKind `json:"entity"`
	EntityID     string     `json:"entityId"`
	TicketID     string     `json:"ticketId,omitempty"`
	TicketNumber string     `json:"ticketNumber,omitempty"`
	OldStatus    string     `json:"oldStatus"`
	NewStatus    string     `json:"newStatus"`
	Actor        string     `json:"actor"`
	At           time.Time  `json:"at"`
}

// TicketEvents filters events down to ticket status changes.
func TicketEvents(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Entity == EntityTicket {
			out = append(out, e)
		}
	}
	return out
}

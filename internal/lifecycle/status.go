package lifecycle

// CassetteStatus is the physical/logistic state of a cassette.
type CassetteStatus string

const (
	CassetteOK                   CassetteStatus = "OK"
	CassetteBad                  CassetteStatus = "BAD"
	CassetteInTransitToRC        CassetteStatus = "IN_TRANSIT_TO_RC"
	CassetteInRepair             CassetteStatus = "IN_REPAIR"
	CassetteInTransitToPengelola CassetteStatus = "IN_TRANSIT_TO_PENGELOLA"
	CassetteScrapped             CassetteStatus = "SCRAPPED"
)

// TicketStatus is the customer-facing progression of a service ticket.
type TicketStatus string

const (
	TicketOpen          TicketStatus = "OPEN"
	TicketInDelivery    TicketStatus = "IN_DELIVERY"
	TicketReceived      TicketStatus = "RECEIVED"
	TicketInProgress    TicketStatus = "IN_PROGRESS"
	TicketResolved      TicketStatus = "RESOLVED"
	TicketReturnShipped TicketStatus = "RETURN_SHIPPED"
	TicketClosed        TicketStatus = "CLOSED"
)

// RepairStatus is the work state of a repair sub-ticket at the repair center.
type RepairStatus string

const (
	RepairReceived   RepairStatus = "RECEIVED"
	RepairDiagnosing RepairStatus = "DIAGNOSING"
	RepairOnProgress RepairStatus = "ON_PROGRESS"
	RepairCompleted  RepairStatus = "COMPLETED"
	RepairScrapped   RepairStatus = "SCRAPPED"
)

// UsageRole is informational only.
type UsageRole string

const (
	UsageMain   UsageRole = "MAIN"
	UsageBackup UsageRole = "BACKUP"
)

// Priority of a service ticket.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var (
	allCassetteStatuses = []CassetteStatus{
		CassetteOK, CassetteBad, CassetteInTransitToRC, CassetteInRepair,
		CassetteInTransitToPengelola, CassetteScrapped,
	}
	ticketOrder = []TicketStatus{
		TicketOpen, TicketInDelivery, TicketReceived, TicketInProgress,
		TicketResolved, TicketReturnShipped, TicketClosed,
	}
	repairOrder = []RepairStatus{
		RepairReceived, RepairDiagnosing, RepairOnProgress,
	}
)

// CassetteStatuses returns every known cassette status.
func CassetteStatuses() []CassetteStatus {
	out := make([]CassetteStatus, len(allCassetteStatuses))
	copy(out, allCassetteStatuses)
	return out
}

// TicketStatuses returns the ticket statuses in their linear order.
func TicketStatuses() []TicketStatus {
	out := make([]TicketStatus, len(ticketOrder))
	copy(out, ticketOrder)
	return out
}

// RepairStatuses returns every repair status, open ones first.
func RepairStatuses() []RepairStatus {
	return append(append([]RepairStatus{}, repairOrder...), RepairCompleted, RepairScrapped)
}

func (s CassetteStatus) Valid() bool {
	for _, v := range allCassetteStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s CassetteStatus) Terminal() bool { return s == CassetteScrapped }

func (s TicketStatus) Valid() bool { return s.index() >= 0 }

func (s TicketStatus) Terminal() bool { return s == TicketClosed }

func (s TicketStatus) index() int {
	for i, v := range ticketOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Before reports whether s comes strictly before other in the linear order.
func (s TicketStatus) Before(other TicketStatus) bool {
	i, j := s.index(), other.index()
	return i >= 0 && j >= 0 && i < j
}

func (s RepairStatus) Valid() bool {
	switch s {
	case RepairReceived, RepairDiagnosing, RepairOnProgress, RepairCompleted, RepairScrapped:
		return true
	}
	return false
}

// Terminal is true for COMPLETED and SCRAPPED.
func (s RepairStatus) Terminal() bool {
	return s == RepairCompleted || s == RepairScrapped
}

func (r UsageRole) Valid() bool { return r == UsageMain || r == UsageBackup }

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

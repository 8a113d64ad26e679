package lifecycle

// cassetteTransitions is the only table the registry consults.
// SCRAPPED has no outgoing edges.
var cassetteTransitions = map[CassetteStatus]map[CassetteStatus]struct{}{
	CassetteOK: {
		CassetteInTransitToRC:        {},
		CassetteBad:                  {},
		CassetteInTransitToPengelola: {},
	},
	CassetteBad: {
		CassetteInTransitToRC: {},
		CassetteOK:            {},
	},
	CassetteInTransitToRC: {
		CassetteInRepair: {},
	},
	CassetteInRepair: {
		CassetteOK:       {},
		CassetteScrapped: {},
	},
	CassetteInTransitToPengelola: {
		CassetteOK: {},
	},
	CassetteScrapped: {},
}

// CanTransitionCassette reports whether from -> to is an allowed cassette edge.
func CanTransitionCassette(from, to CassetteStatus) bool {
	next, ok := cassetteTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// NextTicketStatus returns the single status that may follow s.
func NextTicketStatus(s TicketStatus) (TicketStatus, bool) {
	i := s.index()
	if i < 0 || i == len(ticketOrder)-1 {
		return "", false
	}
	return ticketOrder[i+1], true
}

// CanAdvanceTicket enforces the strict linear ticket order.
func CanAdvanceTicket(from, to TicketStatus) bool {
	next, ok := NextTicketStatus(from)
	return ok && next == to
}

// TicketPath returns the statuses to pass through to get from -> to, excluding from.
// It returns nil when to does not lie ahead of from.
func TicketPath(from, to TicketStatus) []TicketStatus {
	i, j := from.index(), to.index()
	if i < 0 || j <= i {
		return nil
	}
	out := make([]TicketStatus, 0, j-i)
	out = append(out, ticketOrder[i+1:j+1]...)
	return out
}

// CanTransitionRepair enforces RECEIVED -> DIAGNOSING -> ON_PROGRESS -> {COMPLETED, SCRAPPED}.
func CanTransitionRepair(from, to RepairStatus) bool {
	switch from {
	case RepairReceived:
		return to == RepairDiagnosing
	case RepairDiagnosing:
		return to == RepairOnProgress
	case RepairOnProgress:
		return to == RepairCompleted || to == RepairScrapped
	}
	return false
}

// RepairPath returns the intermediate steps (excluding from) needed to reach to.
func RepairPath(from, to RepairStatus) []RepairStatus {
	var out []RepairStatus
	cur := from
	for i := 0; i < len(repairOrder)+1; i++ {
		if CanTransitionRepair(cur, to) {
			return append(out, to)
		}
		var step RepairStatus
		switch cur {
		case RepairReceived:
			step = RepairDiagnosing
		case RepairDiagnosing:
			step = RepairOnProgress
		default:
			return nil
		}
		out = append(out, step)
		cur = step
	}
	return nil
}

// RepairOutcome maps a QC result to the repair and cassette terminal statuses.
func RepairOutcome(qcPassed bool) (RepairStatus, CassetteStatus) {
	if qcPassed {
		return RepairCompleted, CassetteOK
	}
	return RepairScrapped, CassetteScrapped
}

// CassetteOutcomeOf maps a terminal repair status to the cassette status it implies.
func CassetteOutcomeOf(s RepairStatus) (CassetteStatus, bool) {
	switch s {
	case RepairCompleted:
		return CassetteOK, true
	case RepairScrapped:
		return CassetteScrapped, true
	}
	return "", false
}

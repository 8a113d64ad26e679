package core

import (
	"context"
	"strings"
	"time"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/parse"
	"cassette-tracker-backend/internal/store"
)

// CreateTicketInput opens a service ticket against one or more cassettes.
type CreateTicketInput struct {
	CassetteIDs []string
	Priority    lifecycle.Priority
	Reporter    string
}

// ResolveInput records the outcome of a ticket.
type ResolveInput struct {
	TicketID string
	Outcome  string
	Notes    string
}

// TicketResult is returned by ticket operations. Reconciled is filled by
// soft delete and restore.
type TicketResult struct {
	Ticket     model.ServiceTicket
	Events     []lifecycle.Event
	Reconciled []ReconcileResult
}

// CreateTicket opens a ticket. A single cassette is stored in both association
// shapes so older readers of the direct reference keep working.
func (s *Service) CreateTicket(ctx context.Context, in CreateTicketInput) (TicketResult, error) {
	const op = "create ticket"
	if err := requireActor(op, in.Reporter); err != nil {
		return TicketResult{}, err
	}
	priority := in.Priority
	if priority == "" {
		priority = lifecycle.PriorityMedium
	}
	if !priority.Valid() {
		return TicketResult{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "ticket", "", "unknown priority %q", priority)
	}

	var refs []string
	for _, id := range in.CassetteIDs {
		id = strings.TrimSpace(id)
		if id != "" && !contains(refs, id) {
			refs = append(refs, id)
		}
	}
	if len(refs) == 0 {
		return TicketResult{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "ticket", "", "at least one cassette is required")
	}

	rec := s.newRecorder(in.Reporter)
	t := model.ServiceTicket{
		ID:         s.newID(),
		Priority:   priority,
		Status:     lifecycle.TicketOpen,
		ReportedBy: in.Reporter,
		UpdatedBy:  in.Reporter,
		Version:    1,
		CreatedAt:  rec.at,
		UpdatedAt:  rec.at,
	}
	if len(refs) == 1 {
		legacy := refs[0]
		t.CassetteID = &legacy
	}

	err := s.commit(ctx, rec, func(ctx context.Context) error {
		for _, id := range refs {
			c, err := s.store.GetCassette(ctx, id)
			if err != nil {
				return err
			}
			if c.Status.Terminal() {
				return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "cassette", id, "cassette is %s", c.Status)
			}
		}

		for _, id := range refs {
			t.Details = append(t.Details, model.TicketDetail{
				ID:         s.newID(),
				TicketID:   t.ID,
				CassetteID: id,
				CreatedAt:  rec.at,
			})
		}
		number, err := s.freeTicketNumber(ctx, op, rec.at)
		if err != nil {
			return err
		}
		t.TicketNumber = number
		if err := s.store.CreateTicket(ctx, &t); err != nil {
			return err
		}
		rec.ticket(t, "", t.Status, "opened")
		return nil
	})
	if err != nil {
		return TicketResult{}, err
	}
	return TicketResult{Ticket: t, Events: rec.events}, nil
}

// ticketNumberAttempts bounds how many suffixes CreateTicket tries before
// giving up on a day that is running out of free numbers.
const ticketNumberAttempts = 8

// freeTicketNumber picks a ticket number no stored ticket uses yet. The unique
// index still catches two creates racing for the same fresh number.
func (s *Service) freeTicketNumber(ctx context.Context, op string, at time.Time) (string, error) {
	for i := 0; i < ticketNumberAttempts; i++ {
		number := parse.FormatTicketNumber(at, s.newSuffix())
		taken, err := s.store.TicketNumberTaken(ctx, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
	return "", lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, "ticket", "", "no free ticket number after %d attempts", ticketNumberAttempts)
}

// GetTicket returns a ticket with its detail rows.
func (s *Service) GetTicket(ctx context.Context, id string, includeDeleted bool) (model.ServiceTicket, error) {
	return s.store.GetTicket(ctx, id, includeDeleted)
}

// ListTicketsForCassette returns the tickets that reference a cassette.
func (s *Service) ListTicketsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.ServiceTicket, error) {
	return s.store.ListTicketsForCassette(ctx, cassetteID, includeDeleted)
}

// Advance moves a ticket to the next status in its linear order. Advancing to
// RESOLVED is held to the same cassette-set rule as Resolve.
func (s *Service) Advance(ctx context.Context, ticketID string, to lifecycle.TicketStatus, actor string) (TicketResult, error) {
	const op = "advance ticket"
	if err := requireActor(op, actor); err != nil {
		return TicketResult{}, err
	}
	if !to.Valid() {
		return TicketResult{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "ticket", ticketID, "unknown status %q", to)
	}

	rec := s.newRecorder(actor)
	var out model.ServiceTicket
	err := s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, ticketID, false)
		if err != nil {
			return err
		}
		if !lifecycle.CanAdvanceTicket(t.Status, to) {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "ticket", t.ID, "%s -> %s", t.Status, to)
		}
		if to == lifecycle.TicketResolved {
			if err := s.requireCompleteSet(ctx, op, t); err != nil {
				return err
			}
		}
		out, err = s.setTicketStatus(ctx, rec, t, to, nil, "manual")
		return err
	})
	if err != nil {
		return TicketResult{}, err
	}
	return TicketResult{Ticket: out, Events: rec.events}, nil
}

// Resolve closes out the repair phase of a ticket once every cassette it
// covers has a terminal repair outcome.
func (s *Service) Resolve(ctx context.Context, in ResolveInput, actor string) (TicketResult, error) {
	const op = "resolve ticket"
	if err := requireActor(op, actor); err != nil {
		return TicketResult{}, err
	}

	rec := s.newRecorder(actor)
	var out model.ServiceTicket
	err := s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, in.TicketID, false)
		if err != nil {
			return err
		}
		if t.Status != lifecycle.TicketInProgress {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "ticket", t.ID, "%s -> %s", t.Status, lifecycle.TicketResolved)
		}
		if err := s.requireCompleteSet(ctx, op, t); err != nil {
			return err
		}
		extra := map[string]any{}
		if in.Outcome != "" {
			extra["outcome"] = in.Outcome
		}
		if in.Notes != "" {
			extra["resolution_notes"] = in.Notes
		}
		out, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketResolved, extra, "resolved")
		return err
	})
	if err != nil {
		return TicketResult{}, err
	}
	return TicketResult{Ticket: out, Events: rec.events}, nil
}

// SoftDeleteTicket withdraws a ticket and reconciles every cassette it touched
// in the same transaction.
func (s *Service) SoftDeleteTicket(ctx context.Context, ticketID, actor string) (TicketResult, error) {
	const op = "soft delete ticket"
	if err := requireActor(op, actor); err != nil {
		return TicketResult{}, err
	}

	pre, err := s.store.GetTicket(ctx, ticketID, true)
	if err != nil {
		return TicketResult{}, err
	}
	touched, err := s.touchedCassettes(ctx, pre)
	if err != nil {
		return TicketResult{}, err
	}
	unlock := s.locks.Lock(touched...)
	defer unlock()

	rec := s.newRecorder(actor)
	var result TicketResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, ticketID, true)
		if err != nil {
			return err
		}
		if t.IsDeleted() {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "ticket", t.ID, "ticket is already deleted")
		}
		if t.Status.Terminal() {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "ticket", t.ID, "a %s ticket cannot be deleted", t.Status)
		}

		if err := s.store.SoftDeleteTicket(ctx, t, actor, rec.at); err != nil {
			return err
		}
		rec.note(lifecycle.EntityTicket, t.ID, string(t.Status), "soft_deleted")

		for _, id := range touched {
			res, err := s.reconcileInTx(ctx, rec, id)
			if err != nil {
				return err
			}
			result.Reconciled = append(result.Reconciled, res)
		}

		result.Ticket, err = s.store.GetTicket(ctx, t.ID, true)
		return err
	})
	if err != nil {
		return TicketResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// RestoreTicket undoes a soft delete and reconciles every cassette the ticket touched.
func (s *Service) RestoreTicket(ctx context.Context, ticketID, actor string) (TicketResult, error) {
	const op = "restore ticket"
	if err := requireActor(op, actor); err != nil {
		return TicketResult{}, err
	}

	pre, err := s.store.GetTicket(ctx, ticketID, true)
	if err != nil {
		return TicketResult{}, err
	}
	touched, err := s.touchedCassettes(ctx, pre)
	if err != nil {
		return TicketResult{}, err
	}
	unlock := s.locks.Lock(touched...)
	defer unlock()

	rec := s.newRecorder(actor)
	var result TicketResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, ticketID, true)
		if err != nil {
			return err
		}
		if !t.IsDeleted() {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "ticket", t.ID, "ticket is not deleted")
		}
		if err := s.checkRestoreConflicts(ctx, t); err != nil {
			return err
		}

		if err := s.store.RestoreTicket(ctx, t, actor, rec.at); err != nil {
			return err
		}
		rec.note(lifecycle.EntityTicket, t.ID, string(t.Status), "restored")

		for _, id := range touched {
			res, err := s.reconcileInTx(ctx, rec, id)
			if err != nil {
				return err
			}
			result.Reconciled = append(result.Reconciled, res)
		}

		result.Ticket, err = s.store.GetTicket(ctx, t.ID, false)
		return err
	})
	if err != nil {
		return TicketResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// checkRestoreConflicts rejects a restore that would bring back a delivery or
// return while the cassette is already travelling for another ticket.
func (s *Service) checkRestoreConflicts(ctx context.Context, t model.ServiceTicket) error {
	const op = "restore ticket"
	deliveries, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{TicketID: t.ID, IncludeDeleted: true})
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		if d.DeletedCause != model.DeletedByTicket {
			continue
		}
		open, err := s.store.FindOpenDelivery(ctx, d.CassetteID)
		if err != nil {
			return err
		}
		if open != nil && open.TicketID != t.ID {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "ticket", t.ID,
				"cassette %s already has open delivery %s", d.CassetteID, open.ID)
		}
	}

	live, err := s.store.FindReturnForTicket(ctx, t.ID)
	if err != nil {
		return err
	}
	if live != nil {
		return nil
	}
	for _, id := range AffectedCassettes(t, true) {
		open, err := s.store.FindOpenReturnForCassette(ctx, id)
		if err != nil {
			return err
		}
		if open != nil && open.TicketID != t.ID {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "ticket", t.ID,
				"cassette %s is already on return %s", id, open.ID)
		}
	}
	return nil
}

// setTicketStatus writes one linear step and records it.
func (s *Service) setTicketStatus(ctx context.Context, rec *recorder, t model.ServiceTicket, to lifecycle.TicketStatus, extra map[string]any, reason string) (model.ServiceTicket, error) {
	if !lifecycle.CanAdvanceTicket(t.Status, to) {
		return model.ServiceTicket{}, lifecycle.Errorf(lifecycle.ErrInvalidTransition, "advance ticket", "ticket", t.ID, "%s -> %s", t.Status, to)
	}
	updates := map[string]any{
		"status":     to,
		"updated_by": rec.actor,
		"updated_at": rec.at,
	}
	for k, v := range extra {
		updates[k] = v
	}
	updated, err := s.store.UpdateTicket(ctx, t, updates)
	if err != nil {
		return model.ServiceTicket{}, err
	}
	rec.ticket(updated, t.Status, to, reason)
	return updated, nil
}

func (s *Service) requireCompleteSet(ctx context.Context, op string, t model.ServiceTicket) error {
	pending, err := s.pendingCassettes(ctx, t)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return lifecycle.Errorf(lifecycle.ErrIncompleteCassetteSet, op, "ticket", t.ID,
			"cassettes without a terminal repair outcome: %s", strings.Join(pending, ", "))
	}
	return nil
}

// pendingCassettes lists the affected cassettes whose latest repair for this
// ticket is missing or still open. A repair belongs to the ticket through its
// delivery; an unlinked repair counts when it was opened after the ticket.
func (s *Service) pendingCassettes(ctx context.Context, t model.ServiceTicket) ([]string, error) {
	deliveries, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{TicketID: t.ID})
	if err != nil {
		return nil, err
	}
	own := make(map[string]struct{}, len(deliveries))
	for _, d := range deliveries {
		own[d.ID] = struct{}{}
	}

	affected := s.affectedCassettes(t)
	if len(affected) == 0 {
		return []string{"(none)"}, nil
	}

	var pending []string
	for _, id := range affected {
		repairs, err := s.store.ListRepairs(ctx, id, false)
		if err != nil {
			return nil, err
		}

		var linked, recent *model.RepairSubTicket
		for i := range repairs {
			r := &repairs[i]
			if r.DeliveryID != nil {
				if _, ok := own[*r.DeliveryID]; ok {
					linked = r
				}
			}
			if r.DeliveryID == nil && !r.CreatedAt.Before(t.CreatedAt) {
				recent = r
			}
		}
		latest := linked
		if latest == nil {
			latest = recent
		}
		if latest == nil || !latest.Status.Terminal() {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

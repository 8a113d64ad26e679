package core

import (
	"context"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

// CompleteRepairInput closes a repair sub-ticket with a QC verdict.
type CompleteRepairInput struct {
	RepairID          string
	QCPassed          bool
	RepairActionTaken string
	PartsReplaced     string
	Notes             string
}

// RepairResult is returned by repair operations. Tickets holds every ticket
// whose status moved as a consequence.
type RepairResult struct {
	Repair   model.RepairSubTicket
	Cassette *model.Cassette
	Tickets  []model.ServiceTicket
	Events   []lifecycle.Event
}

// GetRepair returns a repair sub-ticket.
func (s *Service) GetRepair(ctx context.Context, id string, includeDeleted bool) (model.RepairSubTicket, error) {
	return s.store.GetRepair(ctx, id, includeDeleted)
}

// ListRepairs returns the repair sub-tickets of a cassette.
func (s *Service) ListRepairs(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.RepairSubTicket, error) {
	return s.store.ListRepairs(ctx, cassetteID, includeDeleted)
}

// AdvanceRepair moves a repair one step forward. Terminal statuses are only
// reachable through CompleteRepair.
func (s *Service) AdvanceRepair(ctx context.Context, repairID string, to lifecycle.RepairStatus, actor string) (RepairResult, error) {
	const op = "advance repair"
	if err := requireActor(op, actor); err != nil {
		return RepairResult{}, err
	}
	if !to.Valid() {
		return RepairResult{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "repair", repairID, "unknown status %q", to)
	}
	if to.Terminal() {
		return RepairResult{}, lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "repair", repairID, "%s is set by completing the repair", to)
	}

	pre, err := s.store.GetRepair(ctx, repairID, false)
	if err != nil {
		return RepairResult{}, err
	}
	unlock := s.locks.Lock(pre.CassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var result RepairResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		r, err := s.store.GetRepair(ctx, repairID, false)
		if err != nil {
			return err
		}
		if r, err = s.setRepairStatus(ctx, rec, r, to, nil); err != nil {
			return err
		}
		result.Repair = r

		if to == lifecycle.RepairDiagnosing {
			result.Tickets, err = s.startWork(ctx, rec, r.CassetteID)
		}
		return err
	})
	if err != nil {
		return RepairResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// CompleteRepair records the QC verdict, steps the repair through any skipped
// states, moves the cassette to OK or SCRAPPED and resolves every ticket whose
// cassette set is now complete. All of it commits or none of it does.
func (s *Service) CompleteRepair(ctx context.Context, in CompleteRepairInput, actor string) (RepairResult, error) {
	const op = "complete repair"
	if err := requireActor(op, actor); err != nil {
		return RepairResult{}, err
	}

	pre, err := s.store.GetRepair(ctx, in.RepairID, false)
	if err != nil {
		return RepairResult{}, err
	}
	unlock := s.locks.Lock(pre.CassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var result RepairResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		r, err := s.store.GetRepair(ctx, in.RepairID, false)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "repair", r.ID, "repair is already %s", r.Status)
		}

		repairTo, cassetteTo := lifecycle.RepairOutcome(in.QCPassed)
		path := lifecycle.RepairPath(r.Status, repairTo)
		if path == nil {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "repair", r.ID, "%s -> %s", r.Status, repairTo)
		}
		for i, step := range path {
			var extra map[string]any
			if i == len(path)-1 {
				extra = map[string]any{
					"qc_passed":           in.QCPassed,
					"repair_action_taken": in.RepairActionTaken,
					"parts_replaced":      in.PartsReplaced,
					"notes":               in.Notes,
					"completed_at":        rec.at,
				}
			}
			if r, err = s.setRepairStatus(ctx, rec, r, step, extra); err != nil {
				return err
			}
			if step == lifecycle.RepairDiagnosing {
				started, err := s.startWork(ctx, rec, r.CassetteID)
				if err != nil {
					return err
				}
				result.Tickets = append(result.Tickets, started...)
			}
		}
		result.Repair = r

		if err := s.fault("repair_updated"); err != nil {
			return err
		}

		c, err := s.store.LockCassette(ctx, r.CassetteID)
		if err != nil {
			return err
		}
		// The resolver may already have released the cassette of a restored ticket.
		if c.Status != cassetteTo {
			if c, err = s.transitionCassette(ctx, rec, c, cassetteTo, "repair_"+string(repairTo)); err != nil {
				return err
			}
		}
		result.Cassette = &c

		if err := s.fault("cassette_updated"); err != nil {
			return err
		}

		resolved, err := s.resolveCompleteTickets(ctx, rec, r.CassetteID)
		if err != nil {
			return err
		}
		result.Tickets = mergeTickets(result.Tickets, resolved)
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

func (s *Service) setRepairStatus(ctx context.Context, rec *recorder, r model.RepairSubTicket, to lifecycle.RepairStatus, extra map[string]any) (model.RepairSubTicket, error) {
	if !lifecycle.CanTransitionRepair(r.Status, to) {
		return model.RepairSubTicket{}, lifecycle.Errorf(lifecycle.ErrInvalidTransition, "advance repair", "repair", r.ID, "%s -> %s", r.Status, to)
	}
	updates := map[string]any{
		"status":     to,
		"updated_by": rec.actor,
		"updated_at": rec.at,
	}
	for k, v := range extra {
		updates[k] = v
	}
	updated, err := s.store.UpdateRepair(ctx, r, updates)
	if err != nil {
		return model.RepairSubTicket{}, err
	}
	rec.repair(r.ID, r.Status, to, "repair")
	return updated, nil
}

// startWork moves RECEIVED tickets for the cassette to IN_PROGRESS once
// diagnosis begins.
func (s *Service) startWork(ctx context.Context, rec *recorder, cassetteID string) ([]model.ServiceTicket, error) {
	tickets, err := s.store.ListTicketsForCassette(ctx, cassetteID, false)
	if err != nil {
		return nil, err
	}
	var out []model.ServiceTicket
	for _, t := range tickets {
		if t.Status != lifecycle.TicketReceived {
			continue
		}
		locked, err := s.store.LockTicket(ctx, t.ID, false)
		if err != nil {
			return nil, err
		}
		updated, err := s.setTicketStatus(ctx, rec, locked, lifecycle.TicketInProgress, nil, "diagnosing")
		if err != nil {
			return nil, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// resolveCompleteTickets brings every live ticket on the cassette that is
// waiting on repairs up to RESOLVED, if all of its cassettes are done.
func (s *Service) resolveCompleteTickets(ctx context.Context, rec *recorder, cassetteID string) ([]model.ServiceTicket, error) {
	tickets, err := s.store.ListTicketsForCassette(ctx, cassetteID, false)
	if err != nil {
		return nil, err
	}
	var out []model.ServiceTicket
	for _, t := range tickets {
		if t.Status != lifecycle.TicketReceived && t.Status != lifecycle.TicketInProgress {
			continue
		}
		if !contains(s.affectedCassettes(t), cassetteID) {
			continue
		}
		locked, err := s.store.LockTicket(ctx, t.ID, false)
		if err != nil {
			return nil, err
		}
		pending, err := s.pendingCassettes(ctx, locked)
		if err != nil {
			return nil, err
		}
		if len(pending) > 0 {
			continue
		}
		for _, step := range lifecycle.TicketPath(locked.Status, lifecycle.TicketResolved) {
			if locked, err = s.setTicketStatus(ctx, rec, locked, step, nil, "repairs_complete"); err != nil {
				return nil, err
			}
		}
		out = append(out, locked)
	}
	return out, nil
}

func mergeTickets(a, b []model.ServiceTicket) []model.ServiceTicket {
	out := append([]model.ServiceTicket{}, a...)
	for _, t := range b {
		replaced := false
		for i := range out {
			if out[i].ID == t.ID {
				out[i] = t
				replaced = true
			}
		}
		if !replaced {
			out = append(out, t)
		}
	}
	return out
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

// SystemActor is recorded on changes made by the resolver on its own behalf.
const SystemActor = "system:reconciler"

// Graph is everything recorded about one cassette, soft-deleted rows included.
type Graph struct {
	Cassette   model.Cassette
	Deliveries []model.DeliveryRecord
	Details    []model.TicketDetail
	Tickets    map[string]model.ServiceTicket
	Repairs    []model.RepairSubTicket
	Returns    []model.ReturnRecord
}

// Plan is the set of writes that brings a Graph back to a consistent state.
type Plan struct {
	DeleteRepairs  []string
	RestoreRepairs []string
	CassetteTarget lifecycle.CassetteStatus
	CloseTicketID  string
	Notes          []string
}

// Empty reports whether applying the plan would write nothing.
func (p Plan) Empty() bool {
	return len(p.DeleteRepairs) == 0 && len(p.RestoreRepairs) == 0 &&
		p.CassetteTarget == "" && p.CloseTicketID == ""
}

// ReconcileResult describes what one reconciliation changed.
type ReconcileResult struct {
	CassetteID string            `json:"cassetteId"`
	Changed    bool              `json:"changed"`
	Actions    []string          `json:"actions,omitempty"`
	Events     []lifecycle.Event `json:"events,omitempty"`
}

// Derive computes the plan for a cassette graph. It has no side effects, and
// deriving again from the graph the plan produces yields an empty plan.
func Derive(g Graph) Plan {
	var p Plan
	c := g.Cassette

	deliveries := make(map[string]model.DeliveryRecord, len(g.Deliveries))
	for _, d := range g.Deliveries {
		deliveries[d.ID] = d
	}
	detailTickets := make(map[string]struct{}, len(g.Details))
	for _, d := range g.Details {
		detailTickets[d.TicketID] = struct{}{}
	}

	// Legacy tickets reference the cassette only through the direct column.
	var legacy []model.ServiceTicket
	for _, t := range g.Tickets {
		if t.CassetteID == nil || *t.CassetteID != c.ID {
			continue
		}
		if _, ok := detailTickets[t.ID]; !ok {
			legacy = append(legacy, t)
		}
	}

	hasAssoc := len(g.Deliveries) > 0 || len(g.Details) > 0 || len(legacy) > 0
	liveAssoc := false
	waiting := false
	ticketWaiting := func(ticketID string) bool {
		t, ok := g.Tickets[ticketID]
		if !ok {
			return true
		}
		return !t.IsDeleted() && t.Status.Before(lifecycle.TicketResolved)
	}
	for _, d := range g.Deliveries {
		if !d.IsDeleted() {
			liveAssoc = true
			waiting = waiting || ticketWaiting(d.TicketID)
		}
	}
	for _, d := range g.Details {
		if !d.IsDeleted() {
			liveAssoc = true
			waiting = waiting || ticketWaiting(d.TicketID)
		}
	}
	for _, t := range legacy {
		if !t.IsDeleted() {
			liveAssoc = true
			waiting = waiting || ticketWaiting(t.ID)
		}
	}

	repairLive := func(r model.RepairSubTicket) bool {
		if r.DeliveryID != nil {
			if d, ok := deliveries[*r.DeliveryID]; ok {
				return !d.IsDeleted()
			}
		}
		return !hasAssoc || liveAssoc
	}

	var visible []model.RepairSubTicket
	for _, r := range g.Repairs {
		live := repairLive(r)
		switch {
		case !r.IsDeleted() && !live:
			p.DeleteRepairs = append(p.DeleteRepairs, r.ID)
		case r.IsDeleted() && live && r.DeletedCause == model.DeletedByReconciler:
			p.RestoreRepairs = append(p.RestoreRepairs, r.ID)
			visible = append(visible, r)
		case !r.IsDeleted() && live:
			visible = append(visible, r)
		}
	}

	// A received return that nothing has been shipped after is the latest
	// physical event for the cassette.
	var lastReturn *model.ReturnRecord
	for i := range g.Returns {
		r := &g.Returns[i]
		if r.IsDeleted() || !r.IsReceived() {
			continue
		}
		if lastReturn == nil || r.ReceivedAt.After(*lastReturn.ReceivedAt) {
			lastReturn = r
		}
	}
	if lastReturn != nil {
		shippedSince := false
		for _, d := range g.Deliveries {
			if !d.IsDeleted() && d.ShippedAt.After(*lastReturn.ReceivedAt) {
				shippedSince = true
			}
		}
		if !shippedSince {
			if t, ok := g.Tickets[lastReturn.TicketID]; ok && !t.IsDeleted() && t.Status == lifecycle.TicketReturnShipped {
				p.CloseTicketID = t.ID
			}
			switch {
			case c.Status == lifecycle.CassetteOK:
			case c.Status == lifecycle.CassetteScrapped:
				p.Notes = append(p.Notes, fmt.Sprintf("return %s received for scrapped cassette, status kept", lastReturn.ID))
			case lifecycle.CanTransitionCassette(c.Status, lifecycle.CassetteOK):
				p.CassetteTarget = lifecycle.CassetteOK
			default:
				p.Notes = append(p.Notes, fmt.Sprintf("return %s received but %s -> OK is not allowed", lastReturn.ID, c.Status))
			}
			return p
		}
	}

	if c.Status != lifecycle.CassetteInRepair {
		return p
	}

	if len(visible) == 0 {
		if !waiting {
			p.CassetteTarget = lifecycle.CassetteOK
		}
		return p
	}

	latest := visible[0]
	for _, r := range visible {
		if !r.Status.Terminal() {
			return p
		}
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if waiting {
		return p
	}
	if target, ok := lifecycle.CassetteOutcomeOf(latest.Status); ok {
		p.CassetteTarget = target
	}
	return p
}

// Reconcile recomputes repair visibility and cassette status for one cassette.
// Inconsistent input is logged and left alone; only infrastructure errors are returned.
func (s *Service) Reconcile(ctx context.Context, cassetteID, actor string) (ReconcileResult, error) {
	if actor == "" {
		actor = SystemActor
	}
	unlock := s.locks.Lock(cassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var result ReconcileResult
	err := s.commit(ctx, rec, func(ctx context.Context) error {
		var err error
		result, err = s.reconcileInTx(ctx, rec, cassetteID)
		return err
	})
	if err != nil {
		return ReconcileResult{CassetteID: cassetteID}, err
	}
	result.Events = rec.events
	return result, nil
}

// reconcileInTx runs inside the caller's transaction; the caller holds the cassette's key.
func (s *Service) reconcileInTx(ctx context.Context, rec *recorder, cassetteID string) (ReconcileResult, error) {
	result := ReconcileResult{CassetteID: cassetteID}

	c, err := s.store.LockCassette(ctx, cassetteID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			log.Printf("reconcile %s: cassette not found, skipping", cassetteID)
			return result, nil
		}
		return result, err
	}

	g, err := s.loadGraph(ctx, c)
	if err != nil {
		return result, err
	}
	plan := Derive(g)
	for _, n := range plan.Notes {
		log.Printf("reconcile %s: %s", c.ID, n)
	}

	statusOf := make(map[string]lifecycle.RepairStatus, len(g.Repairs))
	for _, r := range g.Repairs {
		statusOf[r.ID] = r.Status
	}
	for _, id := range plan.DeleteRepairs {
		if err := s.store.SoftDeleteRepair(ctx, id, rec.actor, model.DeletedByReconciler, rec.at); err != nil {
			return result, err
		}
		rec.note(lifecycle.EntityRepair, id, string(statusOf[id]), "reconcile_hidden")
		result.Actions = append(result.Actions, "hid repair "+id)
	}
	for _, id := range plan.RestoreRepairs {
		if err := s.store.RestoreRepair(ctx, id); err != nil {
			return result, err
		}
		rec.note(lifecycle.EntityRepair, id, string(statusOf[id]), "reconcile_restored")
		result.Actions = append(result.Actions, "restored repair "+id)
	}

	if plan.CassetteTarget != "" {
		from := c.Status
		_, err := s.transitionCassette(ctx, rec, c, plan.CassetteTarget, "reconcile")
		switch {
		case err == nil:
			result.Actions = append(result.Actions, fmt.Sprintf("cassette %s -> %s", from, plan.CassetteTarget))
		case skippable(err):
			log.Printf("reconcile %s: skipping cassette transition: %v", c.ID, err)
		default:
			return result, err
		}
	}

	if plan.CloseTicketID != "" {
		err := s.closeTicket(ctx, rec, plan.CloseTicketID)
		switch {
		case err == nil:
			result.Actions = append(result.Actions, "closed ticket "+plan.CloseTicketID)
		case skippable(err):
			log.Printf("reconcile %s: skipping ticket close: %v", c.ID, err)
		default:
			return result, err
		}
	}

	result.Changed = len(result.Actions) > 0
	return result, nil
}

func (s *Service) closeTicket(ctx context.Context, rec *recorder, ticketID string) error {
	t, err := s.store.LockTicket(ctx, ticketID, false)
	if err != nil {
		return err
	}
	_, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketClosed, nil, "reconcile")
	return err
}

// skippable reports whether a resolver write failed on a domain rule rather
// than on the database. Lost races still abort the transaction.
func skippable(err error) bool {
	kind := lifecycle.KindOf(err)
	return kind != nil && kind != lifecycle.ErrConcurrentModification
}

func (s *Service) loadGraph(ctx context.Context, c model.Cassette) (Graph, error) {
	g := Graph{Cassette: c, Tickets: make(map[string]model.ServiceTicket)}
	var err error

	if g.Deliveries, err = s.store.ListDeliveries(ctx, store.DeliveryFilter{CassetteID: c.ID, IncludeDeleted: true}); err != nil {
		return Graph{}, err
	}
	if g.Details, err = s.store.ListDetailsForCassette(ctx, c.ID, true); err != nil {
		return Graph{}, err
	}
	if g.Repairs, err = s.store.ListRepairs(ctx, c.ID, true); err != nil {
		return Graph{}, err
	}
	if g.Returns, err = s.store.ListReturnsForCassette(ctx, c.ID, true); err != nil {
		return Graph{}, err
	}

	tickets, err := s.store.ListTicketsForCassette(ctx, c.ID, true)
	if err != nil {
		return Graph{}, err
	}
	for _, t := range tickets {
		g.Tickets[t.ID] = t
	}

	var missing []string
	for _, d := range g.Deliveries {
		missing = append(missing, d.TicketID)
	}
	for _, r := range g.Returns {
		missing = append(missing, r.TicketID)
	}
	for _, id := range missing {
		if _, ok := g.Tickets[id]; ok {
			continue
		}
		t, err := s.store.GetTicket(ctx, id, true)
		if errors.Is(err, lifecycle.ErrNotFound) {
			continue
		}
		if err != nil {
			return Graph{}, err
		}
		g.Tickets[id] = t
	}
	return g, nil
}

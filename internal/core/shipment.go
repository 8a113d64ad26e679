package core

import (
	"context"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

// ShippingMeta is the courier information attached to a shipment.
type ShippingMeta struct {
	Courier        string
	TrackingNumber string
}

// DeliveryResult is returned when a cassette is shipped to the repair center.
type DeliveryResult struct {
	Delivery model.DeliveryRecord
	Cassette model.Cassette
	Ticket   model.ServiceTicket
	Events   []lifecycle.Event
}

// ReceiptResult is returned when the repair center receives a delivery.
type ReceiptResult struct {
	Delivery model.DeliveryRecord
	Repair   model.RepairSubTicket
	Cassette model.Cassette
	Ticket   model.ServiceTicket
	Events   []lifecycle.Event
}

// ReturnResult is returned by the return operations.
type ReturnResult struct {
	Return    model.ReturnRecord
	Cassettes []model.Cassette
	Ticket    model.ServiceTicket
	Events    []lifecycle.Event
}

// GetDelivery returns a live delivery.
func (s *Service) GetDelivery(ctx context.Context, id string) (model.DeliveryRecord, error) {
	return s.store.GetDelivery(ctx, id)
}

// ListDeliveries returns the deliveries of a ticket or a cassette.
func (s *Service) ListDeliveries(ctx context.Context, filter store.DeliveryFilter) ([]model.DeliveryRecord, error) {
	return s.store.ListDeliveries(ctx, filter)
}

// GetReturn returns a live return with its items.
func (s *Service) GetReturn(ctx context.Context, id string) (model.ReturnRecord, error) {
	return s.store.GetReturn(ctx, id)
}

// ShipToRepairCenter records a cassette leaving for the repair center.
func (s *Service) ShipToRepairCenter(ctx context.Context, ticketID, cassetteID string, meta ShippingMeta, actor string) (DeliveryResult, error) {
	const op = "ship to repair center"
	if err := requireActor(op, actor); err != nil {
		return DeliveryResult{}, err
	}

	unlock := s.locks.Lock(cassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var result DeliveryResult
	err := s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, ticketID, false)
		if err != nil {
			return err
		}
		if !t.Status.Before(lifecycle.TicketResolved) {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "ticket", t.ID, "ticket is %s", t.Status)
		}
		if !contains(s.affectedCassettes(t), cassetteID) {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "ticket", t.ID, "cassette %s is not on this ticket", cassetteID)
		}

		c, err := s.store.LockCassette(ctx, cassetteID)
		if err != nil {
			return err
		}
		open, err := s.store.FindOpenDelivery(ctx, c.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "cassette", c.ID, "delivery %s is still in transit", open.ID)
		}
		prior, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{TicketID: t.ID, CassetteID: c.ID})
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			return lifecycle.Errorf(lifecycle.ErrAlreadyShipped, op, "cassette", c.ID, "already shipped as delivery %s", prior[0].ID)
		}

		d := model.DeliveryRecord{
			ID:             s.newID(),
			TicketID:       t.ID,
			CassetteID:     c.ID,
			Courier:        meta.Courier,
			TrackingNumber: meta.TrackingNumber,
			ShippedAt:      rec.at,
			ShippedBy:      actor,
			CreatedAt:      rec.at,
			UpdatedAt:      rec.at,
		}
		if err := s.store.CreateDelivery(ctx, &d); err != nil {
			return err
		}

		if result.Cassette, err = s.transitionCassette(ctx, rec, c, lifecycle.CassetteInTransitToRC, "shipped"); err != nil {
			return err
		}
		if t.Status == lifecycle.TicketOpen {
			if t, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketInDelivery, nil, "shipped"); err != nil {
				return err
			}
		}
		result.Delivery = d
		result.Ticket = t
		return nil
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// ReceiveAtRepairCenter records receipt of a delivery and opens a repair sub-ticket.
func (s *Service) ReceiveAtRepairCenter(ctx context.Context, deliveryID, actor string) (ReceiptResult, error) {
	const op = "receive at repair center"
	if err := requireActor(op, actor); err != nil {
		return ReceiptResult{}, err
	}

	pre, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return ReceiptResult{}, err
	}
	if pre.IsReceived() {
		return ReceiptResult{}, lifecycle.Errorf(lifecycle.ErrAlreadyReceived, op, "delivery", pre.ID, "received at %s", pre.ReceivedAt)
	}

	unlock := s.locks.Lock(pre.CassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var result ReceiptResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		if err := s.store.MarkDeliveryReceived(ctx, deliveryID, actor, rec.at); err != nil {
			return err
		}
		d, err := s.store.GetDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}

		c, err := s.store.LockCassette(ctx, d.CassetteID)
		if err != nil {
			return err
		}
		if result.Cassette, err = s.transitionCassette(ctx, rec, c, lifecycle.CassetteInRepair, "received"); err != nil {
			return err
		}

		deliveryRef := d.ID
		r := model.RepairSubTicket{
			ID:         s.newID(),
			CassetteID: c.ID,
			DeliveryID: &deliveryRef,
			Status:     lifecycle.RepairReceived,
			CreatedBy:  actor,
			UpdatedBy:  actor,
			Version:    1,
			CreatedAt:  rec.at,
			UpdatedAt:  rec.at,
		}
		if err := s.store.CreateRepair(ctx, &r); err != nil {
			return err
		}
		rec.repair(r.ID, "", r.Status, "received")

		// The ticket may have been withdrawn while the cassette was on the road.
		t, err := s.store.LockTicket(ctx, d.TicketID, true)
		if err != nil {
			return err
		}
		if t.Status == lifecycle.TicketInDelivery {
			if t, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketReceived, nil, "received"); err != nil {
				return err
			}
		}
		if t.IsDeleted() {
			if err := s.withdrawArrival(ctx, rec, &d, &result.Cassette); err != nil {
				return err
			}
			if r, err = s.store.GetRepair(ctx, r.ID, true); err != nil {
				return err
			}
		}

		result.Delivery = d
		result.Repair = r
		result.Ticket = t
		return nil
	})
	if err != nil {
		return ReceiptResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// ShipReturn sends every cassette of a resolved ticket back to the vendor.
// Scrapped cassettes travel too but keep their status.
func (s *Service) ShipReturn(ctx context.Context, ticketID string, meta ShippingMeta, actor string) (ReturnResult, error) {
	const op = "ship return"
	if err := requireActor(op, actor); err != nil {
		return ReturnResult{}, err
	}

	pre, err := s.store.GetTicket(ctx, ticketID, false)
	if err != nil {
		return ReturnResult{}, err
	}
	unlock := s.locks.Lock(s.affectedCassettes(pre)...)
	defer unlock()

	rec := s.newRecorder(actor)
	var result ReturnResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		t, err := s.store.LockTicket(ctx, ticketID, false)
		if err != nil {
			return err
		}
		existing, err := s.store.FindReturnForTicket(ctx, t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return lifecycle.Errorf(lifecycle.ErrAlreadyShipped, op, "ticket", t.ID, "return %s already exists", existing.ID)
		}
		if t.Status != lifecycle.TicketResolved {
			return lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "ticket", t.ID, "%s -> %s", t.Status, lifecycle.TicketReturnShipped)
		}

		affected := s.affectedCassettes(t)
		r := model.ReturnRecord{
			ID:             s.newID(),
			TicketID:       t.ID,
			Courier:        meta.Courier,
			TrackingNumber: meta.TrackingNumber,
			ShippedAt:      rec.at,
			ShippedBy:      actor,
			CreatedAt:      rec.at,
			UpdatedAt:      rec.at,
		}
		for _, id := range affected {
			r.Items = append(r.Items, model.ReturnItem{ID: s.newID(), ReturnID: r.ID, CassetteID: id})
		}
		if err := s.store.CreateReturn(ctx, &r); err != nil {
			return err
		}

		for _, id := range affected {
			c, err := s.store.LockCassette(ctx, id)
			if err != nil {
				return err
			}
			switch c.Status {
			case lifecycle.CassetteOK:
				if c, err = s.transitionCassette(ctx, rec, c, lifecycle.CassetteInTransitToPengelola, "return_shipped"); err != nil {
					return err
				}
			case lifecycle.CassetteScrapped:
			default:
				return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "cassette", c.ID, "cassette is %s", c.Status)
			}
			result.Cassettes = append(result.Cassettes, c)
		}

		if t, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketReturnShipped, nil, "return_shipped"); err != nil {
			return err
		}
		result.Return = r
		result.Ticket = t
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// ReceiveReturn records the vendor's receipt of a return and closes the ticket.
func (s *Service) ReceiveReturn(ctx context.Context, returnID, actor string) (ReturnResult, error) {
	const op = "receive return"
	if err := requireActor(op, actor); err != nil {
		return ReturnResult{}, err
	}

	pre, err := s.store.GetReturn(ctx, returnID)
	if err != nil {
		return ReturnResult{}, err
	}
	if pre.IsReceived() {
		return ReturnResult{}, lifecycle.Errorf(lifecycle.ErrAlreadyReceived, op, "return", pre.ID, "received at %s", pre.ReceivedAt)
	}
	unlock := s.locks.Lock(pre.CassetteIDs()...)
	defer unlock()

	rec := s.newRecorder(actor)
	var result ReturnResult
	err = s.commit(ctx, rec, func(ctx context.Context) error {
		if err := s.store.MarkReturnReceived(ctx, returnID, actor, rec.at); err != nil {
			return err
		}
		r, err := s.store.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}

		for _, id := range r.CassetteIDs() {
			c, err := s.store.LockCassette(ctx, id)
			if err != nil {
				return err
			}
			if c.Status == lifecycle.CassetteInTransitToPengelola {
				if c, err = s.transitionCassette(ctx, rec, c, lifecycle.CassetteOK, "return_received"); err != nil {
					return err
				}
			}
			result.Cassettes = append(result.Cassettes, c)
		}

		t, err := s.store.LockTicket(ctx, r.TicketID, true)
		if err != nil {
			return err
		}
		if t.Status == lifecycle.TicketReturnShipped {
			if t, err = s.setTicketStatus(ctx, rec, t, lifecycle.TicketClosed, nil, "return_received"); err != nil {
				return err
			}
		}
		// A return that lands for a withdrawn ticket takes the ticket's marker
		// now, so a restore brings it back with the rest.
		if t.IsDeleted() {
			if err := s.store.SoftDeleteReturn(ctx, r.ID, actor, model.DeletedByTicket, rec.at); err != nil {
				return err
			}
		}
		result.Return = r
		result.Ticket = t
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	result.Events = rec.events
	return result, nil
}

// withdrawArrival carries a withdrawn ticket's marker onto a delivery that has
// just been received and lets the resolver release the cassette, the same as
// if the ticket had been deleted after arrival.
func (s *Service) withdrawArrival(ctx context.Context, rec *recorder, d *model.DeliveryRecord, c *model.Cassette) error {
	if err := s.store.SoftDeleteDelivery(ctx, d.ID, rec.actor, model.DeletedByTicket, rec.at); err != nil {
		return err
	}
	if _, err := s.reconcileInTx(ctx, rec, d.CassetteID); err != nil {
		return err
	}

	deliveries, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{TicketID: d.TicketID, CassetteID: d.CassetteID, IncludeDeleted: true})
	if err != nil {
		return err
	}
	for _, row := range deliveries {
		if row.ID == d.ID {
			*d = row
		}
	}
	*c, err = s.store.GetCassette(ctx, d.CassetteID)
	return err
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassette-tracker-backend/internal/lifecycle"
)

func TestScenario_RepairedCassetteIsReturnedAndTicketCloses(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-1001")
	t1 := f.ticket(c.ID)
	assert.Equal(t, lifecycle.TicketOpen, t1.Status)
	assert.Regexp(t, `^TKT-20240501-[0-9A-F]{6}$`, t1.TicketNumber)

	shipped, err := f.svc.ShipToRepairCenter(f.ctx, t1.ID, c.ID, ShippingMeta{Courier: "JNE"}, actor)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CassetteInTransitToRC, shipped.Cassette.Status)
	assert.Nil(t, shipped.Cassette.MachineID)
	assert.Equal(t, lifecycle.TicketInDelivery, shipped.Ticket.Status)

	f.tick()
	received, err := f.svc.ReceiveAtRepairCenter(f.ctx, shipped.Delivery.ID, "rc:bob")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CassetteInRepair, received.Cassette.Status)
	assert.Equal(t, lifecycle.RepairReceived, received.Repair.Status)
	require.NotNil(t, received.Repair.DeliveryID)
	assert.Equal(t, shipped.Delivery.ID, *received.Repair.DeliveryID)
	assert.NotNil(t, received.Delivery.ReceivedAt)
	assert.Equal(t, lifecycle.TicketReceived, received.Ticket.Status)

	done := f.complete(received.Repair.ID, true)
	assert.Equal(t, lifecycle.RepairCompleted, done.Repair.Status)
	require.NotNil(t, done.Repair.QCPassed)
	assert.True(t, *done.Repair.QCPassed)
	assert.NotNil(t, done.Repair.CompletedAt)
	assert.Equal(t, lifecycle.CassetteOK, done.Cassette.Status)
	assert.Equal(t, lifecycle.TicketResolved, f.ticketStatus(t1.ID))
	assert.Equal(t,
		[]string{"RECEIVED->DIAGNOSING", "DIAGNOSING->ON_PROGRESS", "ON_PROGRESS->COMPLETED"},
		statuses(done.Events, lifecycle.EntityRepair))
	assert.Equal(t,
		[]string{"RECEIVED->IN_PROGRESS", "IN_PROGRESS->RESOLVED"},
		statuses(done.Events, lifecycle.EntityTicket))

	f.tick()
	ret, err := f.svc.ShipReturn(f.ctx, t1.ID, ShippingMeta{Courier: "JNE"}, "rc:bob")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TicketReturnShipped, ret.Ticket.Status)
	assert.Equal(t, []string{c.ID}, ret.Return.CassetteIDs())
	assert.Equal(t, lifecycle.CassetteInTransitToPengelola, f.cassetteStatus(c.ID))

	f.tick()
	closed, err := f.svc.ReceiveReturn(f.ctx, ret.Return.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.TicketClosed, closed.Ticket.Status)

	assert.Equal(t, lifecycle.CassetteOK, f.cassetteStatus(c.ID))
	assert.Equal(t, lifecycle.TicketClosed, f.ticketStatus(t1.ID))

	// Every ticket event carries its number.
	for _, e := range lifecycle.TicketEvents(closed.Events) {
		assert.Equal(t, t1.TicketNumber, e.TicketNumber)
		assert.Equal(t, t1.ID, e.TicketID)
	}

	history, err := f.svc.History(f.ctx, lifecycle.EntityTicket, t1.ID)
	require.NoError(t, err)
	var path []string
	for _, h := range history {
		path = append(path, h.NewStatus)
	}
	assert.Equal(t, []string{"OPEN", "IN_DELIVERY", "RECEIVED", "IN_PROGRESS", "RESOLVED", "RETURN_SHIPPED", "CLOSED"}, path)
}

func TestScenario_ScrappedCassetteIsStillReturned(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-1002")
	t1 := f.ticket(c.ID)
	d := f.ship(t1.ID, c.ID)
	r := f.receive(d.ID)
	f.advanceRepair(r.ID, lifecycle.RepairDiagnosing)
	assert.Equal(t, lifecycle.TicketInProgress, f.ticketStatus(t1.ID))

	done := f.complete(r.ID, false)
	assert.Equal(t, lifecycle.RepairScrapped, done.Repair.Status)
	assert.Equal(t, lifecycle.CassetteScrapped, done.Cassette.Status)
	assert.Equal(t, lifecycle.TicketResolved, f.ticketStatus(t1.ID))

	f.tick()
	ret, err := f.svc.ShipReturn(f.ctx, t1.ID, ShippingMeta{}, "rc:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ret.Return.CassetteIDs(), "scrapped units travel back too")
	assert.Empty(t, statuses(ret.Events, lifecycle.EntityCassette))

	f.tick()
	_, err = f.svc.ReceiveReturn(f.ctx, ret.Return.ID, actor)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.CassetteScrapped, f.cassetteStatus(c.ID))
	assert.Equal(t, lifecycle.TicketClosed, f.ticketStatus(t1.ID))
}

func TestScenario_SoftDeleteReleasesCassetteInRepair(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-1003")
	t1 := f.ticket(c.ID)
	d := f.ship(t1.ID, c.ID)
	r := f.receive(d.ID)
	f.advanceRepair(r.ID, lifecycle.RepairDiagnosing)
	f.advanceRepair(r.ID, lifecycle.RepairOnProgress)
	require.Equal(t, lifecycle.CassetteInRepair, f.cassetteStatus(c.ID))

	f.tick()
	res, err := f.svc.SoftDeleteTicket(f.ctx, t1.ID, "vendor:carol")
	require.NoError(t, err)
	assert.True(t, res.Ticket.IsDeleted())
	assert.Equal(t, "vendor:carol", res.Ticket.DeletedBy)
	require.Len(t, res.Reconciled, 1)
	assert.True(t, res.Reconciled[0].Changed)

	hidden := f.repair(r.ID)
	assert.True(t, hidden.IsDeleted())
	assert.Equal(t, "reconcile", hidden.DeletedCause)
	assert.Equal(t, lifecycle.CassetteOK, f.cassetteStatus(c.ID))
	assert.Equal(t, []string{"IN_REPAIR->OK"}, statuses(res.Events, lifecycle.EntityCassette))

	_, err = f.svc.GetTicket(f.ctx, t1.ID, false)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound, "deleted tickets are hidden from default reads")
	_, err = f.svc.GetRepair(f.ctx, r.ID, false)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	// A direct reconcile afterwards has nothing left to do.
	again, err := f.svc.Reconcile(f.ctx, c.ID, "")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Empty(t, again.Events)
}

func TestScenario_RestoreBringsRepairBack(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-1004")
	t1 := f.ticket(c.ID)
	d := f.ship(t1.ID, c.ID)
	r := f.receive(d.ID)

	f.tick()
	_, err := f.svc.SoftDeleteTicket(f.ctx, t1.ID, actor)
	require.NoError(t, err)
	require.True(t, f.repair(r.ID).IsDeleted())

	f.tick()
	res, err := f.svc.RestoreTicket(f.ctx, t1.ID, actor)
	require.NoError(t, err)
	assert.False(t, res.Ticket.IsDeleted())
	assert.False(t, f.repair(r.ID).IsDeleted())

	delivery, err := f.svc.GetDelivery(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, delivery.DeletedCause)

	// The cassette was released while the ticket was withdrawn; finishing the
	// repair still resolves the ticket.
	done := f.complete(r.ID, true)
	assert.Equal(t, lifecycle.CassetteOK, done.Cassette.Status)
	assert.Equal(t, lifecycle.TicketResolved, f.ticketStatus(t1.ID))

	f.tick()
	_, err = f.svc.RestoreTicket(f.ctx, t1.ID, actor)
	assert.ErrorIs(t, err, lifecycle.ErrPreconditionFailed)
}

func TestScenario_MultiCassetteTicketResolvesOnLastRepair(t *testing.T) {
	f := newFixture(t)
	a := f.cassette("CST-2001")
	b := f.cassette("CST-2002")
	t1 := f.ticket(a.ID, b.ID, a.ID)
	assert.Nil(t, t1.CassetteID, "multi-cassette tickets use detail rows only")
	assert.Len(t, t1.Details, 2)

	da := f.ship(t1.ID, a.ID)
	db := f.ship(t1.ID, b.ID)
	ra := f.receive(da.ID)
	rb := f.receive(db.ID)

	f.complete(ra.ID, true)
	assert.Equal(t, lifecycle.TicketInProgress, f.ticketStatus(t1.ID), "one cassette is still in repair")

	f.tick()
	_, err := f.svc.Resolve(f.ctx, ResolveInput{TicketID: t1.ID}, actor)
	assert.ErrorIs(t, err, lifecycle.ErrIncompleteCassetteSet)

	done := f.complete(rb.ID, false)
	assert.Equal(t, lifecycle.TicketResolved, f.ticketStatus(t1.ID))
	require.Len(t, done.Tickets, 1)

	f.tick()
	ret, err := f.svc.ShipReturn(f.ctx, t1.ID, ShippingMeta{}, actor)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ret.Return.CassetteIDs())
	assert.Equal(t, lifecycle.CassetteInTransitToPengelola, f.cassetteStatus(a.ID))
	assert.Equal(t, lifecycle.CassetteScrapped, f.cassetteStatus(b.ID))
}

package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/store"
)

func TestShipToRepairCenter_ConcurrentCallersOneWins(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-4001")
	tk := f.ticket(c.ID)

	// Two services over one database do not share the in-process key lock,
	// so the database has to decide.
	other := NewService(f.store, WithClock(f.clock))
	services := []*Service{f.svc, other}

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		errs     = make([]error, len(services))
		shipped  int32
		tracking = []string{"JNE-1", "SICEPAT-1"}
	)
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			<-start
			_, err := svc.ShipToRepairCenter(f.ctx, tk.ID, c.ID, ShippingMeta{Courier: "JNE", TrackingNumber: tracking[i]}, actor)
			if err == nil {
				atomic.AddInt32(&shipped, 1)
			}
			errs[i] = err
		}(i, svc)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), shipped)
	for _, err := range errs {
		if err == nil {
			continue
		}
		kind := lifecycle.KindOf(err)
		assert.Contains(t, []error{
			lifecycle.ErrPreconditionFailed,
			lifecycle.ErrAlreadyShipped,
			lifecycle.ErrConcurrentModification,
		}, kind, "unexpected error %v", err)
	}

	deliveries, err := f.store.ListDeliveries(f.ctx, store.DeliveryFilter{CassetteID: c.ID})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, lifecycle.CassetteInTransitToRC, f.cassetteStatus(c.ID))
	assert.Equal(t, lifecycle.TicketInDelivery, f.ticketStatus(tk.ID))
}

func TestCompleteRepair_RollsBackOnFailure(t *testing.T) {
	for _, point := range []string{"repair_updated", "cassette_updated"} {
		t.Run(point, func(t *testing.T) {
			f := newFixture(t)
			c := f.cassette("CST-4101")
			tk := f.ticket(c.ID)
			d := f.ship(tk.ID, c.ID)
			r := f.receive(d.ID)

			before, err := f.svc.History(f.ctx, lifecycle.EntityRepair, r.ID)
			require.NoError(t, err)

			injected := errors.New("injected failure")
			f.svc.faults = func(p string) error {
				if p == point {
					return injected
				}
				return nil
			}
			f.tick()
			_, err = f.svc.CompleteRepair(f.ctx, CompleteRepairInput{RepairID: r.ID, QCPassed: true}, "rc:bob")
			require.ErrorIs(t, err, injected)

			got := f.repair(r.ID)
			assert.Equal(t, lifecycle.RepairReceived, got.Status)
			assert.Equal(t, r.Version, got.Version)
			assert.Nil(t, got.CompletedAt)
			assert.Equal(t, lifecycle.CassetteInRepair, f.cassetteStatus(c.ID))
			assert.Equal(t, lifecycle.TicketReceived, f.ticketStatus(tk.ID))

			after, err := f.svc.History(f.ctx, lifecycle.EntityRepair, r.ID)
			require.NoError(t, err)
			assert.Len(t, after, len(before), "no audit rows survive a rollback")

			f.svc.faults = nil
			done := f.complete(r.ID, true)
			assert.Equal(t, lifecycle.RepairCompleted, done.Repair.Status)
			assert.Equal(t, lifecycle.TicketResolved, f.ticketStatus(tk.ID))
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"a", "b"}
			if i%2 == 1 {
				keys = []string{"b", "a", "b"}
			}
			unlock := k.Lock(keys...)
			counter++
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks, "released keys are dropped")

	unlock := k.Lock()
	unlock()
}

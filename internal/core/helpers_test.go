package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cassette-tracker-backend/internal/clock"
	"cassette-tracker-backend/internal/db"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

const actor = "vendor:alice"

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store store.Store
	db    *gorm.DB
	clock *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "core.db") + "?_txlock=immediate&_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		sqlDB.Close()
	})

	var seq int64
	clk := clock.NewManual(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	st := store.NewGormStore(gdb)
	svc := NewService(st,
		WithClock(clk),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", atomic.AddInt64(&seq, 1)) }),
	)
	return &fixture{t: t, ctx: context.Background(), svc: svc, store: st, db: gdb, clock: clk}
}

// tick keeps timestamps of consecutive operations strictly ordered.
func (f *fixture) tick() { f.clock.Advance(time.Minute) }

func (f *fixture) cassette(serial string) model.Cassette {
	f.t.Helper()
	f.tick()
	c, err := f.svc.Register(f.ctx, RegisterCassetteInput{
		SerialNumber: serial,
		Type:         "NCR-6634",
		BankCode:     "BNI",
		MachineID:    "ATM-" + serial,
	}, actor)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) ticket(cassetteIDs ...string) model.ServiceTicket {
	f.t.Helper()
	f.tick()
	res, err := f.svc.CreateTicket(f.ctx, CreateTicketInput{
		CassetteIDs: cassetteIDs,
		Priority:    lifecycle.PriorityHigh,
		Reporter:    actor,
	})
	require.NoError(f.t, err)
	return res.Ticket
}

func (f *fixture) ship(ticketID, cassetteID string) model.DeliveryRecord {
	f.t.Helper()
	f.tick()
	res, err := f.svc.ShipToRepairCenter(f.ctx, ticketID, cassetteID, ShippingMeta{Courier: "JNE", TrackingNumber: "JNE-" + cassetteID}, actor)
	require.NoError(f.t, err)
	return res.Delivery
}

func (f *fixture) receive(deliveryID string) model.RepairSubTicket {
	f.t.Helper()
	f.tick()
	res, err := f.svc.ReceiveAtRepairCenter(f.ctx, deliveryID, "rc:bob")
	require.NoError(f.t, err)
	return res.Repair
}

func (f *fixture) advanceRepair(repairID string, to lifecycle.RepairStatus) {
	f.t.Helper()
	f.tick()
	_, err := f.svc.AdvanceRepair(f.ctx, repairID, to, "rc:bob")
	require.NoError(f.t, err)
}

func (f *fixture) complete(repairID string, qcPassed bool) RepairResult {
	f.t.Helper()
	f.tick()
	res, err := f.svc.CompleteRepair(f.ctx, CompleteRepairInput{
		RepairID:          repairID,
		QCPassed:          qcPassed,
		RepairActionTaken: "replaced pick module",
		PartsReplaced:     "pick roller",
	}, "rc:bob")
	require.NoError(f.t, err)
	return res
}

func (f *fixture) cassetteStatus(id string) lifecycle.CassetteStatus {
	f.t.Helper()
	c, err := f.store.GetCassette(f.ctx, id)
	require.NoError(f.t, err)
	return c.Status
}

func (f *fixture) ticketStatus(id string) lifecycle.TicketStatus {
	f.t.Helper()
	t, err := f.store.GetTicket(f.ctx, id, true)
	require.NoError(f.t, err)
	return t.Status
}

func (f *fixture) repair(id string) model.RepairSubTicket {
	f.t.Helper()
	r, err := f.store.GetRepair(f.ctx, id, true)
	require.NoError(f.t, err)
	return r
}

func statuses(events []lifecycle.Event, entity lifecycle.EntityKind) []string {
	var out []string
	for _, e := range events {
		if e.Entity == entity {
			out = append(out, e.OldStatus+"->"+e.NewStatus)
		}
	}
	return out
}

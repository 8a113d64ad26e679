package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)

	c := f.cassette(" cst 0001 ")
	assert.Equal(t, "CST-0001", c.SerialNumber)
	assert.Equal(t, lifecycle.CassetteOK, c.Status)
	assert.Equal(t, lifecycle.UsageMain, c.UsageRole)
	require.NotNil(t, c.MachineID)

	_, err := f.svc.Register(f.ctx, RegisterCassetteInput{SerialNumber: "CST-0001"}, actor)
	assert.ErrorIs(t, err, lifecycle.ErrConcurrentModification, "duplicate serials hit the unique index")

	_, err = f.svc.Register(f.ctx, RegisterCassetteInput{SerialNumber: "###"}, actor)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)

	_, err = f.svc.Register(f.ctx, RegisterCassetteInput{SerialNumber: "CST-0002", UsageRole: "SPARE"}, actor)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)

	history, err := f.svc.History(f.ctx, lifecycle.EntityCassette, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "registered", history[0].Reason)
}

// Every pair of statuses is attempted through the registry. Edges outside the
// table must fail with InvalidTransition and leave the row untouched.
func TestTransition_OnlyTableEdgesSucceed(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-0100")

	for _, from := range lifecycle.CassetteStatuses() {
		for _, to := range lifecycle.CassetteStatuses() {
			require.NoError(t, f.db.Model(&model.Cassette{}).Where("id = ?", c.ID).Update("status", from).Error)

			_, err := f.svc.Transition(f.ctx, c.ID, to, actor)

			switch {
			case !lifecycle.CanTransitionCassette(from, to):
				assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition, "%s -> %s", from, to)
				assert.Equal(t, from, f.cassetteStatus(c.ID), "%s -> %s must not write", from, to)
			case to == lifecycle.CassetteInRepair || to == lifecycle.CassetteInTransitToPengelola:
				assert.ErrorIs(t, err, lifecycle.ErrPreconditionFailed, "%s -> %s", from, to)
				assert.Equal(t, from, f.cassetteStatus(c.ID))
			default:
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, f.cassetteStatus(c.ID))
			}
		}
	}
}

func TestTransition_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-0200")

	_, err := f.svc.Transition(f.ctx, "missing", lifecycle.CassetteBad, actor)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, err = f.svc.Transition(f.ctx, c.ID, "BROKEN", actor)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)

	_, err = f.svc.Transition(f.ctx, c.ID, lifecycle.CassetteBad, "")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

func TestReportFault(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-0300")

	res, err := f.svc.ReportFault(f.ctx, c.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CassetteBad, res.Cassette.Status)
	assert.Equal(t, []string{"OK->BAD"}, statuses(res.Events, lifecycle.EntityCassette))
	assert.NotNil(t, res.Cassette.MachineID, "a faulty cassette is still installed")

	// A fault can be withdrawn.
	res, err = f.svc.Transition(f.ctx, c.ID, lifecycle.CassetteOK, actor)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CassetteOK, res.Cassette.Status)
}

func TestUpdateCassetteStatus_StaleVersion(t *testing.T) {
	f := newFixture(t)
	c := f.cassette("CST-0400")

	_, err := f.store.UpdateCassetteStatus(f.ctx, c, lifecycle.CassetteBad, actor, false, f.clock.Now())
	require.NoError(t, err)

	// c still carries the old version.
	_, err = f.store.UpdateCassetteStatus(f.ctx, c, lifecycle.CassetteInTransitToRC, actor, true, f.clock.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lifecycle.ErrConcurrentModification))
	assert.Equal(t, lifecycle.CassetteBad, f.cassetteStatus(c.ID))
}

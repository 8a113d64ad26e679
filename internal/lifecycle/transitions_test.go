package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionCassette_Table(t *testing.T) {
	allowed := map[[2]CassetteStatus]bool{
		{CassetteOK, CassetteInTransitToRC}:        true,
		{CassetteOK, CassetteBad}:                  true,
		{CassetteOK, CassetteInTransitToPengelola}: true,
		{CassetteBad, CassetteInTransitToRC}:       true,
		{CassetteBad, CassetteOK}:                  true,
		{CassetteInTransitToRC, CassetteInRepair}:  true,
		{CassetteInRepair, CassetteOK}:             true,
		{CassetteInRepair, CassetteScrapped}:       true,
		{CassetteInTransitToPengelola, CassetteOK}: true,
	}

	for _, from := range CassetteStatuses() {
		for _, to := range CassetteStatuses() {
			want := allowed[[2]CassetteStatus{from, to}]
			assert.Equal(t, want, CanTransitionCassette(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionCassette_ScrappedIsTerminal(t *testing.T) {
	for _, to := range CassetteStatuses() {
		assert.False(t, CanTransitionCassette(CassetteScrapped, to))
	}
	assert.True(t, CassetteScrapped.Terminal())
	assert.False(t, CanTransitionCassette("BOGUS", CassetteOK))
}

func TestTicketOrderIsStrictlyLinear(t *testing.T) {
	statuses := TicketStatuses()
	for i, from := range statuses {
		for j, to := range statuses {
			assert.Equal(t, j == i+1, CanAdvanceTicket(from, to), "%s -> %s", from, to)
		}
	}

	_, ok := NextTicketStatus(TicketClosed)
	assert.False(t, ok)
	assert.True(t, TicketOpen.Before(TicketClosed))
	assert.False(t, TicketClosed.Before(TicketOpen))
}

func TestTicketPath(t *testing.T) {
	assert.Equal(t, []TicketStatus{TicketInProgress, TicketResolved}, TicketPath(TicketReceived, TicketResolved))
	assert.Nil(t, TicketPath(TicketResolved, TicketReceived))
	assert.Nil(t, TicketPath(TicketResolved, TicketResolved))
}

func TestRepairTransitions(t *testing.T) {
	assert.True(t, CanTransitionRepair(RepairReceived, RepairDiagnosing))
	assert.True(t, CanTransitionRepair(RepairDiagnosing, RepairOnProgress))
	assert.True(t, CanTransitionRepair(RepairOnProgress, RepairCompleted))
	assert.True(t, CanTransitionRepair(RepairOnProgress, RepairScrapped))

	assert.False(t, CanTransitionRepair(RepairReceived, RepairCompleted))
	assert.False(t, CanTransitionRepair(RepairCompleted, RepairOnProgress))
	assert.False(t, CanTransitionRepair(RepairScrapped, RepairCompleted))
}

func TestRepairPath(t *testing.T) {
	assert.Equal(t,
		[]RepairStatus{RepairDiagnosing, RepairOnProgress, RepairCompleted},
		RepairPath(RepairReceived, RepairCompleted))
	assert.Equal(t, []RepairStatus{RepairScrapped}, RepairPath(RepairOnProgress, RepairScrapped))
	assert.Nil(t, RepairPath(RepairCompleted, RepairScrapped))
	assert.Nil(t, RepairPath(RepairOnProgress, RepairDiagnosing))
}

func TestRepairOutcome(t *testing.T) {
	r, c := RepairOutcome(true)
	assert.Equal(t, RepairCompleted, r)
	assert.Equal(t, CassetteOK, c)

	r, c = RepairOutcome(false)
	assert.Equal(t, RepairScrapped, r)
	assert.Equal(t, CassetteScrapped, c)
}

func TestErrorUnwrapsToKind(t *testing.T) {
	err := Errorf(ErrInvalidTransition, "transition", "cassette", "c-1", "%s -> %s", CassetteScrapped, CassetteOK)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ErrInvalidTransition, KindOf(err))
	assert.Contains(t, err.Error(), "cassette c-1")

	assert.Nil(t, KindOf(errors.New("boom")))
}

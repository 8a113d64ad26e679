package core

import (
	"context"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/parse"
	"cassette-tracker-backend/internal/store"
)

// RegisterCassetteInput provisions a new cassette.
type RegisterCassetteInput struct {
	SerialNumber string
	Type         string
	BankCode     string
	MachineID    string
	UsageRole    lifecycle.UsageRole
}

// CassetteResult is returned by cassette status operations.
type CassetteResult struct {
	Cassette model.Cassette
	Events   []lifecycle.Event
}

// Register creates a cassette in status OK.
func (s *Service) Register(ctx context.Context, in RegisterCassetteInput, actor string) (model.Cassette, error) {
	const op = "register cassette"
	if err := requireActor(op, actor); err != nil {
		return model.Cassette{}, err
	}
	serial, err := parse.NormalizeSerial(in.SerialNumber)
	if err != nil {
		return model.Cassette{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "cassette", "", "%v", err)
	}
	role := in.UsageRole
	if role == "" {
		role = lifecycle.UsageMain
	}
	if !role.Valid() {
		return model.Cassette{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "cassette", "", "unknown usage role %q", role)
	}

	rec := s.newRecorder(actor)
	c := model.Cassette{
		ID:           s.newID(),
		SerialNumber: serial,
		Type:         in.Type,
		BankCode:     in.BankCode,
		UsageRole:    role,
		Status:       lifecycle.CassetteOK,
		Version:      1,
		UpdatedBy:    actor,
		CreatedAt:    rec.at,
		UpdatedAt:    rec.at,
	}
	if in.MachineID != "" {
		machine := in.MachineID
		c.MachineID = &machine
	}

	err = s.commit(ctx, rec, func(ctx context.Context) error {
		if err := s.store.CreateCassette(ctx, &c); err != nil {
			return err
		}
		rec.cassette(c.ID, "", c.Status, "registered")
		return nil
	})
	if err != nil {
		return model.Cassette{}, err
	}
	return c, nil
}

// GetCassette returns a cassette by id.
func (s *Service) GetCassette(ctx context.Context, id string) (model.Cassette, error) {
	return s.store.GetCassette(ctx, id)
}

// ListCassettes returns cassettes matching filter.
func (s *Service) ListCassettes(ctx context.Context, filter store.CassetteFilter) ([]model.Cassette, error) {
	return s.store.ListCassettes(ctx, filter)
}

// Transition moves a cassette along one edge of the transition table.
func (s *Service) Transition(ctx context.Context, cassetteID string, to lifecycle.CassetteStatus, actor string) (CassetteResult, error) {
	const op = "transition cassette"
	if err := requireActor(op, actor); err != nil {
		return CassetteResult{}, err
	}
	if !to.Valid() {
		return CassetteResult{}, lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "cassette", cassetteID, "unknown status %q", to)
	}

	unlock := s.locks.Lock(cassetteID)
	defer unlock()

	rec := s.newRecorder(actor)
	var out model.Cassette
	err := s.commit(ctx, rec, func(ctx context.Context) error {
		c, err := s.store.LockCassette(ctx, cassetteID)
		if err != nil {
			return err
		}
		out, err = s.transitionCassette(ctx, rec, c, to, "manual")
		return err
	})
	if err != nil {
		return CassetteResult{}, err
	}
	return CassetteResult{Cassette: out, Events: rec.events}, nil
}

// ReportFault marks a healthy cassette BAD before it is shipped for repair.
func (s *Service) ReportFault(ctx context.Context, cassetteID, actor string) (CassetteResult, error) {
	return s.Transition(ctx, cassetteID, lifecycle.CassetteBad, actor)
}

// History returns the audit trail of an entity.
func (s *Service) History(ctx context.Context, entity lifecycle.EntityKind, id string) ([]model.StatusHistory, error) {
	return s.store.ListHistory(ctx, entity, id)
}

// transitionCassette is the only writer of a cassette's status. c must have
// been loaded with LockCassette inside the current transaction.
func (s *Service) transitionCassette(ctx context.Context, rec *recorder, c model.Cassette, to lifecycle.CassetteStatus, reason string) (model.Cassette, error) {
	const op = "transition cassette"
	if !lifecycle.CanTransitionCassette(c.Status, to) {
		return model.Cassette{}, lifecycle.Errorf(lifecycle.ErrInvalidTransition, op, "cassette", c.ID, "%s -> %s", c.Status, to)
	}
	if err := s.checkCassettePrecondition(ctx, c, to); err != nil {
		return model.Cassette{}, err
	}

	// Off-site statuses never keep a machine assignment.
	clearMachine := to != lifecycle.CassetteOK && to != lifecycle.CassetteBad

	updated, err := s.store.UpdateCassetteStatus(ctx, c, to, rec.actor, clearMachine, rec.at)
	if err != nil {
		return model.Cassette{}, err
	}
	rec.cassette(c.ID, c.Status, to, reason)
	return updated, nil
}

func (s *Service) checkCassettePrecondition(ctx context.Context, c model.Cassette, to lifecycle.CassetteStatus) error {
	const op = "transition cassette"
	switch to {
	case lifecycle.CassetteInRepair:
		d, err := s.store.LatestDelivery(ctx, c.ID)
		if err != nil {
			return err
		}
		if d == nil || !d.IsReceived() {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "cassette", c.ID, "no received delivery at the repair center")
		}
	case lifecycle.CassetteInTransitToPengelola:
		r, err := s.store.FindOpenReturnForCassette(ctx, c.ID)
		if err != nil {
			return err
		}
		if r == nil {
			return lifecycle.Errorf(lifecycle.ErrPreconditionFailed, op, "cassette", c.ID, "no shipped return carries this cassette")
		}
	}
	return nil
}

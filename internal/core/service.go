package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"cassette-tracker-backend/internal/clock"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

const defaultAffectedTTL = 10 * time.Minute

// Service coordinates cassettes, tickets, shipments and repairs.
// Every status-changing operation runs in one store transaction and returns
// the events it produced once that transaction has committed.
type Service struct {
	store    store.Store
	clock    clock.Clock
	affected *cache.Cache
	locks    *keyedMutex
	newID    func() string

	// newSuffix supplies the random part of ticket numbers.
	newSuffix func() string

	// faults lets tests fail an operation at a named point after some writes.
	faults func(point string) error
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithAffectedCacheTTL sets how long affected-cassette lookups are cached.
func WithAffectedCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.affected = cache.New(ttl, 2*ttl)
		}
	}
}

// WithIDGenerator replaces the uuid generator used for new rows.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithTicketSuffixes replaces the source of ticket number suffixes.
func WithTicketSuffixes(fn func() string) Option {
	return func(s *Service) { s.newSuffix = fn }
}

// NewService creates the coordination core on top of a store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		clock:    clock.NewSystem(),
		affected: cache.New(defaultAffectedTTL, 2*defaultAffectedTTL),
		locks:    newKeyedMutex(),
		newID:    uuid.NewString,
		newSuffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) fault(point string) error {
	if s.faults == nil {
		return nil
	}
	return s.faults(point)
}

// recorder collects the events and audit rows of one operation.
type recorder struct {
	actor   string
	at      time.Time
	events  []lifecycle.Event
	history []model.StatusHistory
}

func (s *Service) newRecorder(actor string) *recorder {
	return &recorder{actor: actor, at: s.clock.Now()}
}

func (r *recorder) add(e lifecycle.Event, reason string) {
	r.events = append(r.events, e)
	r.history = append(r.history, model.StatusHistory{
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		OldStatus: e.OldStatus,
		NewStatus: e.NewStatus,
		Actor:     r.actor,
		Reason:    reason,
		At:        r.at,
	})
}

func (r *recorder) cassette(id string, from, to lifecycle.CassetteStatus, reason string) {
	r.add(lifecycle.Event{
		Entity:    lifecycle.EntityCassette,
		EntityID:  id,
		OldStatus: string(from),
		NewStatus: string(to),
		Actor:     r.actor,
		At:        r.at,
	}, reason)
}

func (r *recorder) ticket(t model.ServiceTicket, from, to lifecycle.TicketStatus, reason string) {
	r.add(lifecycle.Event{
		Entity:       lifecycle.EntityTicket,
		EntityID:     t.ID,
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		OldStatus:    string(from),
		NewStatus:    string(to),
		Actor:        r.actor,
		At:           r.at,
	}, reason)
}

func (r *recorder) repair(id string, from, to lifecycle.RepairStatus, reason string) {
	r.add(lifecycle.Event{
		Entity:    lifecycle.EntityRepair,
		EntityID:  id,
		OldStatus: string(from),
		NewStatus: string(to),
		Actor:     r.actor,
		At:        r.at,
	}, reason)
}

// note appends an audit row without emitting an event, e.g. for soft deletes.
func (r *recorder) note(entity lifecycle.EntityKind, id, status, reason string) {
	r.history = append(r.history, model.StatusHistory{
		Entity:    entity,
		EntityID:  id,
		OldStatus: status,
		NewStatus: status,
		Actor:     r.actor,
		Reason:    reason,
		At:        r.at,
	})
}

// commit runs fn in a transaction and writes the collected audit rows in it.
func (s *Service) commit(ctx context.Context, rec *recorder, fn func(ctx context.Context) error) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, rec.history...)
	})
}

func requireActor(op, actor string) error {
	if actor == "" {
		return lifecycle.Errorf(lifecycle.ErrInvalidInput, op, "", "", "actor is required")
	}
	return nil
}

package core

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"

	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

// AffectedCassettes unifies the legacy single-cassette reference and the detail
// rows of a ticket into one ordered, duplicate-free id list. Deleted detail rows
// are skipped unless includeDeleted is set.
func AffectedCassettes(t model.ServiceTicket, includeDeleted bool) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if t.CassetteID != nil {
		add(*t.CassetteID)
	}
	for _, d := range t.Details {
		if d.IsDeleted() && !includeDeleted {
			continue
		}
		add(d.CassetteID)
	}
	return out
}

// affectedKey changes with every ticket write, so soft delete and restore
// never read a stale entry.
func affectedKey(t model.ServiceTicket) string {
	return fmt.Sprintf("%s@%d", t.ID, t.Version)
}

// affectedCassettes is AffectedCassettes for the live view, cached per ticket version.
func (s *Service) affectedCassettes(t model.ServiceTicket) []string {
	key := affectedKey(t)
	if v, ok := s.affected.Get(key); ok {
		return v.([]string)
	}
	ids := AffectedCassettes(t, false)
	s.affected.Set(key, ids, cache.DefaultExpiration)
	return ids
}

// AffectedCassetteIDs loads a ticket and returns the cassettes it currently covers.
func (s *Service) AffectedCassetteIDs(ctx context.Context, ticketID string) ([]string, error) {
	t, err := s.store.GetTicket(ctx, ticketID, false)
	if err != nil {
		return nil, err
	}
	return s.affectedCassettes(t), nil
}

// touchedCassettes lists every cassette a ticket ever referenced, including
// through deleted details and deliveries.
func (s *Service) touchedCassettes(ctx context.Context, t model.ServiceTicket) ([]string, error) {
	ids := AffectedCassettes(t, true)
	deliveries, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{TicketID: t.ID, IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, d := range deliveries {
		if _, ok := seen[d.CassetteID]; !ok {
			seen[d.CassetteID] = struct{}{}
			ids = append(ids, d.CassetteID)
		}
	}
	return ids, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

package sweep

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cassette-tracker-backend/config"
	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/store"
)

// Reconciler is the part of the core the sweep drives.
type Reconciler interface {
	ListCassettes(ctx context.Context, filter store.CassetteFilter) ([]model.Cassette, error)
	Reconcile(ctx context.Context, cassetteID, actor string) (core.ReconcileResult, error)
}

// Publisher receives the events produced by reconciliations.
type Publisher interface {
	Publish(events ...lifecycle.Event)
}

// Summary reports one full pass.
type Summary struct {
	Checked int
	Changed int
	Failed  int
}

// Sweeper periodically reconciles every cassette.
type Sweeper struct {
	cfg       config.SweepConfig
	core      Reconciler
	publisher Publisher
}

// New creates a sweeper. publisher may be nil.
func New(cfg config.SweepConfig, r Reconciler, publisher Publisher) *Sweeper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return &Sweeper{cfg: cfg, core: r, publisher: publisher}
}

// Run sweeps once at start and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Sweep is disabled. Not starting.")
		return
	}
	log.Println("Starting consistency sweep...")

	s.runOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep shutting down.")
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	sum, err := s.ReconcileAll(ctx)
	if err != nil {
		log.Printf("Sweep aborted after %d cassettes: %v", sum.Checked, err)
		return
	}
	log.Printf("Sweep finished: %d checked, %d changed, %d failed", sum.Checked, sum.Changed, sum.Failed)
}

// ReconcileAll pages through every cassette and reconciles each one. Distinct
// cassettes run in parallel; a failure on one cassette is logged and counted
// without stopping the pass. Only a failed listing aborts it.
func (s *Sweeper) ReconcileAll(ctx context.Context) (Summary, error) {
	var (
		mu  sync.Mutex
		sum Summary
	)
	after := ""
	for {
		page, err := s.core.ListCassettes(ctx, store.CassetteFilter{AfterID: after, Limit: s.cfg.BatchSize})
		if err != nil {
			return sum, err
		}
		if len(page) == 0 {
			return sum, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for _, c := range page {
			id := c.ID
			g.Go(func() error {
				res, err := s.core.Reconcile(gctx, id, core.SystemActor)

				mu.Lock()
				defer mu.Unlock()
				sum.Checked++
				if err != nil {
					sum.Failed++
					log.Printf("Sweep: reconcile %s failed: %v", id, err)
					return nil
				}
				if res.Changed {
					sum.Changed++
					log.Printf("Sweep: cassette %s %v", id, res.Actions)
				}
				if s.publisher != nil && len(res.Events) > 0 {
					s.publisher.Publish(res.Events...)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return sum, err
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		after = page[len(page)-1].ID
		if len(page) < s.cfg.BatchSize {
			return sum, nil
		}
	}
}

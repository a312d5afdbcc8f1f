package sla

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconciler is the periodic repair pass: it brings persisted breach flags
// and mirrored statuses back in line with what the clock computes "now",
// and backfills first-response outcomes the live path missed. Each sweep is
// bounded by a caller-supplied row limit and processes its batch
// sequentially per ticket; a bad row is logged and skipped, never aborting
// the batch.
type Reconciler struct {
	store Store
	clock *Clock
	now   func() time.Time
}

// NewReconciler builds a Reconciler sharing the clock's store and locks.
func NewReconciler(store Store, clock *Clock) *Reconciler {
	return &Reconciler{store: store, clock: clock, now: time.Now}
}

// FixBreachedSLAs finds open, unpaused tickets whose due dates have passed
// but whose flags are stale, and repairs them. Returns the number of
// tickets repaired. Flags only move toward breached.
func (r *Reconciler) FixBreachedSLAs(ctx context.Context, limit int) (int, error) {
	ids, err := r.store.BreachCandidates(ctx, r.now(), limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, id := range ids {
		if _, err := r.clock.UpdateBreachStatus(ctx, id); err != nil {
			log.Error().Err(err).Str("ticket", id).Msg("fix breached sla")
			continue
		}
		fixed++
	}
	return fixed, nil
}

// CheckMissedFirstResponses finds tickets that have a qualifying agent
// reply but whose first-response outcome is still unknown, and records
// met/breached from the earliest such reply. Returns the number of tickets
// backfilled.
func (r *Reconciler) CheckMissedFirstResponses(ctx context.Context, limit int) (int, error) {
	ids, err := r.store.MissedFirstResponseCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, id := range ids {
		at, err := r.store.EarliestAgentReply(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("ticket", id).Msg("missed first response lookup")
			continue
		}
		if at == nil {
			continue
		}
		if _, err := r.clock.RecordFirstResponse(ctx, id, *at); err != nil {
			log.Error().Err(err).Str("ticket", id).Msg("missed first response record")
			continue
		}
		fixed++
	}
	return fixed, nil
}

// Result is one tick's aggregate outcome.
type Result struct {
	BreachesRepaired         int
	FirstResponsesBackfilled int
	Errors                   int
}

// Run executes both sweeps every interval until ctx is cancelled. The two
// sweeps run back to back; onTick, when set, receives each tick's counts
// (the worker feeds them into metrics).
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, limit int, onTick func(Result)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var res Result
			n, err := r.FixBreachedSLAs(ctx, limit)
			if err != nil {
				log.Error().Err(err).Msg("breach sweep")
				res.Errors++
			}
			res.BreachesRepaired = n
			n, err = r.CheckMissedFirstResponses(ctx, limit)
			if err != nil {
				log.Error().Err(err).Msg("missed first response sweep")
				res.Errors++
			}
			res.FirstResponsesBackfilled = n
			if onTick != nil {
				onTick(res)
			}
		}
	}
}

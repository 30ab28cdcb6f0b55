package queue

import (
	"context"
	"time"

	"github.com/ozgurakan/marconi/internal/metrics"
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
	"github.com/ozgurakan/marconi/pkg/log"
)

// Reclaimer is the background maintenance task. Correctness never depends on
// it: expiry is enforced at read time by every scan and claim check. The
// reclaimer only reclaims space, purging end-of-life messages, clearing
// stale claim stamps and dropping expired claim records.
type Reclaimer struct {
	engine   *Engine
	interval time.Duration
	logger   log.Logger
}

// NewReclaimer creates a reclaimer running one pass every interval.
func NewReclaimer(e *Engine, interval time.Duration, logger log.Logger) *Reclaimer {
	return &Reclaimer{
		engine:   e,
		interval: interval,
		logger:   logger.With(log.Component("reclaimer")),
	}
}

// Run loops until ctx is canceled. Pass failures are logged and retried on
// the next tick; a broken backend must not kill the server.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				r.logger.Warn("reclaim pass failed", log.Err(err))
			}
		}
	}
}

// Pass sweeps every queue of every project once.
func (r *Reclaimer) Pass(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ReclaimPassDuration.Observe(time.Since(start).Seconds()) }()

	projects, err := r.engine.backend.Queues().Projects(ctx)
	if err != nil {
		return err
	}
	var purged, reclaimed int
	for _, project := range projects {
		marker := ""
		for {
			queues, err := r.engine.backend.Queues().List(ctx, project, marker, reclaimPageSize)
			if err != nil {
				return err
			}
			if len(queues) == 0 {
				break
			}
			for _, q := range queues {
				marker = q.Name
				p, c, err := r.sweepQueue(ctx, project, q.Name)
				if err != nil {
					return err
				}
				purged += p
				reclaimed += c
			}
			if len(queues) < reclaimPageSize {
				break
			}
		}
	}

	if purged > 0 || reclaimed > 0 {
		r.logger.Info("reclaim pass done",
			log.Int("purged", purged), log.Int("reclaimed", reclaimed),
			log.Dur("elapsed", time.Since(start)))
	}
	metrics.MessagesPurged.Add(float64(purged))
	metrics.MessagesReclaimed.Add(float64(reclaimed))
	return nil
}

const reclaimPageSize = 100

func (r *Reclaimer) sweepQueue(ctx context.Context, project, queueName string) (purged, reclaimed int, err error) {
	now := r.engine.now()

	// drop expired claim records and clear the stamps they left behind
	claims, err := r.engine.backend.Claims().List(ctx, project, queueName)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range claims {
		if rec.Active(now) {
			continue
		}
		for _, mid := range rec.MessageIDs {
			ok, err := r.engine.backend.Messages().SetClaim(ctx, project, queueName, mid, rec.ID, storage.ClaimUpdate{}, now)
			if err != nil {
				return purged, reclaimed, err
			}
			if ok {
				reclaimed++
			}
		}
		if err := r.engine.backend.Claims().Delete(ctx, project, queueName, rec.ID); err != nil {
			return purged, reclaimed, err
		}
	}

	// purge end-of-life messages in pages
	marker := id.Zero
	for {
		dead, err := r.engine.backend.Messages().Scan(ctx, project, queueName, storage.ScanOptions{
			Marker:         marker,
			Limit:          reclaimPageSize,
			Echo:           true,
			IncludeClaimed: true,
			IncludeDead:    true,
			Now:            now,
		})
		if err != nil {
			return purged, reclaimed, err
		}
		if len(dead) == 0 {
			break
		}
		var ids []id.ID
		for _, m := range dead {
			marker = m.ID
			if m.Dead(now) {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) > 0 {
			if err := r.engine.backend.Messages().Delete(ctx, project, queueName, ids); err != nil {
				return purged, reclaimed, err
			}
			purged += len(ids)
		}
		if len(dead) < reclaimPageSize {
			break
		}
	}
	return purged, reclaimed, nil
}

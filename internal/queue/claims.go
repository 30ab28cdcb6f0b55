package queue

import (
	"context"
	"time"

	"github.com/ozgurakan/marconi/internal/metrics"
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
	"github.com/ozgurakan/marconi/pkg/log"
)

// ClaimOptions parameterize claim creation. A zero Limit takes the default
// batch size; TTL and Grace are mandatory.
type ClaimOptions struct {
	TTL   time.Duration
	Grace time.Duration
	Limit int
}

// CreateClaim leases up to opts.Limit free messages to a new claim. The
// claim write is conditional per message, so concurrent claimants race
// message by message and each message lands in at most one claim. Claiming
// a message also pushes its end-of-life out to at least now+ttl+grace, so
// the consumer's window cannot be cut short by message expiry.
//
// Returns QueueIsEmptyError when no message could be claimed.
func (e *Engine) CreateClaim(ctx context.Context, project, queueName string, opts ClaimOptions) (Claim, error) {
	if err := validateProject(project); err != nil {
		return Claim{}, err
	}
	if err := validateQueueName(queueName); err != nil {
		return Claim{}, err
	}
	if err := e.limits.claimTTL(opts.TTL); err != nil {
		return Claim{}, err
	}
	if err := e.limits.claimGrace(opts.Grace); err != nil {
		return Claim{}, err
	}
	limit, err := e.limits.claimLimit(opts.Limit)
	if err != nil {
		return Claim{}, err
	}

	exists, err := e.backend.Queues().Exists(ctx, project, queueName)
	if err != nil {
		return Claim{}, err
	}
	if !exists {
		return Claim{}, &storage.QueueDoesNotExistError{Project: project, Queue: queueName}
	}

	now := e.now()
	claimID := e.newClaimID()
	claimExpires := now.Add(opts.TTL)
	messageEOL := claimExpires.Add(opts.Grace)

	won := make([]storage.Message, 0, limit)
	marker := id.Zero
	for len(won) < limit {
		// overscan: some candidates will be lost to concurrent claimants
		candidates, err := e.backend.Messages().Scan(ctx, project, queueName, storage.ScanOptions{
			Marker: marker,
			Limit:  limit - len(won) + claimScanSlack,
			Echo:   true,
			Now:    now,
		})
		if err != nil {
			return Claim{}, err
		}
		if len(candidates) == 0 {
			break
		}
		for _, m := range candidates {
			marker = m.ID
			ok, err := e.backend.Messages().SetClaim(ctx, project, queueName, m.ID, "", storage.ClaimUpdate{
				ClaimID:      claimID,
				ClaimExpires: claimExpires,
				ExpiresAt:    messageEOL,
			}, now)
			if err != nil {
				return Claim{}, err
			}
			if !ok {
				continue
			}
			m.ClaimID = claimID
			m.ClaimExpires = claimExpires
			if messageEOL.After(m.ExpiresAt) {
				m.ExpiresAt = messageEOL
			}
			won = append(won, m)
			if len(won) == limit {
				break
			}
		}
	}

	if len(won) == 0 {
		return Claim{}, &storage.QueueIsEmptyError{Project: project, Queue: queueName}
	}

	rec := storage.ClaimRecord{
		ID:         claimID,
		TTL:        opts.TTL,
		Grace:      opts.Grace,
		CreatedAt:  now,
		Expires:    claimExpires,
		MessageIDs: make([]id.ID, 0, len(won)),
	}
	for _, m := range won {
		rec.MessageIDs = append(rec.MessageIDs, m.ID)
	}
	if err := e.backend.Claims().Put(ctx, project, queueName, rec); err != nil {
		return Claim{}, err
	}

	metrics.ClaimsCreated.Inc()
	metrics.MessagesClaimed.Add(float64(len(won)))
	e.logger.Debug("claim created",
		log.Str("project", project), log.Str("queue", queueName),
		log.Str("claim", claimID), log.Int("messages", len(won)))

	claim := Claim{ID: claimID, TTL: opts.TTL, Grace: opts.Grace}
	for _, m := range won {
		claim.Messages = append(claim.Messages, e.toMessage(m, now))
	}
	return claim, nil
}

// claimScanSlack pads each candidate scan so one pass usually survives a few
// lost races without a second round trip.
const claimScanSlack = 10

// GetClaim returns an active claim with the messages it still holds.
// An expired claim is reported as nonexistent.
func (e *Engine) GetClaim(ctx context.Context, project, queueName, claimID string) (Claim, error) {
	if err := validateProject(project); err != nil {
		return Claim{}, err
	}
	if err := validateQueueName(queueName); err != nil {
		return Claim{}, err
	}

	now := e.now()
	rec, err := e.backend.Claims().Get(ctx, project, queueName, claimID)
	if err != nil {
		return Claim{}, err
	}
	if !rec.Active(now) {
		return Claim{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queueName, ID: claimID}
	}

	claim := Claim{
		ID:    rec.ID,
		TTL:   rec.TTL,
		Grace: rec.Grace,
		Age:   now.Sub(rec.CreatedAt),
	}
	for _, mid := range rec.MessageIDs {
		m, err := e.backend.Messages().Get(ctx, project, queueName, mid, now)
		if storage.IsDoesNotExist(err) {
			// already acknowledged or expired out from under the claim
			continue
		}
		if err != nil {
			return Claim{}, err
		}
		if m.ClaimID != claimID {
			continue
		}
		claim.Messages = append(claim.Messages, e.toMessage(m, now))
	}
	return claim, nil
}

// RenewClaim extends an active claim's window to now+ttl and re-stamps every
// message it still holds. The grace from creation keeps applying to message
// end-of-life.
func (e *Engine) RenewClaim(ctx context.Context, project, queueName, claimID string, ttl time.Duration) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	if err := e.limits.claimTTL(ttl); err != nil {
		return err
	}

	now := e.now()
	rec, err := e.backend.Claims().Get(ctx, project, queueName, claimID)
	if err != nil {
		return err
	}
	if !rec.Active(now) {
		return &storage.ClaimDoesNotExistError{Project: project, Queue: queueName, ID: claimID}
	}

	rec.TTL = ttl
	rec.Expires = now.Add(ttl)
	messageEOL := rec.Expires.Add(rec.Grace)

	for _, mid := range rec.MessageIDs {
		// per-message conditional write: messages already acked or lost
		// to expiry are skipped
		if _, err := e.backend.Messages().SetClaim(ctx, project, queueName, mid, claimID, storage.ClaimUpdate{
			ClaimID:      claimID,
			ClaimExpires: rec.Expires,
			ExpiresAt:    messageEOL,
		}, now); err != nil {
			return err
		}
	}
	return e.backend.Claims().Put(ctx, project, queueName, rec)
}

// AckClaim deletes every message the claim still holds and then the claim
// itself. Messages already acked individually or lost to expiry are skipped.
func (e *Engine) AckClaim(ctx context.Context, project, queueName, claimID string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(queueName); err != nil {
		return err
	}

	now := e.now()
	rec, err := e.backend.Claims().Get(ctx, project, queueName, claimID)
	if err != nil {
		return err
	}
	if !rec.Active(now) {
		return &storage.ClaimDoesNotExistError{Project: project, Queue: queueName, ID: claimID}
	}

	acked := 0
	for _, mid := range rec.MessageIDs {
		m, err := e.backend.Messages().Get(ctx, project, queueName, mid, now)
		if storage.IsDoesNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if m.ClaimID != claimID {
			continue
		}
		if err := e.backend.Messages().Delete(ctx, project, queueName, []id.ID{mid}); err != nil {
			return err
		}
		acked++
	}
	if err := e.backend.Claims().Delete(ctx, project, queueName, claimID); err != nil {
		return err
	}
	metrics.MessagesAcked.Add(float64(acked))
	metrics.ClaimsReleased.Inc()
	return nil
}

// ReleaseClaim dissolves the claim and makes its unacked messages claimable
// again immediately. Releasing an absent or expired claim succeeds.
func (e *Engine) ReleaseClaim(ctx context.Context, project, queueName, claimID string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(queueName); err != nil {
		return err
	}

	now := e.now()
	rec, err := e.backend.Claims().Get(ctx, project, queueName, claimID)
	if storage.IsDoesNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, mid := range rec.MessageIDs {
		if _, err := e.backend.Messages().SetClaim(ctx, project, queueName, mid, claimID, storage.ClaimUpdate{}, now); err != nil {
			return err
		}
	}
	if err := e.backend.Claims().Delete(ctx, project, queueName, claimID); err != nil {
		return err
	}
	metrics.ClaimsReleased.Inc()
	return nil
}

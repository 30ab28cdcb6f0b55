package queue

import (
	"context"
	"time"

	"github.com/ozgurakan/marconi/internal/metrics"
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
	"github.com/ozgurakan/marconi/pkg/log"
)

// Draft is one message in a POST batch. A zero TTL takes the default.
type Draft struct {
	Body []byte
	TTL  time.Duration
}

// ListOptions filters a message listing.
type ListOptions struct {
	// Marker resumes a paged listing; empty starts from the oldest message.
	Marker string
	// Limit caps the page; zero takes the default page size.
	Limit int
	// Echo includes the caller's own messages.
	Echo bool
	// IncludeClaimed includes messages under an active claim.
	IncludeClaimed bool
}

// Post validates and enqueues a batch. Validation is all-or-nothing: any
// invalid draft rejects the whole batch before anything is written. Identity
// conflicts are detected per message after validation; when some messages
// conflict the rest still land and the returned MessageConflictError lists
// the ids that did, in input order.
func (e *Engine) Post(ctx context.Context, project, queueName, clientID string, drafts []Draft) ([]string, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, storage.Validationf("client id must not be empty")
	}
	if len(drafts) == 0 {
		return nil, storage.Validationf("message batch must not be empty")
	}
	if len(drafts) > e.limits.MaxMessagesPerPost {
		return nil, storage.Validationf("message batch size %d exceeds %d",
			len(drafts), e.limits.MaxMessagesPerPost)
	}

	stored := make([]storage.Draft, len(drafts))
	for i, d := range drafts {
		if len(d.Body) == 0 {
			return nil, storage.Validationf("message %d has an empty body", i)
		}
		if len(d.Body) > e.limits.MaxMessageSize {
			return nil, storage.Validationf("message %d exceeds %d bytes", i, e.limits.MaxMessageSize)
		}
		ttl, err := e.limits.messageTTL(d.TTL)
		if err != nil {
			return nil, err
		}
		stored[i] = storage.Draft{Body: d.Body, TTL: ttl, ClientID: clientID}
	}

	results, err := e.backend.Messages().Insert(ctx, project, queueName, stored, e.now())
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	conflicts := 0
	for _, r := range results {
		if r.Conflict {
			conflicts++
			continue
		}
		ids = append(ids, r.ID.String())
	}
	metrics.MessagesPosted.Add(float64(len(ids)))
	if conflicts > 0 {
		metrics.MessageConflicts.Add(float64(conflicts))
		e.logger.Debug("post rejected duplicates",
			log.Str("project", project), log.Str("queue", queueName), log.Int("conflicts", conflicts))
		return nil, &storage.MessageConflictError{Project: project, Queue: queueName, SucceededIDs: ids}
	}
	return ids, nil
}

// List returns one page of unclaimed live messages in enqueue order, skipping
// the caller's own unless opts.Echo is set. The second return is the marker
// for the next page: the id of the last message on this page, or opts.Marker
// unchanged when the page is empty.
func (e *Engine) List(ctx context.Context, project, queueName, clientID string, opts ListOptions) ([]Message, string, error) {
	if err := validateProject(project); err != nil {
		return nil, "", err
	}
	if err := validateQueueName(queueName); err != nil {
		return nil, "", err
	}
	marker, err := decodeMarker(opts.Marker)
	if err != nil {
		return nil, "", err
	}
	limit, err := e.limits.pageSize(opts.Limit)
	if err != nil {
		return nil, "", err
	}

	exists, err := e.backend.Queues().Exists(ctx, project, queueName)
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", &storage.QueueDoesNotExistError{Project: project, Queue: queueName}
	}

	now := e.now()
	msgs, err := e.backend.Messages().Scan(ctx, project, queueName, storage.ScanOptions{
		Marker:         marker,
		Limit:          limit,
		ClientID:       clientID,
		Echo:           opts.Echo,
		IncludeClaimed: opts.IncludeClaimed,
		Now:            now,
	})
	if err != nil {
		return nil, "", err
	}

	out := make([]Message, 0, len(msgs))
	next := opts.Marker
	for _, m := range msgs {
		out = append(out, e.toMessage(m, now))
		next = m.ID.String()
	}
	return out, next, nil
}

// Get returns one live message by id.
func (e *Engine) Get(ctx context.Context, project, queueName, messageID string) (Message, error) {
	if err := validateProject(project); err != nil {
		return Message{}, err
	}
	if err := validateQueueName(queueName); err != nil {
		return Message{}, err
	}
	mid, err := decodeMessageID(messageID)
	if err != nil {
		return Message{}, err
	}
	now := e.now()
	m, err := e.backend.Messages().Get(ctx, project, queueName, mid, now)
	if err != nil {
		return Message{}, err
	}
	return e.toMessage(m, now), nil
}

// GetMany returns the live messages among ids. Misses are skipped, not
// errors; only a malformed id fails the call.
func (e *Engine) GetMany(ctx context.Context, project, queueName string, ids []string) ([]Message, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	if err := validateQueueName(queueName); err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]Message, 0, len(ids))
	for _, s := range ids {
		mid, err := decodeMessageID(s)
		if err != nil {
			return nil, err
		}
		m, err := e.backend.Messages().Get(ctx, project, queueName, mid, now)
		if storage.IsDoesNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e.toMessage(m, now))
	}
	return out, nil
}

// Delete removes one message. With a non-empty claimID the delete is an
// acknowledgment: it succeeds only while the message is held by that claim.
// Without one, deleting a claimed message is refused so a consumer's window
// cannot be cut short. Deleting an absent message succeeds.
func (e *Engine) Delete(ctx context.Context, project, queueName, messageID, claimID string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	mid, err := decodeMessageID(messageID)
	if err != nil {
		return err
	}

	now := e.now()
	m, err := e.backend.Messages().Get(ctx, project, queueName, mid, now)
	if storage.IsDoesNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if claimID != "" {
		if !m.Claimed(now) || m.ClaimID != claimID {
			return &storage.ClaimNotPermittedError{MessageID: messageID, ClaimID: claimID}
		}
	} else if m.Claimed(now) {
		return &storage.ClaimNotPermittedError{MessageID: messageID, ClaimID: m.ClaimID}
	}
	if err := e.backend.Messages().Delete(ctx, project, queueName, []id.ID{mid}); err != nil {
		return err
	}
	if claimID != "" {
		metrics.MessagesAcked.Inc()
	}
	return nil
}

// DeleteMany removes a set of messages unconditionally. Absent ids are
// ignored. Unlike Delete, the bulk form carries no claim id and skips the
// ownership guard entirely: a message named in the batch is removed even
// while another consumer's claim holds it. The collection DELETE endpoint
// and queue maintenance both rely on that.
func (e *Engine) DeleteMany(ctx context.Context, project, queueName string, ids []string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	if err := validateQueueName(queueName); err != nil {
		return err
	}
	mids, err := decodeAll(ids)
	if err != nil {
		return err
	}
	return e.backend.Messages().Delete(ctx, project, queueName, mids)
}

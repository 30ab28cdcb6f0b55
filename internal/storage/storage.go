package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ozgurakan/marconi/pkg/id"
)

// Message is the stored representation of a queued message.
type Message struct {
	ID        id.ID
	ClientID  string
	Body      []byte
	TTL       time.Duration
	CreatedAt time.Time
	// ExpiresAt is the end-of-life deadline: CreatedAt+TTL, pushed out by
	// claim grace while the message is held.
	ExpiresAt time.Time
	// ClaimID is empty while the message is unclaimed. ClaimExpires is
	// meaningful only while ClaimID is set.
	ClaimID      string
	ClaimExpires time.Time
}

// Claimed reports whether the message is held by an active claim at now.
func (m *Message) Claimed(now time.Time) bool {
	return m.ClaimID != "" && now.Before(m.ClaimExpires)
}

// Dead reports whether the message has reached end-of-life at now.
func (m *Message) Dead(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// ClaimRecord is the stored representation of a claim. It holds weak
// references to messages: deleting the record releases the hold but never
// the messages themselves.
type ClaimRecord struct {
	ID         string
	TTL        time.Duration
	Grace      time.Duration
	CreatedAt  time.Time
	Expires    time.Time
	MessageIDs []id.ID
}

// Active reports whether the claim is unexpired at now.
func (c *ClaimRecord) Active(now time.Time) bool { return now.Before(c.Expires) }

// QueueEntry is a queue row as returned by listing.
type QueueEntry struct {
	Name     string
	Metadata []byte
}

// QueueStats counts messages by visibility.
type QueueStats struct {
	Free    int64
	Claimed int64
	Total   int64
}

// Draft is a validated message awaiting insertion.
type Draft struct {
	Body     []byte
	TTL      time.Duration
	ClientID string
}

// InsertResult is the per-input outcome of a bulk insert. Conflict entries
// were skipped, not re-inserted, and carry no id.
type InsertResult struct {
	ID       id.ID
	Conflict bool
}

// ScanOptions filters an id-ordered message scan.
type ScanOptions struct {
	// Marker is an exclusive lower bound on message id; Zero starts from
	// the beginning.
	Marker id.ID
	// Limit caps the number of returned messages. Zero means no cap.
	Limit int
	// ClientID identifies the caller; messages it posted are skipped
	// unless Echo is set.
	ClientID string
	Echo     bool
	// IncludeClaimed also yields messages under an active claim.
	IncludeClaimed bool
	// IncludeDead also yields end-of-life messages. Only the reclaim pass
	// sets this.
	IncludeDead bool
	// Now anchors the visibility and end-of-life predicates.
	Now time.Time
}

// ClaimUpdate is the value side of a conditional claim write. An empty
// ClaimID clears the hold. A nonzero ExpiresAt extends the message's
// end-of-life deadline, never shortens it.
type ClaimUpdate struct {
	ClaimID      string
	ClaimExpires time.Time
	ExpiresAt    time.Time
}

// Backend is the storage contract the engine consumes.
type Backend interface {
	Queues() QueueStore
	Messages() MessageStore
	Claims() ClaimStore

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error
	Close() error
}

// QueueStore persists queue rows per project namespace.
type QueueStore interface {
	// Upsert creates the queue or overwrites its metadata. It reports
	// whether the queue was newly created and never fails due to existence.
	Upsert(ctx context.Context, project, name string, metadata []byte) (created bool, err error)

	// Exists reports queue existence.
	Exists(ctx context.Context, project, name string) (bool, error)

	// Metadata returns the queue's metadata document or
	// QueueDoesNotExistError.
	Metadata(ctx context.Context, project, name string) ([]byte, error)

	// Delete removes the queue and cascades to its messages and claims.
	// Deleting an absent queue is a no-op.
	Delete(ctx context.Context, project, name string) error

	// List returns up to limit queue entries ordered by name, strictly
	// after marker (the last-seen name; empty starts from the beginning).
	List(ctx context.Context, project, marker string, limit int) ([]QueueEntry, error)

	// Stats counts free vs claimed live messages at now, or
	// QueueDoesNotExistError.
	Stats(ctx context.Context, project, name string, now time.Time) (QueueStats, error)

	// Projects enumerates project namespaces that hold at least one queue.
	// Used by the reclaim pass.
	Projects(ctx context.Context) ([]string, error)
}

// MessageStore persists the ordered message collection of each queue.
type MessageStore interface {
	// Insert appends drafts in order, assigning monotonically increasing
	// ids. A draft whose client identity fingerprint matches a live message
	// already in the queue is skipped and reported as a conflict. The
	// result slice is parallel to drafts.
	Insert(ctx context.Context, project, queue string, drafts []Draft, now time.Time) ([]InsertResult, error)

	// Scan yields live messages in id order per opts. It never reports an
	// empty result as an error.
	Scan(ctx context.Context, project, queue string, opts ScanOptions) ([]Message, error)

	// Get returns a live message or MessageDoesNotExistError.
	Get(ctx context.Context, project, queue string, mid id.ID, now time.Time) (Message, error)

	// Delete removes the given messages. Absent ids are ignored.
	Delete(ctx context.Context, project, queue string, ids []id.ID) error

	// SetClaim performs the conditional claim write on one message and
	// reports whether the precondition held at the moment of the write.
	// With expect == "", the write requires the message to be unclaimed or
	// claim-expired at opts' now; otherwise it requires the message to be
	// currently assigned to expect. A false return is not an error: the
	// caller lost the race (or the message is gone) and skips the message.
	SetClaim(ctx context.Context, project, queue string, mid id.ID, expect string, upd ClaimUpdate, now time.Time) (bool, error)
}

// ClaimStore persists claim records per queue.
type ClaimStore interface {
	Put(ctx context.Context, project, queue string, rec ClaimRecord) error

	// Get returns the record or ClaimDoesNotExistError. Expiry checks are
	// the engine's concern.
	Get(ctx context.Context, project, queue, claimID string) (ClaimRecord, error)

	// Delete removes the record. Absent ids are ignored.
	Delete(ctx context.Context, project, queue, claimID string) error

	// List returns all claim records of a queue. Used by the reclaim pass
	// to discard expired records.
	List(ctx context.Context, project, queue string) ([]ClaimRecord, error)
}

// Fingerprint derives the client-supplied identity of a message used for
// duplicate detection on insert.
func Fingerprint(clientID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Package postgresstore implements the storage contract on PostgreSQL.
//
// The conditional claim write maps directly onto a guarded UPDATE, so unlike
// the embedded backends no process-local locking is needed: the database is
// the arbiter of every claim race.
package postgresstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
)

// Ensure *Backend implements the contract at compile time.
var _ storage.Backend = (*Backend)(nil)

type Backend struct {
	pool *pgxpool.Pool
	gen  *id.Generator
}

const schema = `
CREATE TABLE IF NOT EXISTS queues (
	project  TEXT NOT NULL,
	name     TEXT NOT NULL,
	metadata BYTEA NOT NULL DEFAULT '{}',
	PRIMARY KEY (project, name)
);

CREATE TABLE IF NOT EXISTS messages (
	project          TEXT NOT NULL,
	queue            TEXT NOT NULL,
	id               BYTEA NOT NULL,
	client_id        TEXT NOT NULL DEFAULT '',
	body             BYTEA NOT NULL,
	ttl_ms           BIGINT NOT NULL,
	created_ms       BIGINT NOT NULL,
	expires_ms       BIGINT NOT NULL,
	claim_id         TEXT NOT NULL DEFAULT '',
	claim_expires_ms BIGINT NOT NULL DEFAULT 0,
	fingerprint      TEXT NOT NULL,
	PRIMARY KEY (project, queue, id)
);

CREATE INDEX IF NOT EXISTS messages_fingerprint
	ON messages (project, queue, fingerprint);

CREATE TABLE IF NOT EXISTS claims (
	project     TEXT NOT NULL,
	queue       TEXT NOT NULL,
	id          TEXT NOT NULL,
	ttl_ms      BIGINT NOT NULL,
	grace_ms    BIGINT NOT NULL,
	created_ms  BIGINT NOT NULL,
	expires_ms  BIGINT NOT NULL,
	message_ids TEXT[] NOT NULL,
	PRIMARY KEY (project, queue, id)
);
`

// Open connects to the database at url and bootstraps the schema.
func Open(ctx context.Context, url string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, &storage.ConnectionError{Cause: err}
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, &storage.ConnectionError{Cause: err}
	}
	return &Backend{pool: pool, gen: id.NewGenerator()}, nil
}

// NewBackend wraps an existing pool. The schema must already exist.
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool, gen: id.NewGenerator()}
}

func (b *Backend) Queues() storage.QueueStore     { return &queueStore{b} }
func (b *Backend) Messages() storage.MessageStore { return &messageStore{b} }
func (b *Backend) Claims() storage.ClaimStore     { return &claimStore{b} }

func (b *Backend) Health(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return &storage.ConnectionError{Cause: err}
	}
	return nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &storage.ConnectionError{Cause: err}
}

type queueStore struct{ b *Backend }

const sqlUpsertQueue = `
INSERT INTO queues (project, name, metadata) VALUES ($1, $2, $3)
ON CONFLICT (project, name) DO UPDATE SET metadata = EXCLUDED.metadata
RETURNING (xmax = 0);`

func (s *queueStore) Upsert(ctx context.Context, project, name string, metadata []byte) (bool, error) {
	if metadata == nil {
		metadata = []byte("{}")
	}
	var created bool
	err := s.b.pool.QueryRow(ctx, sqlUpsertQueue, project, name, metadata).Scan(&created)
	if err != nil {
		return false, wrap(err)
	}
	return created, nil
}

func (s *queueStore) Exists(ctx context.Context, project, name string) (bool, error) {
	var ok bool
	err := s.b.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queues WHERE project = $1 AND name = $2)`,
		project, name).Scan(&ok)
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

func (s *queueStore) Metadata(ctx context.Context, project, name string) ([]byte, error) {
	var md []byte
	err := s.b.pool.QueryRow(ctx,
		`SELECT metadata FROM queues WHERE project = $1 AND name = $2`,
		project, name).Scan(&md)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}
	if err != nil {
		return nil, wrap(err)
	}
	return md, nil
}

func (s *queueStore) Delete(ctx context.Context, project, name string) error {
	tx, err := s.b.pool.Begin(ctx)
	if err != nil {
		return wrap(err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM messages WHERE project = $1 AND queue = $2`,
		`DELETE FROM claims WHERE project = $1 AND queue = $2`,
		`DELETE FROM queues WHERE project = $1 AND name = $2`,
	} {
		if _, err := tx.Exec(ctx, stmt, project, name); err != nil {
			return wrap(err)
		}
	}
	return wrap(tx.Commit(ctx))
}

func (s *queueStore) List(ctx context.Context, project, marker string, limit int) ([]storage.QueueEntry, error) {
	rows, err := s.b.pool.Query(ctx, `
SELECT name, metadata FROM queues
WHERE project = $1 AND name > $2
ORDER BY name
LIMIT NULLIF($3::bigint, 0)`,
		project, marker, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []storage.QueueEntry
	for rows.Next() {
		var e storage.QueueEntry
		if err := rows.Scan(&e.Name, &e.Metadata); err != nil {
			return nil, wrap(err)
		}
		out = append(out, e)
	}
	return out, wrap(rows.Err())
}

func (s *queueStore) Stats(ctx context.Context, project, name string, now time.Time) (storage.QueueStats, error) {
	exists, err := s.Exists(ctx, project, name)
	if err != nil {
		return storage.QueueStats{}, err
	}
	if !exists {
		return storage.QueueStats{}, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}

	var st storage.QueueStats
	err = s.b.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE claim_id = '' OR claim_expires_ms <= $3),
	COUNT(*) FILTER (WHERE claim_id <> '' AND claim_expires_ms > $3)
FROM messages
WHERE project = $1 AND queue = $2 AND expires_ms > $3`,
		project, name, now.UnixMilli()).Scan(&st.Free, &st.Claimed)
	if err != nil {
		return storage.QueueStats{}, wrap(err)
	}
	st.Total = st.Free + st.Claimed
	return st, nil
}

func (s *queueStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.b.pool.Query(ctx, `SELECT DISTINCT project FROM queues ORDER BY project`)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrap(err)
		}
		out = append(out, p)
	}
	return out, wrap(rows.Err())
}

type messageStore struct{ b *Backend }

const sqlInsertMessage = `
INSERT INTO messages
	(project, queue, id, client_id, body, ttl_ms, created_ms, expires_ms, fingerprint)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

func (s *messageStore) Insert(ctx context.Context, project, queue string, drafts []storage.Draft, now time.Time) ([]storage.InsertResult, error) {
	tx, err := s.b.pool.Begin(ctx)
	if err != nil {
		return nil, wrap(err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queues WHERE project = $1 AND name = $2)`,
		project, queue).Scan(&exists)
	if err != nil {
		return nil, wrap(err)
	}
	if !exists {
		return nil, &storage.QueueDoesNotExistError{Project: project, Queue: queue}
	}

	nowMs := now.UnixMilli()
	out := make([]storage.InsertResult, len(drafts))
	for i, d := range drafts {
		fp := storage.Fingerprint(d.ClientID, d.Body)

		// rows inserted earlier in this transaction are visible here, so
		// duplicates within one batch also surface as conflicts
		var live bool
		err = tx.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM messages
	WHERE project = $1 AND queue = $2 AND fingerprint = $3 AND expires_ms > $4
)`,
			project, queue, fp, nowMs).Scan(&live)
		if err != nil {
			return nil, wrap(err)
		}
		if live {
			out[i] = storage.InsertResult{Conflict: true}
			continue
		}

		mid := s.b.gen.Next()
		_, err = tx.Exec(ctx, sqlInsertMessage,
			project, queue, mid.Bytes(), d.ClientID, d.Body,
			d.TTL.Milliseconds(), nowMs, now.Add(d.TTL).UnixMilli(), fp)
		if err != nil {
			return nil, wrap(err)
		}
		out[i] = storage.InsertResult{ID: mid}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

const sqlScanMessages = `
SELECT id, client_id, body, ttl_ms, created_ms, expires_ms, claim_id, claim_expires_ms
FROM messages
WHERE project = $1 AND queue = $2 AND id > $3
	AND ($5 OR expires_ms > $4)
	AND ($6 OR claim_id = '' OR claim_expires_ms <= $4)
	AND ($7 OR $8 = '' OR client_id <> $8)
ORDER BY id
LIMIT NULLIF($9::bigint, 0);`

func (s *messageStore) Scan(ctx context.Context, project, queue string, opts storage.ScanOptions) ([]storage.Message, error) {
	rows, err := s.b.pool.Query(ctx, sqlScanMessages,
		project, queue, opts.Marker.Bytes(), opts.Now.UnixMilli(),
		opts.IncludeDead, opts.IncludeClaimed, opts.Echo, opts.ClientID, opts.Limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrap(rows.Err())
}

func scanMessage(row pgx.Row) (storage.Message, error) {
	var (
		raw                                        []byte
		ttlMs, createdMs, expiresMs, claimExpireMs int64
		m                                          storage.Message
	)
	err := row.Scan(&raw, &m.ClientID, &m.Body, &ttlMs, &createdMs, &expiresMs, &m.ClaimID, &claimExpireMs)
	if err != nil {
		return storage.Message{}, wrap(err)
	}
	mid, err := id.FromBytes(raw)
	if err != nil {
		return storage.Message{}, wrap(err)
	}
	m.ID = mid
	m.TTL = time.Duration(ttlMs) * time.Millisecond
	m.CreatedAt = time.UnixMilli(createdMs)
	m.ExpiresAt = time.UnixMilli(expiresMs)
	if claimExpireMs != 0 {
		m.ClaimExpires = time.UnixMilli(claimExpireMs)
	}
	return m, nil
}

func (s *messageStore) Get(ctx context.Context, project, queue string, mid id.ID, now time.Time) (storage.Message, error) {
	row := s.b.pool.QueryRow(ctx, `
SELECT id, client_id, body, ttl_ms, created_ms, expires_ms, claim_id, claim_expires_ms
FROM messages
WHERE project = $1 AND queue = $2 AND id = $3 AND expires_ms > $4`,
		project, queue, mid.Bytes(), now.UnixMilli())
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	if err != nil {
		return storage.Message{}, err
	}
	return m, nil
}

func (s *messageStore) Delete(ctx context.Context, project, queue string, ids []id.ID) error {
	raw := make([][]byte, 0, len(ids))
	for _, mid := range ids {
		raw = append(raw, mid.Bytes())
	}
	_, err := s.b.pool.Exec(ctx,
		`DELETE FROM messages WHERE project = $1 AND queue = $2 AND id = ANY($3)`,
		project, queue, raw)
	return wrap(err)
}

// sqlSetClaim is the single concurrency primitive: the WHERE clause carries
// the claim precondition, so concurrent claimants race on row-level locking
// and at most one update sticks.
const sqlSetClaim = `
UPDATE messages SET
	claim_id = $5,
	claim_expires_ms = $6,
	expires_ms = GREATEST(expires_ms, $7)
WHERE project = $1 AND queue = $2 AND id = $3
	AND expires_ms > $4
	AND (($8 = '' AND (claim_id = '' OR claim_expires_ms <= $4))
		OR ($8 <> '' AND claim_id = $8));`

func (s *messageStore) SetClaim(ctx context.Context, project, queue string, mid id.ID, expect string, upd storage.ClaimUpdate, now time.Time) (bool, error) {
	var claimExpiresMs int64
	if upd.ClaimID != "" {
		claimExpiresMs = upd.ClaimExpires.UnixMilli()
	}
	var expiresMs int64
	if !upd.ExpiresAt.IsZero() {
		expiresMs = upd.ExpiresAt.UnixMilli()
	}
	tag, err := s.b.pool.Exec(ctx, sqlSetClaim,
		project, queue, mid.Bytes(), now.UnixMilli(),
		upd.ClaimID, claimExpiresMs, expiresMs, expect)
	if err != nil {
		return false, wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

type claimStore struct{ b *Backend }

func (s *claimStore) Put(ctx context.Context, project, queue string, rec storage.ClaimRecord) error {
	mids := make([]string, 0, len(rec.MessageIDs))
	for _, mid := range rec.MessageIDs {
		mids = append(mids, mid.String())
	}
	_, err := s.b.pool.Exec(ctx, `
INSERT INTO claims (project, queue, id, ttl_ms, grace_ms, created_ms, expires_ms, message_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (project, queue, id) DO UPDATE SET
	ttl_ms = EXCLUDED.ttl_ms,
	expires_ms = EXCLUDED.expires_ms,
	message_ids = EXCLUDED.message_ids`,
		project, queue, rec.ID,
		rec.TTL.Milliseconds(), rec.Grace.Milliseconds(),
		rec.CreatedAt.UnixMilli(), rec.Expires.UnixMilli(), mids)
	return wrap(err)
}

func (s *claimStore) Get(ctx context.Context, project, queue, claimID string) (storage.ClaimRecord, error) {
	row := s.b.pool.QueryRow(ctx, `
SELECT id, ttl_ms, grace_ms, created_ms, expires_ms, message_ids
FROM claims
WHERE project = $1 AND queue = $2 AND id = $3`,
		project, queue, claimID)
	rec, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ClaimRecord{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queue, ID: claimID}
	}
	if err != nil {
		return storage.ClaimRecord{}, err
	}
	return rec, nil
}

func scanClaim(row pgx.Row) (storage.ClaimRecord, error) {
	var (
		ttlMs, graceMs, createdMs, expiresMs int64
		mids                                 []string
		rec                                  storage.ClaimRecord
	)
	err := row.Scan(&rec.ID, &ttlMs, &graceMs, &createdMs, &expiresMs, &mids)
	if err != nil {
		return storage.ClaimRecord{}, wrap(err)
	}
	rec.TTL = time.Duration(ttlMs) * time.Millisecond
	rec.Grace = time.Duration(graceMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.Expires = time.UnixMilli(expiresMs)
	for _, s := range mids {
		mid, err := id.Parse(s)
		if err != nil {
			continue
		}
		rec.MessageIDs = append(rec.MessageIDs, mid)
	}
	return rec, nil
}

func (s *claimStore) Delete(ctx context.Context, project, queue, claimID string) error {
	_, err := s.b.pool.Exec(ctx,
		`DELETE FROM claims WHERE project = $1 AND queue = $2 AND id = $3`,
		project, queue, claimID)
	return wrap(err)
}

func (s *claimStore) List(ctx context.Context, project, queue string) ([]storage.ClaimRecord, error) {
	rows, err := s.b.pool.Query(ctx, `
SELECT id, ttl_ms, grace_ms, created_ms, expires_ms, message_ids
FROM claims
WHERE project = $1 AND queue = $2`,
		project, queue)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []storage.ClaimRecord
	for rows.Next() {
		rec, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, wrap(rows.Err())
}

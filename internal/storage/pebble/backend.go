package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
)

// Ensure *Backend implements the contract at compile time.
var _ storage.Backend = (*Backend)(nil)

// Backend implements the storage contract on an embedded Pebble database.
// Pebble has no native compare-and-set, so conditional writes are
// read-modify-write batches serialized by a striped per-queue lock. The
// stripes only order writers touching the same queue; readers go straight
// to the LSM.
type Backend struct {
	db    *DB
	gen   *id.Generator
	locks [64]sync.Mutex
}

// NewBackend wraps an open DB.
func NewBackend(db *DB) *Backend {
	return &Backend{db: db, gen: id.NewGenerator()}
}

// OpenBackend opens the database at opts and wraps it.
func OpenBackend(opts Options) (*Backend, error) {
	db, err := Open(opts)
	if err != nil {
		return nil, err
	}
	return NewBackend(db), nil
}

// Queues implements storage.Backend.
func (b *Backend) Queues() storage.QueueStore { return &queueStore{b} }

// Messages implements storage.Backend.
func (b *Backend) Messages() storage.MessageStore { return &messageStore{b} }

// Claims implements storage.Backend.
func (b *Backend) Claims() storage.ClaimStore { return &claimStore{b} }

// Health implements storage.Backend.
func (b *Backend) Health(context.Context) error {
	it, err := b.db.NewIter(nil)
	if err != nil {
		return &storage.ConnectionError{Cause: err}
	}
	return it.Close()
}

// Close implements storage.Backend.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) lock(project, queue string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(project))
	_, _ = h.Write([]byte{'/'})
	_, _ = h.Write([]byte(queue))
	return &b.locks[h.Sum32()%uint32(len(b.locks))]
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &storage.ConnectionError{Cause: err}
}

// msgDoc is the persisted message record. Timestamps are UTC milliseconds.
type msgDoc struct {
	ClientID       string `json:"client_id,omitempty"`
	Body           []byte `json:"body"`
	TTLMs          int64  `json:"ttl_ms"`
	CreatedAtMs    int64  `json:"created_ms"`
	ExpiresAtMs    int64  `json:"expires_ms"`
	ClaimID        string `json:"claim_id,omitempty"`
	ClaimExpiresMs int64  `json:"claim_expires_ms,omitempty"`
	Fingerprint    string `json:"fp"`
}

func (d *msgDoc) toMessage(mid id.ID) storage.Message {
	m := storage.Message{
		ID:        mid,
		ClientID:  d.ClientID,
		Body:      d.Body,
		TTL:       time.Duration(d.TTLMs) * time.Millisecond,
		CreatedAt: time.UnixMilli(d.CreatedAtMs),
		ExpiresAt: time.UnixMilli(d.ExpiresAtMs),
		ClaimID:   d.ClaimID,
	}
	if d.ClaimExpiresMs != 0 {
		m.ClaimExpires = time.UnixMilli(d.ClaimExpiresMs)
	}
	return m
}

// claimDoc is the persisted claim record.
type claimDoc struct {
	TTLMs       int64    `json:"ttl_ms"`
	GraceMs     int64    `json:"grace_ms"`
	CreatedAtMs int64    `json:"created_ms"`
	ExpiresMs   int64    `json:"expires_ms"`
	MessageIDs  []string `json:"message_ids"`
}

type queueStore struct{ b *Backend }

func (s *queueStore) Upsert(_ context.Context, project, name string, metadata []byte) (bool, error) {
	mu := s.b.lock(project, name)
	mu.Lock()
	defer mu.Unlock()

	key := metaKey(project, name)
	_, err := s.b.db.Get(key)
	created := errors.Is(err, pebble.ErrNotFound)
	if err != nil && !created {
		return false, wrap(err)
	}
	if metadata == nil {
		metadata = []byte("{}")
	}
	if err := s.b.db.Set(key, metadata); err != nil {
		return false, wrap(err)
	}
	return created, nil
}

func (s *queueStore) Exists(_ context.Context, project, name string) (bool, error) {
	_, err := s.b.db.Get(metaKey(project, name))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return true, nil
}

func (s *queueStore) Metadata(_ context.Context, project, name string) ([]byte, error) {
	md, err := s.b.db.Get(metaKey(project, name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}
	if err != nil {
		return nil, wrap(err)
	}
	return md, nil
}

func (s *queueStore) Delete(_ context.Context, project, name string) error {
	mu := s.b.lock(project, name)
	mu.Lock()
	defer mu.Unlock()

	start, end := keyRange(queuePrefix(project, name))
	batch := s.b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(start, end, nil); err != nil {
		return wrap(err)
	}
	return wrap(s.b.db.CommitBatch(batch))
}

func (s *queueStore) List(_ context.Context, project, marker string, limit int) ([]storage.QueueEntry, error) {
	prefix := projectQueuesPrefix(project)
	start, end := keyRange(prefix)
	it, err := s.b.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, wrap(err)
	}
	defer it.Close()

	var out []storage.QueueEntry
	for ok := it.First(); ok; ok = it.Next() {
		name := queueNameFromMetaKey(it.Key(), prefix)
		if name == "" || name <= marker {
			continue
		}
		out = append(out, storage.QueueEntry{
			Name:     name,
			Metadata: append([]byte(nil), it.Value()...),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *queueStore) Stats(ctx context.Context, project, name string, now time.Time) (storage.QueueStats, error) {
	exists, err := s.Exists(ctx, project, name)
	if err != nil {
		return storage.QueueStats{}, err
	}
	if !exists {
		return storage.QueueStats{}, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}

	start, end := msgScanBounds(project, name, id.Zero)
	it, err := s.b.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return storage.QueueStats{}, wrap(err)
	}
	defer it.Close()

	var st storage.QueueStats
	for ok := it.First(); ok; ok = it.Next() {
		var doc msgDoc
		if json.Unmarshal(it.Value(), &doc) != nil {
			continue
		}
		m := doc.toMessage(id.Zero)
		if m.Dead(now) {
			continue
		}
		st.Total++
		if m.Claimed(now) {
			st.Claimed++
		} else {
			st.Free++
		}
	}
	return st, nil
}

func (s *queueStore) Projects(_ context.Context) ([]string, error) {
	start, end := keyRange(string(projectsPrefix))
	it, err := s.b.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, wrap(err)
	}
	defer it.Close()

	var out []string
	for ok := it.First(); ok; {
		project := projectFromKey(it.Key())
		if project == "" {
			ok = it.Next()
			continue
		}
		out = append(out, project)
		// skip the rest of this project's keys
		ok = it.SeekGE(append([]byte("proj/"+project), '/'+1))
	}
	return out, nil
}

type messageStore struct{ b *Backend }

func (s *messageStore) Insert(_ context.Context, project, queue string, drafts []storage.Draft, now time.Time) ([]storage.InsertResult, error) {
	mu := s.b.lock(project, queue)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.b.db.Get(metaKey(project, queue)); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, &storage.QueueDoesNotExistError{Project: project, Queue: queue}
		}
		return nil, wrap(err)
	}

	batch := s.b.db.NewBatch()
	defer batch.Close()

	out := make([]storage.InsertResult, len(drafts))
	seen := make(map[string]bool, len(drafts)) // fingerprints written in this batch
	for i, d := range drafts {
		fp := storage.Fingerprint(d.ClientID, d.Body)
		if seen[fp] {
			out[i] = storage.InsertResult{Conflict: true}
			continue
		}
		if live, err := s.fingerprintLive(project, queue, fp, now); err != nil {
			return nil, err
		} else if live {
			out[i] = storage.InsertResult{Conflict: true}
			continue
		}

		mid := s.b.gen.Next()
		doc := msgDoc{
			ClientID:    d.ClientID,
			Body:        d.Body,
			TTLMs:       d.TTL.Milliseconds(),
			CreatedAtMs: now.UnixMilli(),
			ExpiresAtMs: now.Add(d.TTL).UnixMilli(),
			Fingerprint: fp,
		}
		val, err := json.Marshal(&doc)
		if err != nil {
			return nil, err
		}
		if err := batch.Set(msgKey(project, queue, mid), val, nil); err != nil {
			return nil, wrap(err)
		}
		if err := batch.Set(fpKey(project, queue, fp), mid.Bytes(), nil); err != nil {
			return nil, wrap(err)
		}
		seen[fp] = true
		out[i] = storage.InsertResult{ID: mid}
	}

	if err := s.b.db.CommitBatch(batch); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// fingerprintLive reports whether the fingerprint index points at a live
// message. Stale entries (deleted or end-of-life targets) do not block.
func (s *messageStore) fingerprintLive(project, queue, fp string, now time.Time) (bool, error) {
	prev, err := s.b.db.Get(fpKey(project, queue, fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	mid, err := id.FromBytes(prev)
	if err != nil {
		return false, nil
	}
	val, err := s.b.db.Get(msgKey(project, queue, mid))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	var doc msgDoc
	if json.Unmarshal(val, &doc) != nil {
		return false, nil
	}
	m := doc.toMessage(mid)
	return !m.Dead(now), nil
}

func (s *messageStore) Scan(_ context.Context, project, queue string, opts storage.ScanOptions) ([]storage.Message, error) {
	start, end := msgScanBounds(project, queue, opts.Marker)
	it, err := s.b.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, wrap(err)
	}
	defer it.Close()

	var out []storage.Message
	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()
		mid, err := id.FromBytes(key[len(key)-16:])
		if err != nil {
			continue
		}
		var doc msgDoc
		if json.Unmarshal(it.Value(), &doc) != nil {
			continue
		}
		m := doc.toMessage(mid)
		if !opts.IncludeDead && m.Dead(opts.Now) {
			continue
		}
		if !opts.IncludeClaimed && m.Claimed(opts.Now) {
			continue
		}
		if !opts.Echo && opts.ClientID != "" && m.ClientID == opts.ClientID {
			continue
		}
		m.Body = append([]byte(nil), m.Body...)
		out = append(out, m)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *messageStore) Get(_ context.Context, project, queue string, mid id.ID, now time.Time) (storage.Message, error) {
	val, err := s.b.db.Get(msgKey(project, queue, mid))
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	if err != nil {
		return storage.Message{}, wrap(err)
	}
	var doc msgDoc
	if err := json.Unmarshal(val, &doc); err != nil {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	m := doc.toMessage(mid)
	if m.Dead(now) {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	return m, nil
}

func (s *messageStore) Delete(_ context.Context, project, queue string, ids []id.ID) error {
	mu := s.b.lock(project, queue)
	mu.Lock()
	defer mu.Unlock()

	batch := s.b.db.NewBatch()
	defer batch.Close()

	for _, mid := range ids {
		val, err := s.b.db.Get(msgKey(project, queue, mid))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return wrap(err)
		}
		var doc msgDoc
		if json.Unmarshal(val, &doc) == nil && doc.Fingerprint != "" {
			// drop the identity index entry only if it still points here
			if prev, err := s.b.db.Get(fpKey(project, queue, doc.Fingerprint)); err == nil {
				if cur, err := id.FromBytes(prev); err == nil && cur == mid {
					if err := batch.Delete(fpKey(project, queue, doc.Fingerprint), nil); err != nil {
						return wrap(err)
					}
				}
			}
		}
		if err := batch.Delete(msgKey(project, queue, mid), nil); err != nil {
			return wrap(err)
		}
	}
	return wrap(s.b.db.CommitBatch(batch))
}

func (s *messageStore) SetClaim(_ context.Context, project, queue string, mid id.ID, expect string, upd storage.ClaimUpdate, now time.Time) (bool, error) {
	mu := s.b.lock(project, queue)
	mu.Lock()
	defer mu.Unlock()

	key := msgKey(project, queue, mid)
	val, err := s.b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	var doc msgDoc
	if err := json.Unmarshal(val, &doc); err != nil {
		return false, nil
	}
	m := doc.toMessage(mid)
	if m.Dead(now) {
		return false, nil
	}
	if expect == "" {
		if m.Claimed(now) {
			return false, nil
		}
	} else if m.ClaimID != expect {
		return false, nil
	}

	doc.ClaimID = upd.ClaimID
	if upd.ClaimID == "" {
		doc.ClaimExpiresMs = 0
	} else {
		doc.ClaimExpiresMs = upd.ClaimExpires.UnixMilli()
	}
	if !upd.ExpiresAt.IsZero() && upd.ExpiresAt.UnixMilli() > doc.ExpiresAtMs {
		doc.ExpiresAtMs = upd.ExpiresAt.UnixMilli()
	}
	out, err := json.Marshal(&doc)
	if err != nil {
		return false, err
	}
	if err := s.b.db.Set(key, out); err != nil {
		return false, wrap(err)
	}
	return true, nil
}

type claimStore struct{ b *Backend }

func (s *claimStore) Put(_ context.Context, project, queue string, rec storage.ClaimRecord) error {
	doc := claimDoc{
		TTLMs:       rec.TTL.Milliseconds(),
		GraceMs:     rec.Grace.Milliseconds(),
		CreatedAtMs: rec.CreatedAt.UnixMilli(),
		ExpiresMs:   rec.Expires.UnixMilli(),
		MessageIDs:  make([]string, 0, len(rec.MessageIDs)),
	}
	for _, mid := range rec.MessageIDs {
		doc.MessageIDs = append(doc.MessageIDs, mid.String())
	}
	val, err := json.Marshal(&doc)
	if err != nil {
		return err
	}
	return wrap(s.b.db.Set(claimKey(project, queue, rec.ID), val))
}

func (s *claimStore) Get(_ context.Context, project, queue, claimID string) (storage.ClaimRecord, error) {
	val, err := s.b.db.Get(claimKey(project, queue, claimID))
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.ClaimRecord{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queue, ID: claimID}
	}
	if err != nil {
		return storage.ClaimRecord{}, wrap(err)
	}
	rec, err := decodeClaim(claimID, val)
	if err != nil {
		return storage.ClaimRecord{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queue, ID: claimID}
	}
	return rec, nil
}

func (s *claimStore) Delete(_ context.Context, project, queue, claimID string) error {
	return wrap(s.b.db.Delete(claimKey(project, queue, claimID)))
}

func (s *claimStore) List(_ context.Context, project, queue string) ([]storage.ClaimRecord, error) {
	prefix := queuePrefix(project, queue) + prefixClaim
	start, end := keyRange(prefix)
	it, err := s.b.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, wrap(err)
	}
	defer it.Close()

	var out []storage.ClaimRecord
	for ok := it.First(); ok; ok = it.Next() {
		claimID := string(it.Key()[len(prefix):])
		rec, err := decodeClaim(claimID, it.Value())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeClaim(claimID string, val []byte) (storage.ClaimRecord, error) {
	var doc claimDoc
	if err := json.Unmarshal(val, &doc); err != nil {
		return storage.ClaimRecord{}, err
	}
	rec := storage.ClaimRecord{
		ID:        claimID,
		TTL:       time.Duration(doc.TTLMs) * time.Millisecond,
		Grace:     time.Duration(doc.GraceMs) * time.Millisecond,
		CreatedAt: time.UnixMilli(doc.CreatedAtMs),
		Expires:   time.UnixMilli(doc.ExpiresMs),
	}
	for _, s := range doc.MessageIDs {
		mid, err := id.Parse(s)
		if err != nil {
			continue
		}
		rec.MessageIDs = append(rec.MessageIDs, mid)
	}
	return rec, nil
}

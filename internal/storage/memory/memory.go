// Package memory implements the storage contract in process memory. It is
// the reference backend: engine tests run against it, and it doubles as the
// dev driver. A single mutex guards all state, which makes every operation,
// including the conditional claim write, trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
)

// Ensure *Backend implements the contract at compile time.
var _ storage.Backend = (*Backend)(nil)

// Backend holds all projects, queues, messages, and claims in memory.
type Backend struct {
	mu       sync.Mutex
	gen      *id.Generator
	projects map[string]map[string]*queueState
}

type msgRow struct {
	m  storage.Message
	fp string
}

type queueState struct {
	metadata     []byte
	messages     map[id.ID]*msgRow
	order        []id.ID // insertion order; ids are monotonic so this stays sorted
	fingerprints map[string]id.ID
	claims       map[string]storage.ClaimRecord
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		gen:      id.NewGenerator(),
		projects: make(map[string]map[string]*queueState),
	}
}

// Queues implements storage.Backend.
func (b *Backend) Queues() storage.QueueStore { return (*queueStore)(b) }

// Messages implements storage.Backend.
func (b *Backend) Messages() storage.MessageStore { return (*messageStore)(b) }

// Claims implements storage.Backend.
func (b *Backend) Claims() storage.ClaimStore { return (*claimStore)(b) }

// Health implements storage.Backend.
func (b *Backend) Health(context.Context) error { return nil }

// Close implements storage.Backend.
func (b *Backend) Close() error { return nil }

func (b *Backend) queue(project, name string) *queueState {
	qs, ok := b.projects[project]
	if !ok {
		return nil
	}
	return qs[name]
}

type queueStore Backend

func (s *queueStore) Upsert(_ context.Context, project, name string, metadata []byte) (bool, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	qs, ok := b.projects[project]
	if !ok {
		qs = make(map[string]*queueState)
		b.projects[project] = qs
	}
	if q, ok := qs[name]; ok {
		q.metadata = append([]byte(nil), metadata...)
		return false, nil
	}
	qs[name] = &queueState{
		metadata:     append([]byte(nil), metadata...),
		messages:     make(map[id.ID]*msgRow),
		fingerprints: make(map[string]id.ID),
		claims:       make(map[string]storage.ClaimRecord),
	}
	return true, nil
}

func (s *queueStore) Exists(_ context.Context, project, name string) (bool, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(project, name) != nil, nil
}

func (s *queueStore) Metadata(_ context.Context, project, name string) ([]byte, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(project, name)
	if q == nil {
		return nil, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}
	return append([]byte(nil), q.metadata...), nil
}

func (s *queueStore) Delete(_ context.Context, project, name string) error {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()
	if qs, ok := b.projects[project]; ok {
		delete(qs, name)
	}
	return nil
}

func (s *queueStore) List(_ context.Context, project, marker string, limit int) ([]storage.QueueEntry, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	qs := b.projects[project]
	names := make([]string, 0, len(qs))
	for name := range qs {
		if name > marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	out := make([]storage.QueueEntry, 0, len(names))
	for _, name := range names {
		out = append(out, storage.QueueEntry{
			Name:     name,
			Metadata: append([]byte(nil), qs[name].metadata...),
		})
	}
	return out, nil
}

func (s *queueStore) Stats(_ context.Context, project, name string, now time.Time) (storage.QueueStats, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, name)
	if q == nil {
		return storage.QueueStats{}, &storage.QueueDoesNotExistError{Project: project, Queue: name}
	}
	var st storage.QueueStats
	for _, row := range q.messages {
		if row.m.Dead(now) {
			continue
		}
		st.Total++
		if row.m.Claimed(now) {
			st.Claimed++
		} else {
			st.Free++
		}
	}
	return st, nil
}

func (s *queueStore) Projects(_ context.Context) ([]string, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.projects))
	for project, qs := range b.projects {
		if len(qs) > 0 {
			out = append(out, project)
		}
	}
	sort.Strings(out)
	return out, nil
}

type messageStore Backend

func (s *messageStore) Insert(_ context.Context, project, queue string, drafts []storage.Draft, now time.Time) ([]storage.InsertResult, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil, &storage.QueueDoesNotExistError{Project: project, Queue: queue}
	}

	out := make([]storage.InsertResult, len(drafts))
	for i, d := range drafts {
		fp := storage.Fingerprint(d.ClientID, d.Body)
		if prev, ok := q.fingerprints[fp]; ok {
			if row, live := q.messages[prev]; live && !row.m.Dead(now) {
				out[i] = storage.InsertResult{Conflict: true}
				continue
			}
			// stale mapping from a deleted or end-of-life message
		}
		mid := b.gen.Next()
		q.messages[mid] = &msgRow{
			m: storage.Message{
				ID:        mid,
				ClientID:  d.ClientID,
				Body:      append([]byte(nil), d.Body...),
				TTL:       d.TTL,
				CreatedAt: now,
				ExpiresAt: now.Add(d.TTL),
			},
			fp: fp,
		}
		q.order = append(q.order, mid)
		q.fingerprints[fp] = mid
		out[i] = storage.InsertResult{ID: mid}
	}
	return out, nil
}

func (s *messageStore) Scan(_ context.Context, project, queue string, opts storage.ScanOptions) ([]storage.Message, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil, nil
	}

	// order is sorted, so resume strictly after the marker
	start := sort.Search(len(q.order), func(i int) bool {
		return opts.Marker.Less(q.order[i])
	})

	var out []storage.Message
	for _, mid := range q.order[start:] {
		row, ok := q.messages[mid]
		if !ok {
			continue // deleted, order entry is stale
		}
		if !opts.IncludeDead && row.m.Dead(opts.Now) {
			continue
		}
		if !opts.IncludeClaimed && row.m.Claimed(opts.Now) {
			continue
		}
		if !opts.Echo && opts.ClientID != "" && row.m.ClientID == opts.ClientID {
			continue
		}
		out = append(out, copyMessage(&row.m))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *messageStore) Get(_ context.Context, project, queue string, mid id.ID, now time.Time) (storage.Message, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	row, ok := q.messages[mid]
	if !ok || row.m.Dead(now) {
		return storage.Message{}, &storage.MessageDoesNotExistError{Project: project, Queue: queue, ID: mid.String()}
	}
	return copyMessage(&row.m), nil
}

func (s *messageStore) Delete(_ context.Context, project, queue string, ids []id.ID) error {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil
	}
	for _, mid := range ids {
		row, ok := q.messages[mid]
		if !ok {
			continue
		}
		if q.fingerprints[row.fp] == mid {
			delete(q.fingerprints, row.fp)
		}
		delete(q.messages, mid)
	}
	q.compact()
	return nil
}

func (s *messageStore) SetClaim(_ context.Context, project, queue string, mid id.ID, expect string, upd storage.ClaimUpdate, now time.Time) (bool, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return false, nil
	}
	row, ok := q.messages[mid]
	if !ok || row.m.Dead(now) {
		return false, nil
	}
	if expect == "" {
		if row.m.Claimed(now) {
			return false, nil
		}
	} else if row.m.ClaimID != expect {
		return false, nil
	}

	row.m.ClaimID = upd.ClaimID
	if upd.ClaimID == "" {
		row.m.ClaimExpires = time.Time{}
	} else {
		row.m.ClaimExpires = upd.ClaimExpires
	}
	if !upd.ExpiresAt.IsZero() && upd.ExpiresAt.After(row.m.ExpiresAt) {
		row.m.ExpiresAt = upd.ExpiresAt
	}
	return true, nil
}

type claimStore Backend

func (s *claimStore) Put(_ context.Context, project, queue string, rec storage.ClaimRecord) error {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return &storage.QueueDoesNotExistError{Project: project, Queue: queue}
	}
	rec.MessageIDs = append([]id.ID(nil), rec.MessageIDs...)
	q.claims[rec.ID] = rec
	return nil
}

func (s *claimStore) Get(_ context.Context, project, queue, claimID string) (storage.ClaimRecord, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return storage.ClaimRecord{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queue, ID: claimID}
	}
	rec, ok := q.claims[claimID]
	if !ok {
		return storage.ClaimRecord{}, &storage.ClaimDoesNotExistError{Project: project, Queue: queue, ID: claimID}
	}
	rec.MessageIDs = append([]id.ID(nil), rec.MessageIDs...)
	return rec, nil
}

func (s *claimStore) Delete(_ context.Context, project, queue, claimID string) error {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	if q := b.queue(project, queue); q != nil {
		delete(q.claims, claimID)
	}
	return nil
}

func (s *claimStore) List(_ context.Context, project, queue string) ([]storage.ClaimRecord, error) {
	b := (*Backend)(s)
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(project, queue)
	if q == nil {
		return nil, nil
	}
	out := make([]storage.ClaimRecord, 0, len(q.claims))
	for _, rec := range q.claims {
		rec.MessageIDs = append([]id.ID(nil), rec.MessageIDs...)
		out = append(out, rec)
	}
	return out, nil
}

// compact drops stale order entries once deletions outnumber live messages.
func (q *queueState) compact() {
	if len(q.order) < 2*len(q.messages) || len(q.order) < 64 {
		return
	}
	live := q.order[:0]
	for _, mid := range q.order {
		if _, ok := q.messages[mid]; ok {
			live = append(live, mid)
		}
	}
	q.order = live
}

func copyMessage(m *storage.Message) storage.Message {
	out := *m
	out.Body = append([]byte(nil), m.Body...)
	return out
}

package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ozgurakan/marconi/internal/queue"
	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/id"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := OpenBackend(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func mustCreateQueue(t *testing.T, b *Backend, project, name string) {
	t.Helper()
	if _, err := b.Queues().Upsert(context.Background(), project, name, nil); err != nil {
		t.Fatalf("upsert queue: %v", err)
	}
}

func TestQueueLifecycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	created, err := b.Queues().Upsert(ctx, "p1", "orders", []byte(`{"team":"billing"}`))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("first upsert should report created")
	}
	created, err = b.Queues().Upsert(ctx, "p1", "orders", []byte(`{"team":"ops"}`))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("second upsert should not report created")
	}

	md, err := b.Queues().Metadata(ctx, "p1", "orders")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if string(md) != `{"team":"ops"}` {
		t.Fatalf("metadata = %s", md)
	}

	ok, err := b.Queues().Exists(ctx, "p1", "orders")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	ok, err = b.Queues().Exists(ctx, "p2", "orders")
	if err != nil || ok {
		t.Fatal("queue should be scoped to its project")
	}

	if err := b.Queues().Delete(ctx, "p1", "orders"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var qnf *storage.QueueDoesNotExistError
	if _, err := b.Queues().Metadata(ctx, "p1", "orders"); !errors.As(err, &qnf) {
		t.Fatalf("metadata after delete: %v", err)
	}
	// deleting again is a no-op
	if err := b.Queues().Delete(ctx, "p1", "orders"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestQueueListPagination(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta", "gamma", "delta"} {
		mustCreateQueue(t, b, "p1", name)
	}
	mustCreateQueue(t, b, "p2", "other")

	page, err := b.Queues().List(ctx, "p1", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Name != "alpha" || page[1].Name != "beta" {
		t.Fatalf("page = %+v", page)
	}
	page, err = b.Queues().List(ctx, "p1", "beta", 10)
	if err != nil {
		t.Fatalf("list after marker: %v", err)
	}
	if len(page) != 2 || page[0].Name != "delta" || page[1].Name != "gamma" {
		t.Fatalf("second page = %+v", page)
	}
}

func TestInsertScanAndMarkers(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	drafts := []storage.Draft{
		{Body: []byte("a"), TTL: time.Hour, ClientID: "c1"},
		{Body: []byte("b"), TTL: time.Hour, ClientID: "c1"},
		{Body: []byte("c"), TTL: time.Hour, ClientID: "c1"},
	}
	res, err := b.Messages().Insert(ctx, "p1", "orders", drafts, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d results", len(res))
	}
	for i := 1; i < len(res); i++ {
		if res[i].ID.Compare(res[i-1].ID) <= 0 {
			t.Fatal("ids must be strictly increasing in draft order")
		}
	}

	got, err := b.Messages().Scan(ctx, "p1", "orders", storage.ScanOptions{Limit: 2, Echo: true, Now: now})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].ID != res[0].ID || got[1].ID != res[1].ID {
		t.Fatalf("first page ids wrong: %+v", got)
	}
	rest, err := b.Messages().Scan(ctx, "p1", "orders", storage.ScanOptions{Marker: got[1].ID, Echo: true, Now: now})
	if err != nil {
		t.Fatalf("scan from marker: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != res[2].ID {
		t.Fatalf("resume page wrong: %+v", rest)
	}
}

func TestInsertConflictOnLiveDuplicate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	first, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("dup"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("dup"), TTL: time.Hour, ClientID: "c1"},
		{Body: []byte("fresh"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if !res[0].Conflict || res[1].Conflict {
		t.Fatalf("conflict flags = %+v", res)
	}

	// once the original is deleted the fingerprint no longer blocks
	if err := b.Messages().Delete(ctx, "p1", "orders", []id.ID{first[0].ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, err = b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("dup"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if res[0].Conflict {
		t.Fatal("stale fingerprint must not block reinsertion")
	}
}

func TestSetClaimConditional(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	res, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("x"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	mid := res[0].ID

	grab := storage.ClaimUpdate{
		ClaimID:      "claim-a",
		ClaimExpires: now.Add(time.Minute),
		ExpiresAt:    now.Add(2 * time.Hour),
	}
	ok, err := b.Messages().SetClaim(ctx, "p1", "orders", mid, "", grab, now)
	if err != nil || !ok {
		t.Fatalf("initial claim = %v, %v", ok, err)
	}

	// a second claimant loses while the first claim is active
	ok, err = b.Messages().SetClaim(ctx, "p1", "orders", mid, "", storage.ClaimUpdate{
		ClaimID:      "claim-b",
		ClaimExpires: now.Add(time.Minute),
	}, now)
	if err != nil {
		t.Fatalf("contending claim: %v", err)
	}
	if ok {
		t.Fatal("claimed message must reject a fresh claim")
	}

	m, err := b.Messages().Get(ctx, "p1", "orders", mid, now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ClaimID != "claim-a" {
		t.Fatalf("claim id = %q", m.ClaimID)
	}
	if m.ExpiresAt.UnixMilli() != now.Add(2*time.Hour).UnixMilli() {
		t.Fatalf("end of life not extended: %v", m.ExpiresAt)
	}

	// the wrong holder cannot release, the right one can
	ok, err = b.Messages().SetClaim(ctx, "p1", "orders", mid, "claim-b", storage.ClaimUpdate{}, now)
	if err != nil || ok {
		t.Fatalf("foreign release = %v, %v", ok, err)
	}
	ok, err = b.Messages().SetClaim(ctx, "p1", "orders", mid, "claim-a", storage.ClaimUpdate{}, now)
	if err != nil || !ok {
		t.Fatalf("holder release = %v, %v", ok, err)
	}

	// after a claim expires the message is claimable again
	ok, err = b.Messages().SetClaim(ctx, "p1", "orders", mid, "", grab, now)
	if err != nil || !ok {
		t.Fatalf("reclaim = %v, %v", ok, err)
	}
	later := now.Add(2 * time.Minute)
	ok, err = b.Messages().SetClaim(ctx, "p1", "orders", mid, "", storage.ClaimUpdate{
		ClaimID:      "claim-c",
		ClaimExpires: later.Add(time.Minute),
	}, later)
	if err != nil || !ok {
		t.Fatalf("claim after expiry = %v, %v", ok, err)
	}
}

func TestScanFiltersDeadAndClaimed(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	res, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("short"), TTL: time.Minute, ClientID: "c1"},
		{Body: []byte("long"), TTL: time.Hour, ClientID: "c2"},
	}, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := b.Messages().SetClaim(ctx, "p1", "orders", res[1].ID, "", storage.ClaimUpdate{
		ClaimID:      "claim-a",
		ClaimExpires: now.Add(time.Hour),
	}, now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	later := now.Add(10 * time.Minute)
	got, err := b.Messages().Scan(ctx, "p1", "orders", storage.ScanOptions{Echo: true, Now: later})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expired and claimed messages leaked: %+v", got)
	}
	got, err = b.Messages().Scan(ctx, "p1", "orders", storage.ScanOptions{Echo: true, IncludeClaimed: true, Now: later})
	if err != nil {
		t.Fatalf("scan claimed: %v", err)
	}
	if len(got) != 1 || got[0].ID != res[1].ID {
		t.Fatalf("claimed scan = %+v", got)
	}

	var mnf *storage.MessageDoesNotExistError
	if _, err := b.Messages().Get(ctx, "p1", "orders", res[0].ID, later); !errors.As(err, &mnf) {
		t.Fatalf("get of expired message: %v", err)
	}

	st, err := b.Queues().Stats(ctx, "p1", "orders", now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Free != 1 || st.Claimed != 1 || st.Total != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestClaimRecords(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	gen := id.NewGenerator()
	rec := storage.ClaimRecord{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		TTL:        5 * time.Minute,
		Grace:      time.Minute,
		CreatedAt:  now,
		Expires:    now.Add(5 * time.Minute),
		MessageIDs: []id.ID{gen.Next(), gen.Next()},
	}
	if err := b.Claims().Put(ctx, "p1", "orders", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := b.Claims().Get(ctx, "p1", "orders", rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TTL != rec.TTL || got.Grace != rec.Grace || len(got.MessageIDs) != 2 {
		t.Fatalf("record = %+v", got)
	}
	if got.MessageIDs[0] != rec.MessageIDs[0] || got.MessageIDs[1] != rec.MessageIDs[1] {
		t.Fatal("held message ids did not survive the round trip")
	}

	list, err := b.Claims().List(ctx, "p1", "orders")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	if err := b.Claims().Delete(ctx, "p1", "orders", rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var cnf *storage.ClaimDoesNotExistError
	if _, err := b.Claims().Get(ctx, "p1", "orders", rec.ID); !errors.As(err, &cnf) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestProjectsEnumeration(t *testing.T) {
	b := newTestBackend(t)
	mustCreateQueue(t, b, "p1", "a")
	mustCreateQueue(t, b, "p1", "b")
	mustCreateQueue(t, b, "p2", "a")
	mustCreateQueue(t, b, "p3", "z")

	projects, err := b.Queues().Projects(context.Background())
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(projects) != 3 || projects[0] != "p1" || projects[1] != "p2" || projects[2] != "p3" {
		t.Fatalf("projects = %v", projects)
	}
}

func TestQueueDeleteCascades(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateQueue(t, b, "p1", "orders")

	if _, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("x"), TTL: time.Hour, ClientID: "c1"},
	}, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Queues().Delete(ctx, "p1", "orders"); err != nil {
		t.Fatalf("delete queue: %v", err)
	}

	// recreating the queue starts empty, the old fingerprint is gone too
	mustCreateQueue(t, b, "p1", "orders")
	got, err := b.Messages().Scan(ctx, "p1", "orders", storage.ScanOptions{Echo: true, Now: now})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("messages survived queue deletion: %+v", got)
	}
	res, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("x"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil || res[0].Conflict {
		t.Fatalf("reinsert after cascade = %+v, %v", res, err)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	b, err := OpenBackend(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := b.Queues().Upsert(ctx, "p1", "orders", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res, err := b.Messages().Insert(ctx, "p1", "orders", []storage.Draft{
		{Body: []byte("durable"), TTL: time.Hour, ClientID: "c1"},
	}, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err = OpenBackend(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	m, err := b.Messages().Get(ctx, "p1", "orders", res[0].ID, now)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(m.Body) != "durable" {
		t.Fatalf("body = %q", m.Body)
	}
}

func TestHostileProjectIDCannotReachForeignPrefix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	e := queue.New(b)

	if _, err := e.CreateQueue(ctx, "p1", "foo", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// "p1/q/foo" names a tenant whose key prefix sits inside p1's range;
	// every entry point must reject it before it reaches the keyspace
	var ve *storage.ValidationError
	if _, err := e.CreateQueue(ctx, "p1/q/foo", "jobs", nil); !errors.As(err, &ve) {
		t.Fatalf("create under hostile project: %v", err)
	}
	if _, err := e.Post(ctx, "p1/q/foo", "jobs", "c1", []queue.Draft{{Body: []byte(`"x"`)}}); !errors.As(err, &ve) {
		t.Fatalf("post under hostile project: %v", err)
	}
	if err := e.DeleteQueue(ctx, "p1/q/foo", "jobs"); !errors.As(err, &ve) {
		t.Fatalf("delete under hostile project: %v", err)
	}
	if err := e.DeleteQueue(ctx, "p1", "foo"); err != nil {
		t.Fatalf("delete own queue: %v", err)
	}

	// only p1 ever touched the keyspace
	projects, err := b.Queues().Projects(ctx)
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	for _, p := range projects {
		if p != "p1" {
			t.Fatalf("unexpected project %q in keyspace", p)
		}
	}
}

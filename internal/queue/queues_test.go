package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ozgurakan/marconi/internal/storage"
)

func TestProjectIDValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// '/' is structural in backend key prefixes; a project id carrying it
	// could address another tenant's data
	var ve *storage.ValidationError
	for _, project := range []string{"", "p1/q/foo", "p one", "p\x00x", strings.Repeat("p", 257)} {
		if _, err := e.CreateQueue(ctx, project, "orders", nil); !errors.As(err, &ve) {
			t.Fatalf("project %q accepted: %v", project, err)
		}
		if err := e.DeleteQueue(ctx, project, "orders"); !errors.As(err, &ve) {
			t.Fatalf("delete with project %q accepted: %v", project, err)
		}
	}
	for _, project := range []string{"p1", "0123456789abcdef", "team.billing-prod_2", strings.Repeat("p", 256)} {
		if _, err := e.CreateQueue(ctx, project, "orders", nil); err != nil {
			t.Fatalf("project %q rejected: %v", project, err)
		}
	}
}

func TestCreateQueueIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateQueue(ctx, "p1", "orders", nil)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}
	created, err = e.CreateQueue(ctx, "p1", "orders", nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("second create must not report created")
	}
}

func TestQueueNameValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"", "has space", "slash/y", "x@y", string(make([]byte, 65))} {
		var ve *storage.ValidationError
		if _, err := e.CreateQueue(ctx, "p1", name, nil); !errors.As(err, &ve) {
			t.Fatalf("name %q: expected validation error, got %v", name, err)
		}
	}
	if _, err := e.CreateQueue(ctx, "p1", "Ok_name-42", nil); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}

func TestQueueMetadata(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustQueue(t, e, "p1", "orders")

	if err := e.SetQueueMetadata(ctx, "p1", "orders", []byte(`{"ttl_hint":300}`)); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	md, err := e.QueueMetadata(ctx, "p1", "orders")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if string(md) != `{"ttl_hint":300}` {
		t.Fatalf("metadata = %s", md)
	}

	var ve *storage.ValidationError
	if err := e.SetQueueMetadata(ctx, "p1", "orders", []byte(`[1,2]`)); !errors.As(err, &ve) {
		t.Fatalf("non-object metadata: %v", err)
	}
	var qnf *storage.QueueDoesNotExistError
	if err := e.SetQueueMetadata(ctx, "p1", "absent", []byte(`{}`)); !errors.As(err, &qnf) {
		t.Fatalf("metadata on absent queue: %v", err)
	}

	// recreate without metadata preserves it; with metadata overwrites it
	if _, err := e.CreateQueue(ctx, "p1", "orders", nil); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if md, _ := e.QueueMetadata(ctx, "p1", "orders"); string(md) != `{"ttl_hint":300}` {
		t.Fatalf("metadata after recreate = %s", md)
	}
	if _, err := e.CreateQueue(ctx, "p1", "orders", []byte(`{"ttl_hint":600}`)); err != nil {
		t.Fatalf("recreate with metadata: %v", err)
	}
	if md, _ := e.QueueMetadata(ctx, "p1", "orders"); string(md) != `{"ttl_hint":600}` {
		t.Fatalf("metadata after overwrite = %s", md)
	}
}

func TestListQueuesPagination(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		mustQueue(t, e, "p1", name)
	}
	mustQueue(t, e, "p2", "other")

	page, marker, err := e.ListQueues(ctx, "p1", "", 2, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Name != "a" || page[1].Name != "b" || marker != "b" {
		t.Fatalf("page = %+v marker = %q", page, marker)
	}
	page, _, err = e.ListQueues(ctx, "p1", marker, 10, false)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page) != 1 || page[0].Name != "c" {
		t.Fatalf("second page = %+v", page)
	}
}

func TestQueueStats(t *testing.T) {
	e, c := newTestEngine(t)
	ctx := context.Background()
	mustQueue(t, e, "p1", "orders")
	mustPost(t, e, "p1", "orders", "c1", "a", "b", "c")

	if _, err := e.CreateClaim(ctx, "p1", "orders", ClaimOptions{
		TTL: 5 * time.Minute, Grace: time.Minute, Limit: 2,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	st, err := e.QueueStats(ctx, "p1", "orders")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Free != 1 || st.Claimed != 2 || st.Total != 3 {
		t.Fatalf("stats = %+v", st)
	}

	// the claim lapsing moves messages back to free
	c.advance(10 * time.Minute)
	st, err = e.QueueStats(ctx, "p1", "orders")
	if err != nil {
		t.Fatalf("stats after expiry: %v", err)
	}
	if st.Free != 3 || st.Claimed != 0 {
		t.Fatalf("stats after expiry = %+v", st)
	}

	var qnf *storage.QueueDoesNotExistError
	if _, err := e.QueueStats(ctx, "p1", "absent"); !errors.As(err, &qnf) {
		t.Fatalf("stats on absent queue: %v", err)
	}
}

func TestDeleteQueueCascades(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustQueue(t, e, "p1", "orders")
	ids := mustPost(t, e, "p1", "orders", "c1", "a")

	if err := e.DeleteQueue(ctx, "p1", "orders"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// deleting again is still fine
	if err := e.DeleteQueue(ctx, "p1", "orders"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	mustQueue(t, e, "p1", "orders")
	var mnf *storage.MessageDoesNotExistError
	if _, err := e.Get(ctx, "p1", "orders", ids[0]); !errors.As(err, &mnf) {
		t.Fatalf("message survived queue deletion: %v", err)
	}
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ozgurakan/marconi/internal/storage/memory"
)

// clock is a settable time source for driving expiry in tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := New(memory.New(), WithClock(c.now))
	return e, c
}

func mustQueue(t *testing.T, e *Engine, project, name string) {
	t.Helper()
	if _, err := e.CreateQueue(context.Background(), project, name, nil); err != nil {
		t.Fatalf("create queue: %v", err)
	}
}

func mustPost(t *testing.T, e *Engine, project, queue, client string, bodies ...string) []string {
	t.Helper()
	drafts := make([]Draft, 0, len(bodies))
	for _, b := range bodies {
		drafts = append(drafts, Draft{Body: []byte(b)})
	}
	ids, err := e.Post(context.Background(), project, queue, client, drafts)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return ids
}

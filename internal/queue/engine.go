package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ozgurakan/marconi/internal/storage"
	"github.com/ozgurakan/marconi/pkg/log"
)

// Engine implements the queue, message and claim lifecycle on top of a
// storage backend. It owns all validation, ttl defaulting and the claim
// algorithm; backends only provide the conditional claim write.
type Engine struct {
	backend storage.Backend
	limits  Limits
	logger  log.Logger
	now     func() time.Time

	mu      sync.Mutex
	entropy *rand.Rand
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLimits overrides the default API bounds. Zero fields keep their
// defaults.
func WithLimits(l Limits) EngineOption {
	return func(e *Engine) { e.limits = l }
}

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l.With(log.Component("engine")) }
}

// WithClock injects the time source. Tests use this to drive claim and
// message expiry deterministically.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given backend.
func New(backend storage.Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		backend: backend,
		limits:  DefaultLimits(),
		logger:  log.NewNopLogger(),
		now:     time.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limits.fillDefaults()
	return e
}

// Limits returns the engine's effective bounds.
func (e *Engine) Limits() Limits { return e.limits }

// newClaimID mints a ULID. Claim ids are opaque to clients; ULIDs keep them
// unguessable enough that a stale holder cannot collide with a fresh claim.
func (e *Engine) newClaimID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String()
}

// Message is a queued message as seen through the API.
type Message struct {
	ID   string
	TTL  time.Duration
	Age  time.Duration
	Body []byte
	// ClaimID is set only on listings that include claimed messages.
	ClaimID string
}

// Claim is a claim as seen through the API.
type Claim struct {
	ID       string
	TTL      time.Duration
	Grace    time.Duration
	Age      time.Duration
	Messages []Message
}

func (e *Engine) toMessage(m storage.Message, now time.Time) Message {
	out := Message{
		ID:   m.ID.String(),
		TTL:  m.TTL,
		Age:  now.Sub(m.CreatedAt),
		Body: m.Body,
	}
	if m.Claimed(now) {
		out.ClaimID = m.ClaimID
	}
	return out
}

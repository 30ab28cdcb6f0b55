package queue

import (
	"regexp"
	"time"

	"github.com/ozgurakan/marconi/internal/storage"
)

// Limits bounds every client-supplied knob. Zero fields are filled from
// DefaultLimits by the engine constructor.
type Limits struct {
	// Message TTL bounds. DefaultMessageTTL applies when a post omits ttl.
	MinMessageTTL     time.Duration
	MaxMessageTTL     time.Duration
	DefaultMessageTTL time.Duration

	// Claim TTL and grace share one range.
	MinClaimTTL time.Duration
	MaxClaimTTL time.Duration

	// MaxMessagesPerPost caps one POST batch.
	MaxMessagesPerPost int

	// MaxMessageSize caps one message body in bytes.
	MaxMessageSize int

	// Claim batch size.
	MaxMessagesPerClaim     int
	DefaultMessagesPerClaim int

	// Listing page size.
	MaxPageSize     int
	DefaultPageSize int

	// MaxQueueMetadata caps a queue metadata document in bytes.
	MaxQueueMetadata int
}

// DefaultLimits mirrors the service's v1 API contract.
func DefaultLimits() Limits {
	return Limits{
		MinMessageTTL:           60 * time.Second,
		MaxMessageTTL:           1209600 * time.Second,
		DefaultMessageTTL:       3600 * time.Second,
		MinClaimTTL:             60 * time.Second,
		MaxClaimTTL:             43200 * time.Second,
		MaxMessagesPerPost:      50,
		MaxMessageSize:          256 * 1024,
		MaxMessagesPerClaim:     20,
		DefaultMessagesPerClaim: 10,
		MaxPageSize:             20,
		DefaultPageSize:         10,
		MaxQueueMetadata:        64 * 1024,
	}
}

func (l *Limits) fillDefaults() {
	d := DefaultLimits()
	if l.MinMessageTTL == 0 {
		l.MinMessageTTL = d.MinMessageTTL
	}
	if l.MaxMessageTTL == 0 {
		l.MaxMessageTTL = d.MaxMessageTTL
	}
	if l.DefaultMessageTTL == 0 {
		l.DefaultMessageTTL = d.DefaultMessageTTL
	}
	if l.MinClaimTTL == 0 {
		l.MinClaimTTL = d.MinClaimTTL
	}
	if l.MaxClaimTTL == 0 {
		l.MaxClaimTTL = d.MaxClaimTTL
	}
	if l.MaxMessagesPerPost == 0 {
		l.MaxMessagesPerPost = d.MaxMessagesPerPost
	}
	if l.MaxMessageSize == 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	if l.MaxMessagesPerClaim == 0 {
		l.MaxMessagesPerClaim = d.MaxMessagesPerClaim
	}
	if l.DefaultMessagesPerClaim == 0 {
		l.DefaultMessagesPerClaim = d.DefaultMessagesPerClaim
	}
	if l.MaxPageSize == 0 {
		l.MaxPageSize = d.MaxPageSize
	}
	if l.DefaultPageSize == 0 {
		l.DefaultPageSize = d.DefaultPageSize
	}
	if l.MaxQueueMetadata == 0 {
		l.MaxQueueMetadata = d.MaxQueueMetadata
	}
}

var queueNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func validateQueueName(name string) error {
	if !queueNameRe.MatchString(name) {
		return storage.Validationf("queue name %q must match %s", name, queueNameRe)
	}
	return nil
}

// projectRe bounds the tenant id charset. Backends embed the project id in
// key prefixes and SQL rows, so characters with structural meaning in the
// pebble keyspace ('/' in particular) must never reach them: a project id
// like "p1/q/foo" would alias another tenant's key range.
var projectRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,256}$`)

func validateProject(project string) error {
	if !projectRe.MatchString(project) {
		return storage.Validationf("project id %q must match %s", project, projectRe)
	}
	return nil
}

func (l *Limits) messageTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return l.DefaultMessageTTL, nil
	}
	if ttl < l.MinMessageTTL || ttl > l.MaxMessageTTL {
		return 0, storage.Validationf("message ttl %s out of range [%s, %s]",
			ttl, l.MinMessageTTL, l.MaxMessageTTL)
	}
	return ttl, nil
}

func (l *Limits) claimTTL(ttl time.Duration) error {
	if ttl < l.MinClaimTTL || ttl > l.MaxClaimTTL {
		return storage.Validationf("claim ttl %s out of range [%s, %s]",
			ttl, l.MinClaimTTL, l.MaxClaimTTL)
	}
	return nil
}

func (l *Limits) claimGrace(grace time.Duration) error {
	if grace < l.MinClaimTTL || grace > l.MaxClaimTTL {
		return storage.Validationf("claim grace %s out of range [%s, %s]",
			grace, l.MinClaimTTL, l.MaxClaimTTL)
	}
	return nil
}

func (l *Limits) claimLimit(n int) (int, error) {
	if n == 0 {
		return l.DefaultMessagesPerClaim, nil
	}
	if n < 1 || n > l.MaxMessagesPerClaim {
		return 0, storage.Validationf("claim limit %d out of range [1, %d]", n, l.MaxMessagesPerClaim)
	}
	return n, nil
}

func (l *Limits) pageSize(n int) (int, error) {
	if n == 0 {
		return l.DefaultPageSize, nil
	}
	if n < 1 || n > l.MaxPageSize {
		return 0, storage.Validationf("page size %d out of range [1, %d]", n, l.MaxPageSize)
	}
	return n, nil
}

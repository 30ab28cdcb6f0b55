package config

import "github.com/ozgurakan/marconi/internal/queue"

// LimitsConfig mirrors the engine's API bounds in config form. Zero fields
// keep the engine defaults.
type LimitsConfig struct {
	MinMessageTTL     Duration `yaml:"min_message_ttl"`
	MaxMessageTTL     Duration `yaml:"max_message_ttl"`
	DefaultMessageTTL Duration `yaml:"default_message_ttl"`

	MinClaimTTL Duration `yaml:"min_claim_ttl"`
	MaxClaimTTL Duration `yaml:"max_claim_ttl"`

	MaxMessagesPerPost int `yaml:"max_messages_per_post"`
	MaxMessageSize     int `yaml:"max_message_size"`

	MaxMessagesPerClaim     int `yaml:"max_messages_per_claim"`
	DefaultMessagesPerClaim int `yaml:"default_messages_per_claim"`

	MaxPageSize     int `yaml:"max_page_size"`
	DefaultPageSize int `yaml:"default_page_size"`

	MaxQueueMetadata int `yaml:"max_queue_metadata"`
}

// ToLimits converts to the engine's limit set.
func (l LimitsConfig) ToLimits() queue.Limits {
	return queue.Limits{
		MinMessageTTL:           l.MinMessageTTL.Std(),
		MaxMessageTTL:           l.MaxMessageTTL.Std(),
		DefaultMessageTTL:       l.DefaultMessageTTL.Std(),
		MinClaimTTL:             l.MinClaimTTL.Std(),
		MaxClaimTTL:             l.MaxClaimTTL.Std(),
		MaxMessagesPerPost:      l.MaxMessagesPerPost,
		MaxMessageSize:          l.MaxMessageSize,
		MaxMessagesPerClaim:     l.MaxMessagesPerClaim,
		DefaultMessagesPerClaim: l.DefaultMessagesPerClaim,
		MaxPageSize:             l.MaxPageSize,
		DefaultPageSize:         l.DefaultPageSize,
		MaxQueueMetadata:        l.MaxQueueMetadata,
	}
}

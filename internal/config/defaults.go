package config

// Default buffer sizes for the message bus queues wired in cmd/profile
// (credits, records, metrics). Session-lifetime constants from the
// teacher's original defaults.go (DefaultSessionTTLMs,
// DefaultSessionIdleMs, MinSessionTimeoutMs) are dropped: this module
// has no multi-request "session" concept with its own TTL, only
// conversations tracked for the lifetime of one credit (see
// DESIGN.md's Structural decision note).
const (
	DefaultEventBufferSize   = 10000
	DefaultChannelBufferSize = 10000
)

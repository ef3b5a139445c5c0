package notify

import "time"

const (
	DefaultBaseDelay   = 3000 * time.Millisecond
	DefaultMaxAttempts = 5
)

// Policy decides reconnect timing. The backoff is linear: the n-th
// consecutive failure waits n*BaseDelay.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempts)
}

func (p Policy) ShouldGiveUp(attempts int) bool {
	return attempts >= p.MaxAttempts
}

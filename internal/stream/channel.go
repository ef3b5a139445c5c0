package stream

import "context"

// State of one channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks receive everything a channel reports. For one session they are
// called sequentially from a single goroutine, in transport order, and never
// from inside Open.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
}

// Channel is one subscription to a server event stream.
//
// Open never fails directly: every failure of a session, including a clean
// end of stream, is reported through exactly one OnError. Open is a no-op
// while the channel is connecting or open. Close is idempotent and silences
// the current session.
type Channel interface {
	Open(ctx context.Context, url string)
	Close()
	State() State
}

// Dialer creates a channel bound to cb.
type Dialer func(cb Callbacks) Channel

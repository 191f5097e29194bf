package broadcast

import "context"

// State is a connection's liveness as seen by the server.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Connection is one subscriber socket. Send must not block: it queues the
// message or fails. Receive is only called from the goroutine that owns the
// connection. Close is idempotent and safe from any goroutine.
type Connection interface {
	ID() string
	Send(msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(code int, reason string) error
	Done() <-chan struct{}
	State() State
}

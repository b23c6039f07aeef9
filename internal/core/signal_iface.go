package core

// Frame is a raw outbound payload, already encoded for the wire.
type Frame []byte

// SessionID identifies one transport connection for its whole lifetime.
type SessionID string

// SignalConnection abstracts the per-connection messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped []SessionID
}

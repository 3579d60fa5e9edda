package hub

// Connection represents a single live WebSocket connection of an
// authenticated user.
type Connection struct {
	ID     string
	UserID string

	// Send is the bounded outbound queue drained by the connection's writer.
	// The hub closes it when the connection is unregistered.
	Send chan []byte

	// rooms is guarded by the hub's mutex.
	rooms map[string]struct{}
}

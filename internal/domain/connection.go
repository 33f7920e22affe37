package domain

// Connection is a live, full-duplex client connection as seen by the
// registry and the dispatcher. Implementations are owned by the lifecycle
// manager; everyone else only holds references.
type Connection interface {
	// ID is unique per physical connection.
	ID() string
	// Identity is empty for observation-only sessions.
	Identity() Identity
	// Push enqueues an outbound frame without blocking. A non-nil error means
	// the frame will not be delivered.
	Push(payload []byte) error
	// Ready reports whether the connection is open and accepting pushes.
	Ready() bool
	// Close is idempotent.
	Close(reason string)
}

// ConnectionRegistry maps identities to their current connection.
type ConnectionRegistry interface {
	Register(id Identity, conn Connection) (previous Connection)
	Unregister(id Identity, conn Connection) bool
	Lookup(id Identity) (Connection, bool)
}

package authz

//go:generate mockgen -destination=mocks/mock_authz.go -package=mocks github.com/mattjoyce/wayguard/internal/authz Spawner,Connection

// Connection is a spawned client connection as seen by the registry.
type Connection interface {
	// ClientID is the display-unique id of the connection.
	ClientID() uint32
	// Alive reports whether the connection is still open.
	Alive() bool
	// Close forcibly disconnects the client.
	Close()
	// Unsubscribe cancels the disconnect callback given to Spawn.
	Unsubscribe()
}

// Spawner starts a command with a fresh connection. onDisconnect runs once
// when that connection closes.
type Spawner interface {
	Spawn(command string, onDisconnect func()) (Connection, error)
}

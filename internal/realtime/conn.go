package realtime

// Close codes sent to clients.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseSessionReplaced = 4001
)

// Conn is one live client connection. Send must not block: implementations
// buffer and drop (closing the connection) when the client cannot keep up.
type Conn interface {
	ID() string
	UserID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

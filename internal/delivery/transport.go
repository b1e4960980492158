package delivery

import "context"

// Transport is one accepted bidirectional connection. The coordinator owns it for the
// lifetime of a channel and is the only caller of Close.
type Transport interface {
	// Receive blocks for the next inbound unit. It must return promptly once ctx is canceled
	// or the peer goes away.
	Receive(ctx context.Context) ([]byte, error)
	// Send writes one outbound unit.
	Send(ctx context.Context, payload []byte) error
	// Close terminates the connection, telling the peer why when the transport can.
	Close(reason CloseReason) error
	// RemoteAddr identifies the peer in logs.
	RemoteAddr() string
}

// CloseReason tells the peer why its channel ended.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseUnauthorized
	CloseReplaced
	CloseLogout
	CloseStorageFailure
	CloseShutdown
	CloseInternal
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseUnauthorized:
		return "unauthorized"
	case CloseReplaced:
		return "replaced by a newer connection"
	case CloseLogout:
		return "logged out"
	case CloseStorageFailure:
		return "storage unavailable"
	case CloseShutdown:
		return "server shutting down"
	case CloseInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// Package chat implements the reference room server: the hub that keeps the
// roster and fans events out to every connection.
package chat

import "context"

// Conn carries one protocol.Event per frame between the hub and a client.
// The hub only reads; writes come from the transport's per-client pump
// draining Client.Outgoing.
type Conn interface {
	// Read blocks for the next encoded event or until ctx is done.
	// A peer hang-up surfaces as io.EOF.
	Read(ctx context.Context) ([]byte, error)

	// Write delivers one encoded event, bounded by ctx's deadline.
	Write(ctx context.Context, data []byte) error

	// Close ends the connection; a second call is a no-op.
	Close() error

	// RemoteAddr names the peer in log lines.
	RemoteAddr() string
}

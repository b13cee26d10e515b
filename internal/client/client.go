// Package client defines the event channel a room session runs on.
package client

//go:generate mockgen -destination=../mocks/transport_mock.go -package=mocks github.com/omochice/socket-room/internal/client Transport

import (
	"context"
	"errors"

	"github.com/omochice/socket-room/pkg/protocol"
)

var (
	// ErrClosed is returned when a closed transport is asked to connect.
	ErrClosed = errors.New("transport closed")
	// ErrAlreadyStarted is returned by a second call to Connect.
	ErrAlreadyStarted = errors.New("transport already started")
)

// Handler receives one event. Handlers registered on the same transport are
// never run concurrently and see events in arrival order.
type Handler func(evt protocol.Event)

// Transport owns one bidirectional event channel to a room server.
//
// Connection failures are never returned to callers: they surface as
// protocol.EventDisconnect or protocol.EventConnectError events, and
// reconnection happens behind the interface.
type Transport interface {
	// Connect starts connecting in the background and returns immediately.
	Connect(ctx context.Context) error

	// Send queues an event for delivery. It does not wait for the write and
	// drops the event, with a log line, when no connection is up.
	Send(evt protocol.Event)

	// On subscribes h to events named name, lifecycle events included.
	On(name string, h Handler)

	// Close releases the channel. No handler runs after Close returns.
	// Close must not be called from a Handler.
	Close() error
}

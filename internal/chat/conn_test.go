package chat_test

import (
	"context"
	"io"
	"sync"

	"github.com/omochice/socket-room/internal/chat"
)

// mockConn feeds frames pushed on readCh to the hub. Closing readCh ends the
// stream with io.EOF.
type mockConn struct {
	readCh     chan []byte
	remoteAddr string

	mu     sync.Mutex
	closed bool
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// Write is never reached: the hub only queues frames on Client.Outgoing.
func (m *mockConn) Write(ctx context.Context, data []byte) error {
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)

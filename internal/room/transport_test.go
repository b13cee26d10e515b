package room

import (
	"context"
	"sync"

	"github.com/omochice/socket-room/internal/client"
	"github.com/omochice/socket-room/pkg/protocol"
)

// fakeTransport delivers events synchronously, the way a single dispatch
// goroutine would, and records everything sent.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string][]client.Handler
	sent     []protocol.Event
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]client.Handler)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	return nil
}

func (f *fakeTransport) Send(evt protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, evt)
}

func (f *fakeTransport) On(name string, h client.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], h)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) emit(evt protocol.Event) {
	f.mu.Lock()
	hs := f.handlers[evt.Name]
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	for _, h := range hs {
		h(evt)
	}
}

func (f *fakeTransport) connect() {
	f.emit(protocol.Event{Name: protocol.EventConnect})
}

func (f *fakeTransport) disconnect(reason string) {
	f.emit(protocol.Event{Name: protocol.EventDisconnect, Text: reason})
}

func (f *fakeTransport) Sent() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Event(nil), f.sent...)
}

// Compile-time check that fakeTransport implements client.Transport
var _ client.Transport = (*fakeTransport)(nil)

package ws_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-room/internal/client"
	wsclient "github.com/omochice/socket-room/internal/client/ws"
	"github.com/omochice/socket-room/pkg/protocol"
)

var testOptions = wsclient.Options{
	DialTimeout:      time.Second,
	ReconnectInitial: 20 * time.Millisecond,
	ReconnectMax:     50 * time.Millisecond,
}

func newServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// writeEvent runs on server goroutines, so it reports with Errorf.
func writeEvent(t *testing.T, conn net.Conn, evt protocol.Event) {
	t.Helper()
	data, err := evt.Encode()
	if err != nil {
		t.Errorf("failed to encode %q: %v", evt.Name, err)
		return
	}
	if err := wsutil.WriteServerBinary(conn, data); err != nil {
		t.Errorf("failed to write %q: %v", evt.Name, err)
	}
}

// waitForClose blocks until the client goes away.
func waitForClose(conn net.Conn) {
	for {
		if _, err := wsutil.ReadClientBinary(conn); err != nil {
			return
		}
	}
}

func newClient(t *testing.T, address string, opts wsclient.Options) *wsclient.Client {
	t.Helper()
	c := wsclient.New(address, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func signal(ch chan protocol.Event) client.Handler {
	return func(evt protocol.Event) {
		select {
		case ch <- evt:
		default:
		}
	}
}

func receive(t *testing.T, ch <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return protocol.Event{}
	}
}

func TestClient_ConnectEmitsConnect(t *testing.T) {
	address := newServer(t, waitForClose)
	c := newClient(t, address, testOptions)

	connected := make(chan protocol.Event, 1)
	c.On(protocol.EventConnect, signal(connected))

	require.NoError(t, c.Connect(context.Background()))
	receive(t, connected)
	require.True(t, c.IsConnected())
}

func TestClient_SendDeliversEvent(t *testing.T) {
	received := make(chan []byte, 1)
	address := newServer(t, func(conn net.Conn) {
		data, err := wsutil.ReadClientBinary(conn)
		if err != nil {
			return
		}
		received <- data
		waitForClose(conn)
	})
	c := newClient(t, address, testOptions)
	c.On(protocol.EventConnect, func(protocol.Event) {
		c.Send(protocol.JoinRequest("alice"))
	})

	require.NoError(t, c.Connect(context.Background()))

	select {
	case data := <-received:
		var evt protocol.Event
		require.NoError(t, evt.Decode(data))
		require.Equal(t, protocol.EventUserJoin, evt.Name)
		require.Equal(t, "alice", evt.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for join request")
	}
}

func TestClient_DeliversEventsInOrder(t *testing.T) {
	address := newServer(t, func(conn net.Conn) {
		writeEvent(t, conn, protocol.UserJoined("alice", []string{"alice"}))
		writeEvent(t, conn, protocol.ChatBroadcast("one", "alice"))
		writeEvent(t, conn, protocol.ChatBroadcast("two", "alice"))
		writeEvent(t, conn, protocol.UserLeft("alice", nil))
		waitForClose(conn)
	})
	c := newClient(t, address, testOptions)

	var mu sync.Mutex
	var got []string
	done := make(chan protocol.Event, 1)
	record := func(evt protocol.Event) {
		mu.Lock()
		got = append(got, evt.Name+":"+evt.Text)
		mu.Unlock()
	}
	c.On(protocol.EventConnect, record)
	c.On(protocol.EventUserJoined, record)
	c.On(protocol.EventChatMessage, record)
	c.On(protocol.EventUserLeft, record)
	c.On(protocol.EventUserLeft, signal(done))

	require.NoError(t, c.Connect(context.Background()))
	receive(t, done)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"connect:",
		"user joined:",
		"chat message:one",
		"chat message:two",
		"user left:",
	}, got)
}

func TestClient_HandlersNeverOverlap(t *testing.T) {
	const total = 50
	address := newServer(t, func(conn net.Conn) {
		for i := 0; i < total; i++ {
			writeEvent(t, conn, protocol.ChatBroadcast("msg", "bob"))
		}
		waitForClose(conn)
	})
	c := newClient(t, address, testOptions)

	var running, overlaps, seen atomic.Int32
	done := make(chan protocol.Event, 1)
	handler := func(evt protocol.Event) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		if seen.Add(1) == total {
			signal(done)(evt)
		}
	}
	c.On(protocol.EventChatMessage, handler)
	c.On(protocol.EventChatMessage, handler)

	require.NoError(t, c.Connect(context.Background()))
	receive(t, done)
	require.Zero(t, overlaps.Load())
}

func TestClient_DisconnectAndReconnect(t *testing.T) {
	var connections atomic.Int32
	address := newServer(t, func(conn net.Conn) {
		if connections.Add(1) == 1 {
			return
		}
		waitForClose(conn)
	})
	c := newClient(t, address, testOptions)

	lifecycle := make(chan protocol.Event, 8)
	c.On(protocol.EventConnect, signal(lifecycle))
	c.On(protocol.EventDisconnect, signal(lifecycle))

	require.NoError(t, c.Connect(context.Background()))

	require.Equal(t, protocol.EventConnect, receive(t, lifecycle).Name)
	disconnect := receive(t, lifecycle)
	require.Equal(t, protocol.EventDisconnect, disconnect.Name)
	require.NotEmpty(t, disconnect.Text)
	require.Equal(t, protocol.EventConnect, receive(t, lifecycle).Name)
	require.EqualValues(t, 2, connections.Load())
}

func TestClient_ConnectErrorWhenUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := "ws://" + listener.Addr().String()
	require.NoError(t, listener.Close())

	opts := testOptions
	opts.ReconnectAttempts = 2
	c := newClient(t, address, opts)

	failures := make(chan protocol.Event, 4)
	c.On(protocol.EventConnectError, signal(failures))

	require.NoError(t, c.Connect(context.Background()))
	evt := receive(t, failures)
	require.Contains(t, evt.Text, "failed to connect")
	receive(t, failures)
	require.False(t, c.IsConnected())
}

func TestClient_AnswersPing(t *testing.T) {
	pong := make(chan ws.Frame, 1)
	address := newServer(t, func(conn net.Conn) {
		if err := wsutil.WriteServerMessage(conn, ws.OpPing, []byte("beat")); err != nil {
			return
		}
		f, err := ws.ReadFrame(conn)
		if err != nil {
			return
		}
		pong <- ws.UnmaskFrameInPlace(f)
		waitForClose(conn)
	})
	c := newClient(t, address, testOptions)
	require.NoError(t, c.Connect(context.Background()))

	select {
	case f := <-pong:
		require.Equal(t, ws.OpPong, f.Header.OpCode)
		require.Equal(t, "beat", string(f.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pong")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	c := wsclient.New("ws://localhost:9999", testOptions, nil)

	c.Send(protocol.ChatSend("hello"))

	require.False(t, c.IsConnected())
}

func TestClient_ConnectLifecycleErrors(t *testing.T) {
	address := newServer(t, waitForClose)
	c := newClient(t, address, testOptions)

	require.NoError(t, c.Connect(context.Background()))
	require.ErrorIs(t, c.Connect(context.Background()), client.ErrAlreadyStarted)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Connect(context.Background()), client.ErrClosed)
	require.False(t, c.IsConnected())
}

func TestClient_NoHandlersAfterClose(t *testing.T) {
	stop := make(chan struct{})
	address := newServer(t, func(conn net.Conn) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, _ := (&protocol.Event{Name: protocol.EventChatMessage, Text: "spam", Username: "bob"}).Encode()
			if err := wsutil.WriteServerBinary(conn, data); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	})
	defer close(stop)

	c := newClient(t, address, testOptions)
	var calls atomic.Int32
	first := make(chan protocol.Event, 1)
	c.On(protocol.EventChatMessage, func(evt protocol.Event) {
		calls.Add(1)
		signal(first)(evt)
	})
	require.NoError(t, c.Connect(context.Background()))
	receive(t, first)

	require.NoError(t, c.Close())
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, calls.Load())
}

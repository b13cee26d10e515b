// Package ws provides a WebSocket transport for room sessions.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/omochice/socket-room/internal/client"
	"github.com/omochice/socket-room/pkg/protocol"
)

const (
	eventBuffer  = 64
	closeTimeout = time.Second
)

var (
	errFrameTooLarge = errors.New("frame too large")
	errFragmented    = errors.New("fragmented frames are not supported")
)

// Options tunes dialing, reconnection and buffering.
type Options struct {
	DialTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ReconnectAttempts bounds consecutive failed dials; 0 retries forever.
	ReconnectAttempts int
	OutgoingBuffer    int
	MaxFrameSize      int64
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		DialTimeout:      5 * time.Second,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		OutgoingBuffer:   64,
		MaxFrameSize:     1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = d.ReconnectInitial
	}
	if o.ReconnectMax < o.ReconnectInitial {
		o.ReconnectMax = max(d.ReconnectMax, o.ReconnectInitial)
	}
	if o.OutgoingBuffer <= 0 {
		o.OutgoingBuffer = d.OutgoingBuffer
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	return o
}

// Client is a client.Transport over a single WebSocket connection that is
// redialled with exponential backoff whenever it drops.
type Client struct {
	address string
	opts    Options
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]client.Handler

	outgoing  chan []byte
	events    chan protocol.Event
	connected atomic.Bool

	lifeMu  sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ client.Transport = (*Client)(nil)

// New creates a Client for the given ws:// or wss:// address.
func New(address string, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Client{
		address:  address,
		opts:     opts,
		logger:   logger.With(slog.String("component", "transport")),
		handlers: make(map[string][]client.Handler),
		outgoing: make(chan []byte, opts.OutgoingBuffer),
		events:   make(chan protocol.Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

// Connect implements client.Transport.
func (c *Client) Connect(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.closed {
		return client.ErrClosed
	}
	if c.started {
		return client.ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.dispatchLoop()
	go c.dialLoop(ctx)
	return nil
}

// Close implements client.Transport.
func (c *Client) Close() error {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	close(c.done)
	c.lifeMu.Unlock()

	c.wg.Wait()
	c.connected.Store(false)
	return nil
}

// IsConnected reports whether a connection is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// On implements client.Transport.
func (c *Client) On(name string, h client.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], h)
}

// Send implements client.Transport.
func (c *Client) Send(evt protocol.Event) {
	if !c.connected.Load() {
		c.logger.Warn("dropping event, not connected", slog.String("event", evt.Name))
		return
	}
	data, err := evt.Encode()
	if err != nil {
		c.logger.Error("failed to encode event", slog.String("event", evt.Name), slog.Any("error", err))
		return
	}
	select {
	case c.outgoing <- data:
	default:
		c.logger.Warn("dropping event, outgoing queue full", slog.String("event", evt.Name))
	}
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.events:
			select {
			case <-c.done:
				return
			default:
			}
			c.dispatch(evt)
		}
	}
}

func (c *Client) dispatch(evt protocol.Event) {
	c.mu.RLock()
	hs := slices.Clone(c.handlers[evt.Name])
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.logger.Debug("no handler for event", slog.String("event", evt.Name))
		return
	}
	for _, h := range hs {
		h(evt)
	}
}

// emit hands evt to the dispatch goroutine, blocking while its queue is full.
func (c *Client) emit(evt protocol.Event) {
	select {
	case c.events <- evt:
	case <-c.done:
	}
}

func (c *Client) dialLoop(ctx context.Context) {
	defer c.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax

	failures := 0
	for {
		conn, src, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("connect failed",
				slog.String("address", c.address),
				slog.Int("attempt", failures),
				slog.Any("error", err))
			c.emit(protocol.Event{Name: protocol.EventConnectError, Text: err.Error()})
			if c.opts.ReconnectAttempts > 0 && failures >= c.opts.ReconnectAttempts {
				c.logger.Error("giving up reconnecting", slog.Int("attempts", failures))
				return
			}
		} else {
			failures = 0
			b.Reset()
			c.serve(ctx, conn, src)
			if ctx.Err() != nil {
				return
			}
		}

		if !sleep(ctx, b.NextBackOff()) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, io.Reader, error) {
	d := ws.Dialer{Timeout: c.opts.DialTimeout}
	conn, br, _, err := d.Dial(ctx, c.address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	// br holds bytes the server sent right behind the handshake.
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	return conn, src, nil
}

// serve runs one connection until it drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn net.Conn, src io.Reader) {
	logger := c.logger.With(slog.String("conn_id", uuid.NewString()))
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	control := make(chan ws.Frame, 4)

	c.drain()
	c.connected.Store(true)
	logger.Info("connected", slog.String("address", c.address))
	c.emit(protocol.Event{Name: protocol.EventConnect})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(connCtx, conn, control, logger)
	}()

	err := c.readLoop(connCtx, src, control, logger)
	reason := disconnectReason(ctx, err)

	c.connected.Store(false)
	cancel()
	wg.Wait()
	c.drain()

	logger.Info("disconnected", slog.String("reason", reason))
	c.emit(protocol.Event{Name: protocol.EventDisconnect, Text: reason})
}

func (c *Client) readLoop(ctx context.Context, src io.Reader, control chan<- ws.Frame, logger *slog.Logger) error {
	for {
		hdr, err := ws.ReadHeader(src)
		if err != nil {
			return err
		}
		if hdr.Length > c.opts.MaxFrameSize {
			return fmt.Errorf("%w: %d bytes", errFrameTooLarge, hdr.Length)
		}
		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(src, payload); err != nil {
			return err
		}
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpPing:
			select {
			case control <- ws.NewPongFrame(payload):
			case <-ctx.Done():
				return ctx.Err()
			}
		case ws.OpClose:
			return io.EOF
		case ws.OpBinary:
			if !hdr.Fin {
				return errFragmented
			}
			var evt protocol.Event
			if err := evt.Decode(payload); err != nil {
				logger.Warn("failed to decode event", slog.Any("error", err))
				continue
			}
			if evt.IsLifecycle() {
				logger.Warn("dropping reserved event from server", slog.String("event", evt.Name))
				continue
			}
			c.emit(evt)
		default:
			logger.Debug("ignoring frame", slog.String("opcode", fmt.Sprint(hdr.OpCode)))
		}
	}
}

// writeLoop is the only writer on conn and closes it on return.
func (c *Client) writeLoop(ctx context.Context, conn net.Conn, control <-chan ws.Frame, logger *slog.Logger) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(closeTimeout))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = writeFrame(conn, ws.NewCloseFrame(body))
			return
		case f := <-control:
			if err := writeFrame(conn, f); err != nil {
				logger.Warn("failed to write control frame", slog.Any("error", err))
				return
			}
		case data := <-c.outgoing:
			if err := writeFrame(conn, ws.NewBinaryFrame(data)); err != nil {
				logger.Warn("failed to send event", slog.Any("error", err))
				return
			}
		}
	}
}

// drain discards frames queued for a connection that is gone.
func (c *Client) drain() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}

func writeFrame(w io.Writer, f ws.Frame) error {
	return ws.WriteFrame(w, ws.MaskFrameInPlace(f))
}

func disconnectReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "transport closed"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "server closed connection"
	case err == nil:
		return "connection closed"
	default:
		return err.Error()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package ws provides the WebSocket transport of the room server.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a server side gobwas connection to chat.Conn. Reads happen on
// one goroutine; writes, including control frame replies, are serialized.
type Conn struct {
	conn       net.Conn
	remoteAddr string
	reader     *wsutil.Reader

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps an upgraded connection. Frames larger than maxFrameSize are
// rejected; zero means no limit.
func NewConn(conn net.Conn, remoteAddr string, maxFrameSize int64) *Conn {
	c := &Conn{conn: conn, remoteAddr: remoteAddr}
	c.reader = &wsutil.Reader{
		Source:       conn,
		State:        ws.StateServerSide,
		MaxFrameSize: maxFrameSize,
	}
	c.reader.OnIntermediate = c.handleControl
	return c
}

// Read implements chat.Conn.
// Reads the next binary message, answering pings on the way.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		if hdr.OpCode.IsControl() {
			if err := c.reader.OnIntermediate(hdr, c.reader); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}
		if hdr.OpCode != ws.OpBinary {
			if err := c.reader.Discard(); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}
		data, err := io.ReadAll(c.reader)
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		return data, nil
	}
}

func (c *Conn) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return io.EOF
	}
	return err
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerBinary(c.conn, data)
}

// Close implements chat.Conn.
// Sends a normal closure frame and closes the underlying connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// handleControl answers pings and echoes the peer's close frame.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		reply := code
		if reply == 0 {
			reply = ws.StatusNormalClosure
		}
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(reply, "")))
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

func (c *Conn) writeFrame(f ws.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteFrame(c.conn, f)
}

package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/socket-room/internal/chat"
)

// Path is where the server accepts WebSocket upgrades.
const Path = "/ws"

const writeTimeout = 5 * time.Second

// Options tunes per-connection limits.
type Options struct {
	OutgoingBuffer int
	MaxFrameSize   int64
}

// Server handles WebSocket connections and delegates to Hub.
type Server struct {
	address string
	hub     *chat.Hub
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// New creates a WebSocket server that uses the provided Hub.
func New(address string, hub *chat.Hub, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OutgoingBuffer <= 0 {
		opts.OutgoingBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		hub:     hub,
		opts:    opts,
		logger:  logger.With(slog.String("component", "ws_server")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWebSocket)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("WebSocket server started", slog.String("address", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server failed", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop stops accepting connections, disconnects every client and waits for
// their goroutines.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	s.cancel()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("WebSocket server shutdown", slog.Any("error", err))
		}
	}
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("failed to accept WebSocket connection", slog.Any("error", err))
		return
	}

	client := chat.NewClient(NewConn(conn, r.RemoteAddr, s.opts.MaxFrameSize), s.opts.OutgoingBuffer)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		client.Conn.Close()
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	s.hub.Register(client)
	go s.handleClient(client)
	go s.writeLoop(client)
}

func (s *Server) handleClient(client *chat.Client) {
	defer s.wg.Done()
	defer close(client.Outgoing)
	defer s.hub.Unregister(client)
	s.hub.HandleClient(s.ctx, client)
}

func (s *Server) writeLoop(client *chat.Client) {
	defer s.wg.Done()
	defer client.Conn.Close()
	for data := range client.Outgoing {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := client.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			s.logger.Warn("failed to write to WebSocket client",
				slog.String("conn_id", client.ID),
				slog.Any("error", err))
			client.Conn.Close()
			// Keep draining until the reader notices and closes the queue.
			for range client.Outgoing {
			}
			return
		}
	}
}

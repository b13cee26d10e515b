package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/socket-room/pkg/protocol"
)

// Client is one connection registered with the hub.
type Client struct {
	ID       string
	Conn     Conn
	Outgoing chan []byte

	// guarded by Hub.mu
	username string
	joined   bool
}

// NewClient wraps conn with an outgoing queue of the given size.
func NewClient(conn Conn, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Outgoing: make(chan []byte, buffer),
	}
}

// Hub keeps the connected clients and the roster of joined identities, and
// broadcasts room events to every connected client.
type Hub struct {
	clients map[*Client]bool
	roster  []string
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger.With(slog.String("component", "hub")),
	}
}

// Register makes client a broadcast target. It is not on the roster until
// it sends a join.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug("client registered", slog.String("conn_id", client.ID))
}

// Unregister removes a client from the hub. A joined client leaves the
// roster and the remaining clients are told.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	if !client.joined {
		return
	}

	if i := slices.Index(h.roster, client.username); i >= 0 {
		h.roster = slices.Delete(h.roster, i, i+1)
	}
	h.logger.Info("user left", slog.String("username", client.username), slog.String("conn_id", client.ID))
	h.broadcastLocked(protocol.UserLeft(client.username, slices.Clone(h.roster)))
}

// ClientCount counts connections, joined or not.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return n
}

// Roster returns the joined identities in join order.
func (h *Hub) Roster() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.roster)
}

// HandleClient reads events from client until its connection fails or ctx
// is done. The caller unregisters the client afterwards.
func (h *Hub) HandleClient(ctx context.Context, client *Client) {
	logger := h.logger.With(slog.String("conn_id", client.ID), slog.String("remote", client.Conn.RemoteAddr()))
	logger.Debug("client connected")

	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				logger.Debug("client disconnected")
			} else {
				logger.Warn("failed to read from client", slog.Any("error", err))
			}
			return
		}

		var evt protocol.Event
		if err := evt.Decode(data); err != nil {
			logger.Warn("failed to decode event", slog.Any("error", err))
			continue
		}
		h.Handle(client, evt)
	}
}

// Handle applies one event received from client.
func (h *Hub) Handle(client *Client, evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}

	switch evt.Name {
	case protocol.EventUserJoin:
		if client.joined || evt.Username == "" {
			h.logger.Debug("ignoring join", slog.String("conn_id", client.ID), slog.Bool("joined", client.joined))
			return
		}
		client.joined = true
		client.username = evt.Username
		h.roster = append(h.roster, evt.Username)
		h.logger.Info("user joined", slog.String("username", evt.Username), slog.String("conn_id", client.ID))
		h.broadcastLocked(protocol.UserJoined(evt.Username, slices.Clone(h.roster)))

	case protocol.EventChatMessage:
		if !client.joined || evt.Text == "" {
			h.logger.Debug("ignoring chat message", slog.String("conn_id", client.ID), slog.Bool("joined", client.joined))
			return
		}
		h.broadcastLocked(protocol.ChatBroadcast(evt.Text, client.username))

	default:
		h.logger.Debug("ignoring event", slog.String("event", evt.Name), slog.String("conn_id", client.ID))
	}
}

func (h *Hub) broadcastLocked(evt protocol.Event) {
	data, err := evt.Encode()
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("event", evt.Name), slog.Any("error", err))
		return
	}
	for client := range h.clients {
		select {
		case client.Outgoing <- data:
		default:
			h.logger.Warn("client queue full, skipping", slog.String("conn_id", client.ID))
		}
	}
}

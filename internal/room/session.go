// Package room implements the client side of the chat room protocol: the
// session state machine, the presence roster and the message timeline.
package room

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/socket-room/internal/client"
	"github.com/omochice/socket-room/pkg/protocol"
)

// State is the session state as the user observes it.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// RejoinPolicy decides what a reconnect does with the previous identity.
type RejoinPolicy int

const (
	// RejoinManual forgets the identity on disconnect. The user joins again.
	RejoinManual RejoinPolicy = iota
	// RejoinAuto replays the last server-confirmed identity on the next
	// connect. The session still waits in Joining for the confirmation.
	RejoinAuto
)

// Update describes the session right after one change. Entry is set when the
// change appended to the timeline; Reason carries the transport's message on
// disconnect and connect errors.
//
// Updates raised by the transport arrive in event order. An update raised by
// Join can race with them; Version orders all updates of a session.
type Update struct {
	Version  uint64
	State    State
	Identity string
	Roster   []string
	Entry    Entry
	Reason   string
}

// Observer receives session updates. It runs outside the session lock and may
// call back into the session.
type Observer func(Update)

// Session is one client's membership in the room. It turns transport events
// into state transitions, roster snapshots and timeline entries.
type Session struct {
	id        uuid.UUID
	transport client.Transport
	policy    RejoinPolicy
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	identity  string
	confirmed string
	version   uint64
	roster    *Registry
	timeline  *Timeline
	observers []Observer
}

// NewSession creates a Session on t and subscribes to its events. The
// session owns t from here on.
func NewSession(t client.Transport, policy RejoinPolicy, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	s := &Session{
		id:        id,
		transport: t,
		policy:    policy,
		logger:    logger.With(slog.String("session_id", id.String())),
		state:     StateDisconnected,
		roster:    NewRegistry(),
		timeline:  NewTimeline(),
	}

	t.On(protocol.EventConnect, s.handleConnect)
	t.On(protocol.EventDisconnect, s.handleDisconnect)
	t.On(protocol.EventConnectError, s.handleConnectError)
	t.On(protocol.EventUserJoined, s.handleRoster(KindJoined))
	t.On(protocol.EventUserLeft, s.handleRoster(KindLeft))
	t.On(protocol.EventChatMessage, s.handleChat)
	return s
}

// Start connects the underlying transport.
func (s *Session) Start(ctx context.Context) error {
	return s.transport.Connect(ctx)
}

// Close releases the transport. No observer is notified afterwards.
func (s *Session) Close() error {
	err := s.transport.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	s.identity = ""
	s.timeline.seal(StateDisconnected)
	s.observers = nil
	return err
}

// Subscribe registers o for every later update.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Join asks the server to admit the session as identity. Surrounding
// whitespace is trimmed. The session moves to Joining and reaches Joined only
// once a roster snapshot lists identity. While Joining, calling Join again
// with the same identity resends the request; any other identity is refused.
func (s *Session) Join(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return &ValidationError{Field: "identity", Reason: "identity is empty"}
	}

	s.mu.Lock()
	if s.state == StateJoining && s.identity == identity {
		s.mu.Unlock()
		s.logger.Info("retrying join", slog.String("identity", identity))
		s.transport.Send(protocol.JoinRequest(identity))
		return nil
	}
	if s.state != StateConnected {
		st := s.state
		s.mu.Unlock()
		return &NotReadyError{Op: "join", State: st}
	}
	s.state = StateJoining
	s.identity = identity
	u := s.updateLocked(nil, "")
	s.mu.Unlock()

	s.logger.Info("joining", slog.String("identity", identity))
	s.transport.Send(protocol.JoinRequest(identity))
	s.notify(u)
	return nil
}

// Send posts chat text. The text is not added to the timeline here; the
// server's broadcast is the only source of chat entries.
func (s *Session) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Reason: "message is empty"}
	}

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateJoined {
		return &NotReadyError{Op: "send", State: st}
	}

	s.transport.Send(protocol.ChatSend(text))
	return nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity being joined or joined with, or "".
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Roster returns the last roster snapshot received.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Snapshot()
}

// Entries returns a restartable view of the timeline.
func (s *Session) Entries() iter.Seq[Entry] {
	return s.timeline.Entries()
}

// Len returns the number of timeline entries.
func (s *Session) Len() int {
	return s.timeline.Len()
}

func (s *Session) handleConnect(protocol.Event) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.logger.Warn("connect while already connected", slog.String("state", s.state.String()))
		s.mu.Unlock()
		return
	}
	s.state = StateConnected

	var replay string
	if s.policy == RejoinAuto && s.confirmed != "" {
		replay = s.confirmed
		s.identity = replay
		s.state = StateJoining
	}
	u := s.updateLocked(nil, "")
	s.mu.Unlock()

	s.logger.Info("connected")
	if replay != "" {
		s.logger.Info("rejoining", slog.String("identity", replay))
		s.transport.Send(protocol.JoinRequest(replay))
	}
	s.notify(u)
}

func (s *Session) handleDisconnect(evt protocol.Event) {
	s.mu.Lock()
	prev := s.state
	s.state = StateDisconnected
	s.identity = ""
	if s.policy == RejoinManual {
		s.confirmed = ""
	}
	s.timeline.seal(StateDisconnected)
	u := s.updateLocked(nil, evt.Text)
	s.mu.Unlock()

	s.logger.Info("disconnected",
		slog.String("from", prev.String()),
		slog.String("reason", evt.Text))
	s.notify(u)
}

func (s *Session) handleConnectError(evt protocol.Event) {
	s.mu.Lock()
	u := s.updateLocked(nil, evt.Text)
	s.mu.Unlock()

	s.logger.Debug("connect attempt failed", slog.String("reason", evt.Text))
	s.notify(u)
}

func (s *Session) handleRoster(kind ChangeKind) client.Handler {
	return func(evt protocol.Event) {
		if err := evt.Validate(); err != nil {
			s.logger.Warn("dropping roster event", slog.Any("error", err))
			return
		}

		s.mu.Lock()
		before := s.roster.Snapshot()
		delta, announce := s.roster.ApplySnapshot(evt.Users, evt.Username, kind)
		changed := !slices.Equal(before, s.roster.Snapshot())

		if s.state == StateJoining && kind == KindJoined && s.roster.Contains(s.identity) {
			changed = true
			s.state = StateJoined
			s.confirmed = s.identity
			s.timeline.open(s.identity)
			s.logger.Info("joined", slog.String("identity", s.identity))
		}
		if s.state == StateJoined && !s.roster.Contains(s.identity) {
			s.logger.Warn("roster no longer lists local identity", slog.String("identity", s.identity))
		}

		var entry Entry
		if announce && s.state == StateJoined {
			e, err := s.timeline.AppendSystem(SystemText(delta.Identity, kind), kind)
			if err != nil {
				s.logger.Error("failed to record presence change", slog.Any("error", err))
			} else {
				entry = e
			}
		}
		if entry == nil && !changed {
			s.mu.Unlock()
			s.logger.Debug("roster unchanged", slog.String("event", evt.Name), slog.String("username", evt.Username))
			return
		}
		u := s.updateLocked(entry, "")
		s.mu.Unlock()

		s.notify(u)
	}
}

func (s *Session) handleChat(evt protocol.Event) {
	if evt.Text == "" || evt.Username == "" {
		s.logger.Warn("dropping malformed chat message", slog.String("username", evt.Username))
		return
	}

	s.mu.Lock()
	if s.state != StateJoined {
		st := s.state
		s.mu.Unlock()
		s.logger.Debug("dropping chat message before join", slog.String("state", st.String()))
		return
	}
	e, err := s.timeline.AppendChat(evt.Text, evt.Username)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("dropping chat message", slog.Any("error", err))
		return
	}
	u := s.updateLocked(e, "")
	s.mu.Unlock()

	s.notify(u)
}

func (s *Session) updateLocked(entry Entry, reason string) Update {
	s.version++
	return Update{
		Version:  s.version,
		State:    s.state,
		Identity: s.identity,
		Roster:   s.roster.Snapshot(),
		Entry:    entry,
		Reason:   reason,
	}
}

func (s *Session) notify(u Update) {
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o(u)
	}
}

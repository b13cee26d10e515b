// Package protocol defines the named events exchanged between room clients
// and the room server, and their binary wire encoding.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event names carried on the wire.
const (
	EventUserJoin    = "user join"
	EventUserJoined  = "user joined"
	EventUserLeft    = "user left"
	EventChatMessage = "chat message"
)

// Lifecycle events raised by a transport adapter. They never travel on the
// wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Field numbers of the Event wire layout.
const (
	fieldName     protowire.Number = 1
	fieldUsername protowire.Number = 2
	fieldText     protowire.Number = 3
	fieldUsers    protowire.Number = 4
)

// ErrInvalidEvent is returned by Validate when a payload does not match the
// shape its event name requires.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a named event with its payload. Which payload fields are set
// depends on Name:
//
//	user join     Username (the requested identity)
//	user joined   Username, Users
//	user left     Username, Users
//	chat message  Text (client to server), Text and Username (server to client)
type Event struct {
	Name     string
	Username string
	Text     string
	Users    []string
}

// JoinRequest builds the event a client sends to announce its identity.
func JoinRequest(identity string) Event {
	return Event{Name: EventUserJoin, Username: identity}
}

// ChatSend builds the event a client sends to post chat text.
func ChatSend(text string) Event {
	return Event{Name: EventChatMessage, Text: text}
}

// ChatBroadcast builds the event the server fans out for a chat message.
func ChatBroadcast(text, username string) Event {
	return Event{Name: EventChatMessage, Text: text, Username: username}
}

// UserJoined builds a roster snapshot announcing that username joined.
func UserJoined(username string, users []string) Event {
	return Event{Name: EventUserJoined, Username: username, Users: users}
}

// UserLeft builds a roster snapshot announcing that username left.
func UserLeft(username string, users []string) Event {
	return Event{Name: EventUserLeft, Username: username, Users: users}
}

// IsLifecycle reports whether the event is raised locally by a transport.
func (e Event) IsLifecycle() bool {
	switch e.Name {
	case EventConnect, EventDisconnect, EventConnectError:
		return true
	default:
		return false
	}
}

// Validate checks that the payload carries the fields its name requires.
// Unknown names are accepted so that newer peers can add events.
func (e Event) Validate() error {
	switch e.Name {
	case "":
		return fmt.Errorf("%w: missing name", ErrInvalidEvent)
	case EventUserJoin, EventUserJoined, EventUserLeft:
		if e.Username == "" {
			return fmt.Errorf("%w: %q without username", ErrInvalidEvent, e.Name)
		}
	case EventChatMessage:
		if e.Text == "" {
			return fmt.Errorf("%w: %q without text", ErrInvalidEvent, e.Name)
		}
	}
	return nil
}

// Encode encodes the event into its wire form.
func (e *Event) Encode() ([]byte, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("failed to encode event: %w: missing name", ErrInvalidEvent)
	}
	b := make([]byte, 0, 16+len(e.Name)+len(e.Username)+len(e.Text))
	b = appendString(b, fieldName, e.Name)
	b = appendString(b, fieldUsername, e.Username)
	b = appendString(b, fieldText, e.Text)
	for _, u := range e.Users {
		b = protowire.AppendTag(b, fieldUsers, protowire.BytesType)
		b = protowire.AppendString(b, u)
	}
	return b, nil
}

// Decode decodes the wire form into the event, replacing its contents.
// Unknown fields are skipped.
func (e *Event) Decode(data []byte) error {
	*e = Event{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode event: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType || num < fieldName || num > fieldUsers {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to decode event: field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return fmt.Errorf("failed to decode event: field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldName:
			e.Name = v
		case fieldUsername:
			e.Username = v
		case fieldText:
			e.Text = v
		case fieldUsers:
			e.Users = append(e.Users, v)
		}
	}
	if e.Name == "" {
		return fmt.Errorf("failed to decode event: %w: missing name", ErrInvalidEvent)
	}
	return nil
}

// appendString skips empty values; proto3 does the same for scalar strings.
func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

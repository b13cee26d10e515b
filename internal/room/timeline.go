package room

import (
	"fmt"
	"iter"
	"strings"
	"sync"
)

// Entry is one line of the timeline: a ChatEntry or a SystemEntry.
type Entry interface {
	// Sequence is the 1-based position in receipt order.
	Sequence() int
	isEntry()
}

// ChatEntry is a chat message as received from the server.
type ChatEntry struct {
	Seq               int
	Text              string
	Author            string
	OriginatedLocally bool
}

func (e ChatEntry) Sequence() int { return e.Seq }
func (ChatEntry) isEntry()        {}

// SystemEntry records a presence change.
type SystemEntry struct {
	Seq  int
	Text string
	Kind ChangeKind
}

func (e SystemEntry) Sequence() int { return e.Seq }
func (SystemEntry) isEntry()        {}

// SystemText is the line recorded when identity joins or leaves.
func SystemText(identity string, kind ChangeKind) string {
	return fmt.Sprintf("%s %s the chat", identity, kind)
}

// Timeline is the append-only log of a joined session. It accepts entries
// only while open, that is between the session reaching Joined and the next
// disconnect.
type Timeline struct {
	mu        sync.RWMutex
	entries   []Entry
	accepting bool
	identity  string
	state     State
}

// NewTimeline creates an empty, sealed Timeline.
func NewTimeline() *Timeline {
	return &Timeline{state: StateDisconnected}
}

// open starts accepting entries; ownership is judged against identity.
func (t *Timeline) open(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepting = true
	t.identity = identity
	t.state = StateJoined
}

// seal stops accepting entries; state is reported in NotReadyError.
func (t *Timeline) seal(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepting = false
	t.state = state
}

// AppendChat appends a chat message. OriginatedLocally is fixed here, against
// the identity the timeline was opened with.
func (t *Timeline) AppendChat(text, author string) (ChatEntry, error) {
	if strings.TrimSpace(text) == "" {
		return ChatEntry{}, &ValidationError{Field: "text", Reason: "message is empty"}
	}
	if author == "" {
		return ChatEntry{}, &ValidationError{Field: "author", Reason: "author is empty"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.accepting {
		return ChatEntry{}, &NotReadyError{Op: "append chat", State: t.state}
	}
	e := ChatEntry{
		Seq:               len(t.entries) + 1,
		Text:              text,
		Author:            author,
		OriginatedLocally: IsLocal(author, t.identity),
	}
	t.entries = append(t.entries, e)
	return e, nil
}

// AppendSystem appends a presence line. De-duplication happens upstream in
// Registry.ApplySnapshot.
func (t *Timeline) AppendSystem(text string, kind ChangeKind) (SystemEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.accepting {
		return SystemEntry{}, &NotReadyError{Op: "append system entry", State: t.state}
	}
	e := SystemEntry{Seq: len(t.entries) + 1, Text: text, Kind: kind}
	t.entries = append(t.entries, e)
	return e, nil
}

// Entries returns a read-only view of the entries present when iteration
// starts. The sequence can be ranged over any number of times.
func (t *Timeline) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		n := t.Len()
		for i := 0; i < n; i++ {
			t.mu.RLock()
			e := t.entries[i]
			t.mu.RUnlock()
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

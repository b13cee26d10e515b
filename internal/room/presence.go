package room

import (
	"slices"

	"github.com/samber/lo"
)

// ChangeKind is the direction of a presence change.
type ChangeKind int

const (
	KindJoined ChangeKind = iota
	KindLeft
)

func (k ChangeKind) String() string {
	switch k {
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Delta is the set difference between two consecutive roster snapshots,
// together with the change the server attributed the snapshot to.
type Delta struct {
	Identity string
	Kind     ChangeKind
	Joined   []string
	Left     []string
}

// Empty reports whether the snapshot left membership untouched.
func (d Delta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}

// Registry holds the server-reported roster. It is owned by one Session and
// is not safe for concurrent use on its own.
type Registry struct {
	users []string
	// seats counts every occurrence in the last snapshot; the server lets
	// several clients share a name.
	seats map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ApplySnapshot replaces the roster with identities and returns the
// membership delta between the distinct names (first occurrence wins). The
// boolean is true only when the number of occurrences of changed moved in the
// direction kind names, so a second client joining under a taken name is
// announced while replaying a snapshot that is already applied yields false.
func (r *Registry) ApplySnapshot(identities []string, changed string, kind ChangeKind) (Delta, bool) {
	next := lo.Uniq(identities)
	left, joined := lo.Difference(r.users, next)
	seats := lo.CountValues(identities)
	before, after := r.seats[changed], seats[changed]
	r.users = next
	r.seats = seats

	d := Delta{Identity: changed, Kind: kind, Joined: joined, Left: left}
	switch kind {
	case KindJoined:
		return d, after > before
	case KindLeft:
		return d, after < before
	default:
		return d, false
	}
}

// Snapshot returns a copy of the roster in server order.
func (r *Registry) Snapshot() []string {
	return slices.Clone(r.users)
}

// Contains reports whether identity is on the roster.
func (r *Registry) Contains(identity string) bool {
	return slices.Contains(r.users, identity)
}

// Len returns the number of distinct identities on the roster.
func (r *Registry) Len() int {
	return len(r.users)
}

package room

// IsLocal reports whether a chat entry written by author belongs to the
// session identified as identity. Matching is exact and case-sensitive;
// "Alice" and "alice" are different people. A session without an identity
// owns nothing.
func IsLocal(author, identity string) bool {
	return identity != "" && author == identity
}

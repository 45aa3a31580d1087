// Package session holds conversation history in memory with bounded history,
// bounded session count and idle expiry.
//
// Invariants:
//   - A session never holds more than Config.MaxHistory turns; the oldest go first.
//   - The store never holds more than Config.MaxSessions sessions; the session
//     created earliest is evicted to make room.
//   - Sessions idle for longer than Config.Timeout are dropped on the next Resolve.
//   - Every operation is atomic, so concurrent appends never lose turns.
//
// Usage:
//
//	store := session.NewStore(session.DefaultConfig(), clock.Real())
//	sess := store.Resolve("default")
//	store.AppendTurn(sess.ID, "hello", "hi there")
package session

// Package store provides SQLite-backed durable storage for beastmode.
//
// The store holds three things:
//   - Audit: one append-only record per acknowledged dispatch
//   - Proposals: learning proposals and their operator decisions
//   - Learned rules: the rule definitions approved proposals produced,
//     reloaded into the pattern store at startup
//
// # Critical Patterns
//
// Logical ordering:
//   - Audit and learned rules are ordered by an autoincrement seq, NEVER
//     by timestamp, so the write order of dispatches is preserved
//   - All list queries include ORDER BY seq ASC (or created_at, id for
//     proposals) so results are deterministic
//
// Append-only audit:
//   - Audit ids are unique; re-appending a record with a known id is a
//     no-op, which makes an audit retry after a failed write safe
//   - Rows are never updated or deleted
//
// Atomic approval:
//   - Approving a proposal writes the learned rule and flips the proposal
//     status in one transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

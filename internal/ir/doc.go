// Package ir provides the canonical types shared by every beastmode package:
// pattern tokens, rules, templates, flow graphs, action references, resolved
// input values, audit records and learning proposals.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - arithmetic and numeric inputs are int64
//   - Templates are parsed into segment trees at load time, never re-parsed
//   - All JSON tags use snake_case
//   - Ordering uses logical sequence numbers from a monotonic clock
package ir

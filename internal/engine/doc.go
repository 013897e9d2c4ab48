// Package engine runs conversation turns.
//
// A turn is routed by session state: a pending confirmation reads the input
// as yes or no, an active flow reads it as a choice, and otherwise the
// Matcher runs over the current library snapshot. A match executes the
// rule's template (reply text, random reply, redirect, topic change,
// dispatch, confirmation gate, flow start); no match goes to the fallback
// adapter, whose proposal is recorded for operator review. A confirmation
// gate parks the rest of the template on the session, and it runs once the
// confirmed dispatch succeeds.
//
// CONCURRENCY:
//
// Sessions are independent. Turns of one session run strictly in arrival
// order on a per-session worker (Queue); turns of different sessions run in
// parallel. The library is read through immutable snapshots, so no lock is
// held across a turn.
//
// A template never partially applies: every text segment of it is rendered
// before its first side effect. A redirected-to template is a separate
// template in this sense. Dispatch failures are reported in the reply
// and leave the session usable; only a done context fails a turn.
package engine

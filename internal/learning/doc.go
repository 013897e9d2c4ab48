// Package learning turns fallback proposals into library rules.
//
// A proposal is recorded as pending and waits for an operator. Approval
// generalizes the example input into a pattern, compiles it like any
// hand-written rule, and inserts it only if it cannot change how an input
// already matched by the library is handled. Approved rules are persisted
// and reloaded at startup.
package learning

// Package patterns holds the live rule library and the matcher.
//
// The Store publishes immutable Snapshots; every lookup works against one
// snapshot, so a turn never observes a half-applied insert. Matching is a
// pure function of (snapshot, input, topic).
package patterns

// Package lease implements the keep-alive lease table.
//
// A lease is a caller's request to keep the retrieval connection open
// regardless of app visibility. Leases are renewed by registering the same
// key again and expire lazily: PruneExpired is called once per necessity
// evaluation, never from a timer.
package lease

// Package engine defines the asynchronous search session contract and a
// store-backed implementation.
//
// A session gathers every stored item matching the query, delivers them in
// pages, marks the end of gathering with a Finished batch and then, in live
// mode, keeps reporting items that start or stop matching as files change.
// A closed Batches channel means the session is exhausted.
package engine

import (
	"context"

	"github.com/Aman-CERP/metafind/internal/item"
)

// Batch is one asynchronous notification from a session.
type Batch struct {
	// Added are items that now match the query, in delivery order.
	Added []*item.Item

	// Removed are items that no longer match. Only the ID is guaranteed.
	Removed []*item.Item

	// Finished marks the end of the gathering phase.
	Finished bool

	// Err reports a session failure. No further batches follow it.
	Err error
}

// Session is a running search.
type Session interface {
	// ID is unique per session.
	ID() string

	// Query is the query the session was started with.
	Query() string

	// Batches delivers notifications until the session ends.
	Batches() <-chan Batch

	// Finished reports whether the gathering phase is over.
	Finished() bool

	// Stop cancels the session and waits for it to wind down. Safe to call
	// more than once.
	Stop()
}

// Engine starts search sessions.
type Engine interface {
	Start(ctx context.Context, query string) (Session, error)
}

// Package store persists harvested items and answers metadata queries.
//
// Two backends implement Index: bleve (default, query-string syntax over
// typed fields) and SQLite FTS5 (MATCH syntax over tokenized attribute text).
// Both store each item as its JSON encoding so attributes round-trip with
// their kinds intact.
package store

import (
	"context"
	"errors"

	"github.com/Aman-CERP/metafind/internal/item"
)

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index is closed")

	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("item not found")
)

// MatchAll is the query that matches every item. The empty query is
// treated the same way.
const MatchAll = "*"

// Page is one window of search results.
type Page struct {
	// Items are the results in rank order.
	Items []*item.Item

	// Total is the number of matching items across all pages.
	Total int
}

// Stats provides statistics about an index.
type Stats struct {
	Backend   Backend
	Path      string
	ItemCount int
	SizeBytes int64
}

// Index stores items and evaluates queries against them.
type Index interface {
	// Put adds or replaces items.
	Put(ctx context.Context, items []*item.Item) error

	// Delete removes items by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Get returns one item, or ErrNotFound.
	Get(ctx context.Context, id string) (*item.Item, error)

	// Search returns results [from, from+size) ordered by relevance, then id.
	Search(ctx context.Context, query string, from, size int) (*Page, error)

	// Match returns the subset of ids whose items satisfy query.
	Match(ctx context.Context, query string, ids []string) ([]string, error)

	// AllIDs returns every stored id in sorted order.
	AllIDs(ctx context.Context) ([]string, error)

	// Stats returns index statistics.
	Stats() *Stats

	Close() error
}

// isMatchAll reports whether query selects every item.
func isMatchAll(query string) bool {
	switch query {
	case "", MatchAll:
		return true
	}
	for _, r := range query {
		if r != ' ' && r != '\t' {
			return false
		}
	}
	return true
}

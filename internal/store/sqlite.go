package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/metafind/internal/format"
	"github.com/Aman-CERP/metafind/internal/item"
)

// SQLiteIndex stores items in SQLite with an FTS5 table for queries.
// WAL mode lets a search run while another process indexes.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ Index = (*SQLiteIndex)(nil)

// validateSQLiteIntegrity checks if a SQLite index is valid before opening.
// Returns nil if valid, error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name IN ('items', 'items_fts')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("tables 'items'/'items_fts' missing")
	}

	return nil
}

// NewSQLiteIndex opens or creates a SQLite index at path.
// If path is empty, creates an in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("sqlite_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: required for :memory:, and avoids writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384", // 16MB (negative = KB)
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// initSchema creates the item table and its FTS5 companion.
func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- raw holds the JSON-encoded item
	CREATE TABLE IF NOT EXISTS items (
		id  TEXT PRIMARY KEY,
		raw TEXT NOT NULL
	);

	-- content is the searchable text of every attribute,
	-- with camelCase/snake_case parts appended
	CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
		id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// searchableText renders every attribute value as text, then appends the
// name tokens so partial words match.
func searchableText(it *item.Item) string {
	var parts []string
	for _, name := range it.Names() {
		v := it.Attrs[name]
		switch v.Kind {
		case item.KindString:
			parts = append(parts, v.Str)
		case item.KindNumber:
			parts = append(parts, format.FormatNumber(v.Num))
		case item.KindDate:
			parts = append(parts, format.FormatDate(v.Date))
		case item.KindStrings:
			parts = append(parts, v.Strs...)
		case item.KindBytes:
			parts = append(parts, hex.EncodeToString(v.Bytes))
		}
	}
	text := strings.Join(parts, " ")
	return text + " " + strings.Join(TokenizeName(text), " ")
}

// Put adds or replaces items.
// FTS5 virtual tables don't support REPLACE, so rows are deleted first.
func (s *SQLiteIndex) Put(ctx context.Context, items []*item.Item) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM items_fts WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO items_fts(id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer ftsStmt.Close()

	itemStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO items(id, raw) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item statement: %w", err)
	}
	defer itemStmt.Close()

	for _, it := range items {
		raw, err := item.Encode(it)
		if err != nil {
			return err
		}
		if _, err := deleteStmt.ExecContext(ctx, it.ID); err != nil {
			return fmt.Errorf("failed to delete existing item %s: %w", it.ID, err)
		}
		if _, err := ftsStmt.ExecContext(ctx, it.ID, searchableText(it)); err != nil {
			return fmt.Errorf("failed to index item %s: %w", it.ID, err)
		}
		if _, err := itemStmt.ExecContext(ctx, it.ID, string(raw)); err != nil {
			return fmt.Errorf("failed to store item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes items from the index.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inClause, args := inList(ids)

	if _, err := tx.ExecContext(ctx, "DELETE FROM items_fts WHERE id IN ("+inClause+")", args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id IN ("+inClause+")", args...); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}

	return tx.Commit()
}

// Get returns a single item by id.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT raw FROM items WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	return item.Decode([]byte(raw))
}

// Search evaluates an FTS5 MATCH expression. The empty query and "*"
// list every item by id.
func (s *SQLiteIndex) Search(ctx context.Context, queryStr string, from, size int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var (
		countSQL, pageSQL string
		args              []any
	)
	if isMatchAll(queryStr) {
		countSQL = `SELECT COUNT(*) FROM items`
		pageSQL = `SELECT id, raw FROM items ORDER BY id LIMIT ? OFFSET ?`
	} else {
		// bm25() is negative, lower = better
		countSQL = `SELECT COUNT(*) FROM items_fts WHERE items_fts MATCH ?`
		pageSQL = `
			SELECT items.id, items.raw
			FROM items_fts JOIN items ON items.id = items_fts.id
			WHERE items_fts MATCH ?
			ORDER BY bm25(items_fts), items.id
			LIMIT ? OFFSET ?`
		args = append(args, queryStr)
	}

	page := &Page{}
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&page.Total); err != nil {
		return nil, queryError(queryStr, err)
	}

	rows, err := s.db.QueryContext(ctx, pageSQL, append(args, size, from)...)
	if err != nil {
		return nil, queryError(queryStr, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		it, err := item.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		page.Items = append(page.Items, it)
	}
	return page, rows.Err()
}

// Match returns the ids among ids that satisfy the query.
func (s *SQLiteIndex) Match(ctx context.Context, queryStr string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	inClause, args := inList(ids)
	var q string
	if isMatchAll(queryStr) {
		q = "SELECT id FROM items WHERE id IN (" + inClause + ") ORDER BY id"
	} else {
		q = "SELECT id FROM items_fts WHERE items_fts MATCH ? AND id IN (" + inClause + ") ORDER BY id"
		args = append([]any{queryStr}, args...)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, queryError(queryStr, err)
	}
	defer rows.Close()

	var matched []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		matched = append(matched, id)
	}
	return matched, rows.Err()
}

// AllIDs returns all item ids in the index.
func (s *SQLiteIndex) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteIndex) Stats() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{Backend: BackendSQLite, Path: s.path}
	if s.closed {
		return stats
	}

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&stats.ItemCount)
	if s.path != "" {
		for _, p := range []string{s.path, s.path + "-wal"} {
			if info, err := os.Stat(p); err == nil {
				stats.SizeBytes += info.Size()
			}
		}
	}
	return stats
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// inList builds "?,?,?" and the matching arguments.
func inList(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

// queryError marks FTS5 syntax errors as invalid queries.
func queryError(queryStr string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "fts5:") ||
		strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "no such column") {
		return fmt.Errorf("invalid query %q: %w", queryStr, err)
	}
	return fmt.Errorf("search failed: %w", err)
}

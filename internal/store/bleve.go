package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/metafind/internal/item"
)

const (
	// NameTokenizerName is the name of our file-name tokenizer.
	NameTokenizerName = "name_tokenizer"

	// NameAnalyzerName is the name of our file-name analyzer.
	NameAnalyzerName = "name_analyzer"

	// rawField holds the JSON-encoded item. Stored, not indexed.
	rawField = "_raw"
)

// textFields are always analyzed as text. Without an explicit mapping a
// name such as "2024-01-02" would be indexed as a date.
var textFields = []string{
	item.AttrPath,
	item.AttrName,
	item.AttrDisplayName,
	item.AttrTags,
	item.AttrVolumePath,
}

// keywordFields are matched exactly rather than tokenized.
var keywordFields = []string{
	item.AttrExt,
	item.AttrKind,
	item.AttrContentType,
	item.AttrParent,
	item.AttrDigest,
	item.AttrArchive,
	item.AttrVolume,
}

func init() {
	_ = registry.RegisterTokenizer(NameTokenizerName, nameTokenizerConstructor)
}

// BleveIndex stores items in a Bleve v2 index.
// Attributes are indexed as typed fields (text, numeric, datetime) so the
// query string syntax can address them: name:report size:>1000.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation
var _ Index = (*BleveIndex)(nil)

// validateIndexIntegrity checks if a Bleve index is valid before opening.
// Returns nil if valid, error describing corruption if not.
func validateIndexIntegrity(path string) error {
	// Check if index directory exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Index doesn't exist, will be created
	}

	// index_meta.json exists and is non-empty
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	// and parses
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a Bleve index at path.
// If path is empty, creates an in-memory index.
// A corrupt on-disk index is removed and recreated empty; the next
// 'metafind index' run repopulates it.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("bleve_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bleve_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("bleve_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed with corruption, please reindex"))

			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// createIndexMapping builds the mapping: the name analyzer by default,
// keyword fields for exact attributes, and a stored-only raw field.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(NameAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": NameTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = NameAnalyzerName
	indexMapping.StoreDynamic = false
	indexMapping.DocValuesDynamic = false

	docMapping := bleve.NewDocumentMapping()

	raw := bleve.NewTextFieldMapping()
	raw.Index = false
	raw.Store = true
	raw.IncludeInAll = false
	raw.DocValues = false
	docMapping.AddFieldMappingsAt(rawField, raw)

	for _, name := range textFields {
		docMapping.AddFieldMappingsAt(name, bleve.NewTextFieldMapping())
	}
	for _, name := range keywordFields {
		docMapping.AddFieldMappingsAt(name, bleve.NewKeywordFieldMapping())
	}

	indexMapping.DefaultMapping = docMapping
	return indexMapping, nil
}

// bleveDocument converts an item to the field map Bleve indexes.
func bleveDocument(it *item.Item) (map[string]interface{}, error) {
	raw, err := item.Encode(it)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{}, it.Len()+1)
	for name, v := range it.Attrs {
		if name == rawField {
			continue
		}
		switch v.Kind {
		case item.KindBytes:
			// searchable as lower-case hex, e.g. digest:9f86d08...
			doc[name] = hex.EncodeToString(v.Bytes)
		default:
			if iv := v.Interface(); iv != nil {
				doc[name] = iv
			}
		}
	}
	doc[rawField] = string(raw)
	return doc, nil
}

// Put adds or replaces items.
func (b *BleveIndex) Put(ctx context.Context, items []*item.Item) error {
	if len(items) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, it := range items {
		doc, err := bleveDocument(it)
		if err != nil {
			return err
		}
		if err := batch.Index(it.ID, doc); err != nil {
			return fmt.Errorf("failed to index item %s: %w", it.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes items from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}

// Get returns a single item by id.
func (b *BleveIndex) Get(ctx context.Context, id string) (*item.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Size = 1
	req.Fields = []string{rawField}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	if len(result.Hits) == 0 {
		return nil, ErrNotFound
	}
	return decodeHit(result.Hits[0].ID, result.Hits[0].Fields)
}

// Search evaluates a bleve query string. The empty query and "*" match all.
func (b *BleveIndex) Search(ctx context.Context, queryStr string, from, size int) (*Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	req := bleve.NewSearchRequestOptions(parseQuery(queryStr), size, from, false)
	req.Fields = []string{rawField}
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	page := &Page{
		Items: make([]*item.Item, 0, len(result.Hits)),
		Total: int(result.Total),
	}
	for _, hit := range result.Hits {
		it, err := decodeHit(hit.ID, hit.Fields)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

// Match returns the ids among ids that satisfy the query.
func (b *BleveIndex) Match(ctx context.Context, queryStr string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	q := bleve.NewConjunctionQuery(parseQuery(queryStr), bleve.NewDocIDQuery(ids))
	req := bleve.NewSearchRequest(q)
	req.Size = len(ids)
	req.SortBy([]string{"_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("match failed: %w", err)
	}

	matched := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		matched[i] = hit.ID
	}
	return matched, nil
}

// AllIDs returns all item ids in the index.
// Used to reconcile the index with the file system.
func (b *BleveIndex) AllIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	docCount, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.SortBy([]string{"_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics.
func (b *BleveIndex) Stats() *Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := &Stats{Backend: BackendBleve, Path: b.path}
	if b.closed {
		return stats
	}

	docCount, _ := b.index.DocCount()
	stats.ItemCount = int(docCount)
	if b.path != "" {
		stats.SizeBytes = dirSize(b.path)
	}
	return stats
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// parseQuery maps the opaque query string to a bleve query.
func parseQuery(q string) query.Query {
	if isMatchAll(q) {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewQueryStringQuery(q)
}

func decodeHit(id string, fields map[string]interface{}) (*item.Item, error) {
	raw, ok := fields[rawField].(string)
	if !ok {
		return nil, fmt.Errorf("item %s has no stored payload", id)
	}
	it, err := item.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	return it, nil
}

// dirSize sums file sizes below path. Errors count as zero.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// nameTokenizerConstructor creates a new name tokenizer for Bleve.
func nameTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &nameTokenizer{}, nil
}

// nameTokenizer implements analysis.Tokenizer with TokenizeName rules.
type nameTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *nameTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	result := make(analysis.TokenStream, 0)
	pos := 1

	for _, loc := range tokenRegex.FindAllStringIndex(text, -1) {
		for _, term := range TokenizeName(text[loc[0]:loc[1]]) {
			result = append(result, &analysis.Token{
				Term:     []byte(term),
				Start:    loc[0],
				End:      loc[1],
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
	}

	return result
}

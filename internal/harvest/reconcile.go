package harvest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/metafind/internal/store"
)

// Reconcile deletes stored items that lie under one of roots but were not
// seen by the latest scan. Items outside the roots are left alone. Returns
// the deleted ids.
func Reconcile(ctx context.Context, idx store.Index, roots []string, seen map[string]struct{}) ([]string, error) {
	ids, err := idx.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed items: %w", err)
	}

	var stale []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if under(id, roots) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if err := idx.Delete(ctx, stale); err != nil {
		return nil, fmt.Errorf("failed to delete stale items: %w", err)
	}
	return stale, nil
}

// Below returns the ids equal to dir or nested under it, in input order.
// Members of an archive are nested under the archive.
func Below(ids []string, dir string) []string {
	var out []string
	for _, id := range ids {
		if under(id, []string{dir}) {
			out = append(out, id)
		}
	}
	return out
}

func under(id string, roots []string) bool {
	for _, root := range roots {
		if id == root || root == string(filepath.Separator) ||
			strings.HasPrefix(id, root+string(filepath.Separator)) ||
			strings.HasPrefix(id, root+MemberSeparator) {
			return true
		}
	}
	return false
}

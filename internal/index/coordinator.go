package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/item"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/watcher"
)

// Change is the effect of one batch of file events on the index.
type Change struct {
	// Upserted are the items written, in event order.
	Upserted []*item.Item

	// Deleted are the ids removed, sorted.
	Deleted []string
}

// Empty reports whether the change touched nothing.
func (c *Change) Empty() bool {
	return c == nil || (len(c.Upserted) == 0 && len(c.Deleted) == 0)
}

// CoordinatorConfig holds the coordinator's collaborators.
type CoordinatorConfig struct {
	Harvester *harvest.Harvester
	Index     store.Index
}

// Coordinator applies watcher events to the index.
type Coordinator struct {
	harvester *harvest.Harvester
	index     store.Index
}

// NewCoordinator creates a coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	return &Coordinator{
		harvester: config.Harvester,
		index:     config.Index,
	}
}

// HandleEvents re-harvests created and modified paths and removes deleted
// ones, including everything stored below a deleted directory. A path that
// vanished or became excluded before it could be harvested is treated as a
// delete. An upserted archive has its members re-listed and members it no
// longer holds are deleted. Per-path harvest failures are logged and
// skipped.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) (*Change, error) {
	change := &Change{}
	var (
		upserts  []*item.Item
		removed  []string
		archives = make(map[string]map[string]struct{})
	)

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Debug("processing file event",
			slog.String("path", event.Path),
			slog.String("operation", event.Operation.String()),
			slog.Bool("is_dir", event.IsDir))

		if event.Operation == watcher.OpDelete {
			removed = append(removed, event.Path)
			continue
		}

		it, err := c.harvester.Item(event.Path)
		switch {
		case err == nil:
			upserts = append(upserts, it)
			members, err := c.harvester.Expand(it)
			if err != nil {
				slog.Warn("failed to list archive members",
					slog.String("path", event.Path),
					slog.String("error", err.Error()))
				continue
			}
			if it.GetString(item.AttrKind) == harvest.KindFile && harvest.IsArchive(it.ID) {
				archives[it.ID] = make(map[string]struct{}, len(members))
			}
			for _, m := range members {
				archives[it.ID][m.ID] = struct{}{}
			}
			upserts = append(upserts, members...)
		case errors.Is(err, harvest.ErrExcluded), errors.Is(err, fs.ErrNotExist):
			removed = append(removed, event.Path)
		default:
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
		}
	}

	if len(upserts) > 0 {
		if err := c.index.Put(ctx, upserts); err != nil {
			return nil, fmt.Errorf("failed to write items: %w", err)
		}
		change.Upserted = upserts
	}

	if len(removed) > 0 || len(archives) > 0 {
		deleted, err := c.removePaths(ctx, removed, archives)
		if err != nil {
			return nil, err
		}
		change.Deleted = deleted
	}

	return change, nil
}

// removePaths deletes every stored id equal to or below one of paths, and
// every stored member of an archive that is missing from its fresh listing.
func (c *Coordinator) removePaths(ctx context.Context, paths []string, archives map[string]map[string]struct{}) ([]string, error) {
	ids, err := c.index.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed items: %w", err)
	}

	set := make(map[string]struct{})
	for _, p := range paths {
		for _, id := range harvest.Below(ids, p) {
			set[id] = struct{}{}
		}
	}
	for archive, fresh := range archives {
		prefix := archive + harvest.MemberSeparator
		for _, id := range ids {
			if _, ok := fresh[id]; ok || !strings.HasPrefix(id, prefix) {
				continue
			}
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, nil
	}

	deleted := make([]string, 0, len(set))
	for id := range set {
		deleted = append(deleted, id)
	}
	sort.Strings(deleted)

	if err := c.index.Delete(ctx, deleted); err != nil {
		return nil, fmt.Errorf("failed to delete items: %w", err)
	}
	slog.Debug("removed items", slog.Int("count", len(deleted)))
	return deleted, nil
}

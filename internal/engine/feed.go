package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/index"
	"github.com/Aman-CERP/metafind/internal/watcher"
)

// ChangeFeed reports changes applied to the index while a live session runs.
type ChangeFeed interface {
	// Subscribe starts the feed on g, so waiting on g joins every goroutine
	// that writes to the index. The channel is closed when ctx is done or the
	// feed fails.
	Subscribe(ctx context.Context, g *errgroup.Group) (<-chan index.Change, error)
}

// WatchFeed is a ChangeFeed driven by file-system events: each debounced
// event batch is applied to the index by a Coordinator and the resulting
// change is published.
type WatchFeed struct {
	harvester   *harvest.Harvester
	coordinator *index.Coordinator
	opts        watcher.Options
}

// NewWatchFeed creates a feed watching the harvester's roots. The harvester's
// exclude rules also filter watcher events.
func NewWatchFeed(h *harvest.Harvester, coordinator *index.Coordinator, opts watcher.Options) *WatchFeed {
	if opts.Ignore == nil {
		opts.Ignore = h.Excluded
	}
	return &WatchFeed{harvester: h, coordinator: coordinator, opts: opts}
}

// Subscribe implements ChangeFeed.
func (f *WatchFeed) Subscribe(ctx context.Context, g *errgroup.Group) (<-chan index.Change, error) {
	w, err := watcher.New(f.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		err := w.Start(ctx, f.harvester.Roots()...)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("watcher_stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	changes := make(chan index.Change)
	g.Go(func() error {
		defer close(changes)
		defer func() { _ = w.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-done:
				return nil
			case err, ok := <-w.Errors():
				if !ok {
					return nil
				}
				slog.Warn("watcher_error", slog.String("error", err.Error()))
			case events, ok := <-w.Events():
				if !ok {
					return nil
				}
				change, err := f.coordinator.HandleEvents(ctx, events)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						slog.Warn("live_update_failed", slog.String("error", err.Error()))
					}
					continue
				}
				if change.Empty() {
					continue
				}
				select {
				case changes <- *change:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	return changes, nil
}

// Package index keeps the store in step with the file system: Runner does
// full harvests into the store, Coordinator applies watcher events.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/metafind/internal/harvest"
	"github.com/Aman-CERP/metafind/internal/item"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/ui"
)

// DefaultBatchSize is the number of items written to the store per Put.
const DefaultBatchSize = 500

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// BatchSize is the number of items per store write (0 = DefaultBatchSize).
	BatchSize int

	// SkipReconcile keeps items whose files were not seen by the scan.
	SkipReconcile bool
}

// RunnerResult contains the outcome of an indexing operation.
type RunnerResult struct {
	// Items is the number of items written.
	Items int

	// Removed is the number of stale items deleted by reconciliation.
	Removed int

	// Duration is the total indexing time.
	Duration time.Duration

	// Warnings counts entries that could not be harvested.
	Warnings int
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Harvester produces the items (required).
	Harvester *harvest.Harvester

	// Index receives the items (required).
	Index store.Index

	// Backend is reported in the completion summary.
	Backend string
}

// Runner executes indexing operations with progress reporting.
type Runner struct {
	renderer  ui.Renderer
	harvester *harvest.Harvester
	index     store.Index
	backend   string
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Harvester == nil {
		return nil, fmt.Errorf("harvester is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	return &Runner{
		renderer:  deps.Renderer,
		harvester: deps.Harvester,
		index:     deps.Index,
		backend:   deps.Backend,
	}, nil
}

// Run harvests every root into the index and then deletes items under the
// roots that no longer exist.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	roots := r.harvester.Roots()

	slog.Info("index_started",
		slog.Any("roots", roots),
		slog.String("backend", r.backend))
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanning %d root(s)...", len(roots)),
	})

	results, err := r.harvester.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}

	var (
		result    RunnerResult
		timing    ui.StageTimings
		batch     = make([]*item.Item, 0, batchSize)
		seen      = make(map[string]struct{})
		scanStart = time.Now()
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		putStart := time.Now()
		if err := r.index.Put(ctx, batch); err != nil {
			return fmt.Errorf("failed to write items: %w", err)
		}
		timing.Index += time.Since(putStart)
		result.Items += len(batch)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageIndexing,
			Current:     result.Items,
			Total:       len(seen),
			CurrentFile: batch[len(batch)-1].ID,
		})
		batch = batch[:0]
		return nil
	}

	for res := range results {
		if res.Err != nil {
			result.Warnings++
			r.renderer.AddError(ui.ErrorEvent{File: res.Path, Err: res.Err, IsWarn: true})
			slog.Debug("harvest_entry_failed",
				slog.String("path", res.Path),
				slog.String("error", res.Err.Error()))
			continue
		}
		seen[res.Item.ID] = struct{}{}
		batch = append(batch, res.Item)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	timing.Scan = time.Since(scanStart) - timing.Index

	if !cfg.SkipReconcile {
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageReconciling,
			Message: "Removing deleted entries...",
		})
		reconcileStart := time.Now()
		removed, err := harvest.Reconcile(ctx, r.index, roots, seen)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to reconcile index: %w", err)
		}
		result.Removed = len(removed)
		timing.Reconcile = time.Since(reconcileStart)
	}

	result.Duration = time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Items:    result.Items,
		Removed:  result.Removed,
		Duration: result.Duration,
		Warnings: result.Warnings,
		Stages:   timing,
		Backend:  r.backend,
	})

	slog.Info("index_complete",
		slog.Int("items", result.Items),
		slog.Int("removed", result.Removed),
		slog.Int("warnings", result.Warnings),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_scan_ms", timing.Scan.Milliseconds()),
		slog.Int64("duration_index_ms", timing.Index.Milliseconds()),
		slog.Int64("duration_reconcile_ms", timing.Reconcile.Milliseconds()))

	return &result, nil
}

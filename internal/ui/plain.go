package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PlainRenderer outputs plain text progress (for CI/pipes). Progress lines
// within a stage are rate limited; stage changes, errors and the summary
// are always written.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	limiter *rate.Limiter
	stage   Stage
	started bool
	errors  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	limit := rate.Inf
	if cfg.PlainInterval > 0 {
		limit = rate.Every(cfg.PlainInterval)
	}
	return &PlainRenderer{
		out:     cfg.Output,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := !r.started || event.Stage != r.stage
	r.started = true
	r.stage = event.Stage

	if !r.limiter.Allow() && !changed {
		return
	}

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case event.Current > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d %s\n", event.Stage.Icon(), event.Current, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors++

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d items indexed, %d removed in %s",
		stats.Items, stats.Removed, stats.Duration.Round(100*time.Millisecond))

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Scan > 0 {
		_, _ = fmt.Fprintf(r.out, "  Scan:      %s\n", stats.Stages.Scan.Round(time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Index:     %s\n", stats.Stages.Index.Round(time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Reconcile: %s\n", stats.Stages.Reconcile.Round(time.Millisecond))
	}
	if stats.Backend != "" {
		_, _ = fmt.Fprintf(r.out, "Backend: %s\n", stats.Backend)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

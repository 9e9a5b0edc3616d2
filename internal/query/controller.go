// Package query runs one search from start to finish: it starts an engine
// session, streams every added item through the formatter into the sink in
// delivery order, enforces the result limit and tears the session down.
//
// A Controller serves exactly one run:
//
//	c := query.NewController(eng, sink.NewStream(os.Stdout, format.XML))
//	if err := c.Configure(format.XML, 10); err != nil { ... }
//	summary, err := c.Run(ctx, "ext:pdf")
//
// Stop may be called from any goroutine, typically a signal handler. The
// run then winds down after the current item and the post-search hook still
// runs, so XML output stays well formed.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/metafind/internal/engine"
	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/format"
	"github.com/Aman-CERP/metafind/internal/item"
	"github.com/Aman-CERP/metafind/internal/sink"
)

// Hooks bracket the item loop. Each runs exactly once per run, PreSearch
// before the session starts and PostSearch after it has been stopped.
type Hooks struct {
	PreSearch  func() error
	PostSearch func() error
}

// Option configures a Controller.
type Option func(*Controller)

// WithFormatter sets the item formatter.
func WithFormatter(f *format.Formatter) Option {
	return func(c *Controller) {
		if f != nil {
			c.formatter = f
		}
	}
}

// WithHooks replaces the default hooks (sink Open and Close). A nil field
// keeps the default for that hook.
func WithHooks(h Hooks) Option {
	return func(c *Controller) {
		if h.PreSearch != nil {
			c.hooks.PreSearch = h.PreSearch
		}
		if h.PostSearch != nil {
			c.hooks.PostSearch = h.PostSearch
		}
	}
}

// WithFollow keeps the run going after the engine finishes gathering, until
// the limit, Stop, cancellation or engine exhaustion.
func WithFollow(follow bool) Option {
	return func(c *Controller) {
		c.follow = follow
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller owns a single search run.
type Controller struct {
	engine    engine.Engine
	sink      sink.Sink
	formatter *format.Formatter
	hooks     Hooks
	follow    bool
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	format format.Format
	limit  int
	count  int

	stopRequested atomic.Bool
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// formatted is implemented by sinks bound to one output format.
type formatted interface {
	Format() format.Format
}

// NewController creates an idle controller writing to snk. The output
// format defaults to the sink's own format when it has one, else PlainText.
func NewController(eng engine.Engine, snk sink.Sink, opts ...Option) *Controller {
	c := &Controller{
		engine:    eng,
		sink:      snk,
		formatter: format.NewFormatter(),
		logger:    slog.Default(),
		format:    format.PlainText,
		stopCh:    make(chan struct{}),
	}
	if f, ok := snk.(formatted); ok {
		c.format = f.Format()
	}
	c.hooks = Hooks{PreSearch: snk.Open, PostSearch: snk.Close}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure sets the output format and the result limit (0 = unbounded).
// It is only allowed before Run.
func (c *Controller) Configure(f format.Format, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return mferrors.InvalidStateError(fmt.Sprintf("cannot configure a controller that is %s", c.state)).
			WithSuggestion("Configure the controller before calling Run")
	}
	if !f.Valid() {
		return mferrors.ValidationError(fmt.Sprintf("unknown output format %d", int(f)), nil)
	}
	if limit < 0 {
		return mferrors.ValidationError(fmt.Sprintf("limit must not be negative, got %d", limit), nil).
			WithSuggestion("Use 0 for no limit")
	}
	if s, ok := c.sink.(formatted); ok && s.Format() != f {
		return mferrors.ValidationError(
			fmt.Sprintf("output format %s does not match the sink format %s", f, s.Format()), nil)
	}

	c.format = f
	c.limit = limit
	return nil
}

// State returns the current run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Count returns the number of items processed so far.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Stop requests early termination. Safe to call from any goroutine, more
// than once, and before Run.
func (c *Controller) Stop() {
	c.stopRequested.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	if c.state == StateRunning {
		c.state = StateStopping
	}
	c.mu.Unlock()
}

// Run executes the search and blocks until it has been torn down. A stop,
// a cancelled context, the limit and engine completion all return a nil
// error. Engine failures return an EngineError after the post-search hook
// has run; sink failures return a SinkError and skip it.
func (c *Controller) Run(ctx context.Context, query string) (Summary, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return Summary{Query: query}, mferrors.InvalidStateError(fmt.Sprintf("cannot run a controller that is %s", state)).
			WithSuggestion("Create a new controller for each search")
	}
	c.state = StateRunning
	if c.stopRequested.Load() {
		c.state = StateStopping
	}
	c.mu.Unlock()

	start := time.Now()
	summary := Summary{Query: query}
	defer func() {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
	}()

	c.logger.Info("search_started",
		slog.String("query", query),
		slog.String("format", c.format.String()),
		slog.Int("limit", c.limit),
		slog.Bool("follow", c.follow))

	err := c.run(ctx, query, &summary)
	summary.Duration = time.Since(start)

	attrs := []any{
		slog.String("session_id", summary.SessionID),
		slog.String("reason", string(summary.Reason)),
		slog.Int("emitted", summary.Emitted),
		slog.Int("removed", summary.Removed),
		slog.Int("batches", summary.Batches),
		slog.Int64("duration_ms", summary.Duration.Milliseconds()),
	}
	if err != nil {
		c.logger.Error("search_failed", append(attrs, mferrors.LogAttrs(err)...)...)
		return summary, err
	}
	c.logger.Info("search_complete", attrs...)
	return summary, nil
}

func (c *Controller) run(ctx context.Context, query string, summary *Summary) error {
	if err := c.hooks.PreSearch(); err != nil {
		summary.Reason = ReasonFailed
		return mferrors.SinkError("failed to open output", err)
	}

	if c.stopRequested.Load() {
		summary.Reason = ReasonStopped
		return c.postSearch(nil)
	}

	session, err := c.engine.Start(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			summary.Reason = ReasonCancelled
			return c.postSearch(nil)
		}
		summary.Reason = ReasonFailed
		return c.postSearch(mferrors.EngineError("failed to start search", err))
	}
	summary.SessionID = session.ID()

	reason, loopErr := c.consume(ctx, session, summary)
	summary.Reason = reason

	c.mu.Lock()
	if c.state == StateRunning {
		c.state = StateStopping
	}
	c.mu.Unlock()
	session.Stop()

	if mferrors.GetCode(loopErr) == mferrors.ErrCodeOutputWrite {
		return loopErr
	}
	return c.postSearch(loopErr)
}

// postSearch runs the post-search hook. A hook failure is reported unless
// an earlier error takes precedence.
func (c *Controller) postSearch(prior error) error {
	if err := c.hooks.PostSearch(); err != nil {
		if prior != nil {
			c.logger.Warn("post_search_failed", slog.String("error", err.Error()))
			return prior
		}
		return mferrors.SinkError("failed to finalize output", err)
	}
	return prior
}

// consume processes batches until the run ends.
func (c *Controller) consume(ctx context.Context, session engine.Session, summary *Summary) (Reason, error) {
	batches := session.Batches()
	for {
		select {
		case <-c.stopCh:
			return ReasonStopped, nil
		case <-ctx.Done():
			return ReasonCancelled, nil
		case b, ok := <-batches:
			if !ok {
				return ReasonExhausted, nil
			}
			summary.Batches++

			if b.Err != nil {
				return ReasonFailed, mferrors.EngineError("search session failed", b.Err).
					WithDetail("session_id", session.ID())
			}
			if len(b.Removed) > 0 {
				summary.Removed += len(b.Removed)
				c.logger.Debug("items_removed",
					slog.String("session_id", session.ID()),
					slog.Any("ids", item.IDs(b.Removed)))
			}

			for _, it := range b.Added {
				if reason, done := c.checkStop(); done {
					return reason, nil
				}
				if err := c.emit(it); err != nil {
					return ReasonFailed, err
				}
				summary.Emitted++
			}
			if reason, done := c.checkStop(); done {
				return reason, nil
			}

			if b.Finished && !c.follow {
				return ReasonFinished, nil
			}
		}
	}
}

// checkStop reports whether the run must end before the next item.
func (c *Controller) checkStop() (Reason, bool) {
	if c.stopRequested.Load() {
		return ReasonStopped, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.count >= c.limit {
		return ReasonLimit, true
	}
	return "", false
}

// emit counts, formats and writes one item. Reaching the limit moves the
// run to Stopping.
func (c *Controller) emit(it *item.Item) error {
	c.mu.Lock()
	c.count++
	if c.limit > 0 && c.count == c.limit && c.state == StateRunning {
		c.state = StateStopping
	}
	f := c.format
	c.mu.Unlock()

	if err := c.sink.Write(c.formatter.Format(it, f)); err != nil {
		return mferrors.SinkError("failed to write result", err)
	}
	return nil
}

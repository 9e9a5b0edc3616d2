package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/metafind/internal/index"
	"github.com/Aman-CERP/metafind/internal/item"
	"github.com/Aman-CERP/metafind/internal/store"
)

// DefaultBatchSize is the page size used while gathering.
const DefaultBatchSize = 100

// Option configures an IndexEngine.
type Option func(*IndexEngine)

// WithBatchSize sets the gathering page size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(e *IndexEngine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithFeed enables live mode: after gathering, sessions follow changes
// published by feed.
func WithFeed(feed ChangeFeed) Option {
	return func(e *IndexEngine) {
		e.feed = feed
	}
}

// IndexEngine runs sessions against a store.Index.
type IndexEngine struct {
	index     store.Index
	batchSize int
	feed      ChangeFeed
}

// NewIndexEngine creates an engine over idx.
func NewIndexEngine(idx store.Index, opts ...Option) *IndexEngine {
	e := &IndexEngine{index: idx, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Live reports whether sessions keep running after gathering.
func (e *IndexEngine) Live() bool {
	return e.feed != nil
}

// Start implements Engine. In live mode the feed is subscribed before
// gathering begins so that no change is missed in between.
func (e *IndexEngine) Start(ctx context.Context, query string) (Session, error) {
	if e.index == nil {
		return nil, fmt.Errorf("no index configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	var changes <-chan index.Change
	if e.feed != nil {
		ch, err := e.feed.Subscribe(gctx, g)
		if err != nil {
			cancel()
			_ = g.Wait()
			return nil, fmt.Errorf("failed to start live updates: %w", err)
		}
		changes = ch
	}

	s := &session{
		id:      uuid.NewString(),
		query:   query,
		index:   e.index,
		size:    e.batchSize,
		batches: make(chan Batch),
		matched: make(map[string]struct{}),
		cancel:  cancel,
	}

	s.group = g
	g.Go(func() error {
		defer close(s.batches)
		return s.run(gctx, changes)
	})

	slog.Debug("session_started",
		slog.String("session_id", s.id),
		slog.String("query", query),
		slog.Bool("live", changes != nil))
	return s, nil
}

type session struct {
	id      string
	query   string
	index   store.Index
	size    int
	batches chan Batch

	// matched holds the ids delivered as Added and not yet Removed.
	matched  map[string]struct{}
	finished atomic.Bool

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

func (s *session) ID() string            { return s.id }
func (s *session) Query() string         { return s.query }
func (s *session) Batches() <-chan Batch { return s.batches }
func (s *session) Finished() bool        { return s.finished.Load() }

// Stop implements Session.
func (s *session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		_ = s.group.Wait()
		slog.Debug("session_stopped", slog.String("session_id", s.id))
	})
}

func (s *session) run(ctx context.Context, changes <-chan index.Change) error {
	if err := s.gather(ctx); err != nil {
		return err
	}
	s.finished.Store(true)
	if !s.send(ctx, Batch{Finished: true}) {
		return ctx.Err()
	}

	if changes == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if err := s.apply(ctx, change); err != nil {
				return err
			}
		}
	}
}

// gather pages through every stored match.
func (s *session) gather(ctx context.Context) error {
	for from := 0; ; {
		page, err := s.index.Search(ctx, s.query, from, s.size)
		if err != nil {
			return s.fail(ctx, fmt.Errorf("search failed: %w", err))
		}
		if len(page.Items) == 0 {
			return nil
		}
		for _, it := range page.Items {
			s.matched[it.ID] = struct{}{}
		}
		if !s.send(ctx, Batch{Added: page.Items}) {
			return ctx.Err()
		}
		from += len(page.Items)
		if from >= page.Total {
			return nil
		}
	}
}

// apply turns an index change into Added/Removed notifications.
func (s *session) apply(ctx context.Context, change index.Change) error {
	var batch Batch

	if len(change.Upserted) > 0 {
		ids, err := s.index.Match(ctx, s.query, item.IDs(change.Upserted))
		if err != nil {
			return s.fail(ctx, fmt.Errorf("match failed: %w", err))
		}
		now := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			now[id] = struct{}{}
		}
		for _, it := range change.Upserted {
			_, was := s.matched[it.ID]
			_, is := now[it.ID]
			switch {
			case is && !was:
				s.matched[it.ID] = struct{}{}
				batch.Added = append(batch.Added, it)
			case was && !is:
				delete(s.matched, it.ID)
				batch.Removed = append(batch.Removed, it)
			}
		}
	}

	for _, id := range change.Deleted {
		if _, was := s.matched[id]; was {
			delete(s.matched, id)
			batch.Removed = append(batch.Removed, item.New(id))
		}
	}

	if len(batch.Added) == 0 && len(batch.Removed) == 0 {
		return nil
	}
	if !s.send(ctx, batch) {
		return ctx.Err()
	}
	return nil
}

// fail delivers err to the consumer and ends the session.
func (s *session) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("session_failed",
		slog.String("session_id", s.id),
		slog.String("error", err.Error()))
	s.send(ctx, Batch{Err: err})
	return err
}

func (s *session) send(ctx context.Context, b Batch) bool {
	select {
	case s.batches <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Engine = (*IndexEngine)(nil)

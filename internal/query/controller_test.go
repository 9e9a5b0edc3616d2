package query

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/metafind/internal/engine"
	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/format"
	"github.com/Aman-CERP/metafind/internal/item"
	"github.com/Aman-CERP/metafind/internal/sink"
)

// fakeEngine replays a fixed list of batches.
type fakeEngine struct {
	batches  []engine.Batch
	startErr error
	// keepOpen leaves the channel open after the last batch, like a live
	// session with nothing new to report.
	keepOpen bool

	mu       sync.Mutex
	sessions []*fakeSession
}

func (e *fakeEngine) Start(_ context.Context, query string) (engine.Session, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	s := &fakeSession{
		query:   query,
		ch:      make(chan engine.Batch),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()

	// The session only ends on Stop, so the controller alone decides how
	// cancellation is reported.
	go func() {
		defer close(s.done)
		defer close(s.ch)
		for _, b := range e.batches {
			select {
			case s.ch <- b:
			case <-s.stopped:
				return
			}
		}
		if e.keepOpen {
			<-s.stopped
		}
	}()
	return s, nil
}

func (e *fakeEngine) session(t *testing.T) *fakeSession {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.sessions, 1)
	return e.sessions[0]
}

type fakeSession struct {
	query     string
	ch        chan engine.Batch
	stopped   chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	stopCalls int
}

func (s *fakeSession) ID() string                   { return "session-1" }
func (s *fakeSession) Query() string                { return s.query }
func (s *fakeSession) Batches() <-chan engine.Batch { return s.ch }
func (s *fakeSession) Finished() bool               { return false }

func (s *fakeSession) Stop() {
	s.stopCalls++
	s.stopOnce.Do(func() { close(s.stopped) })
	<-s.done
}

// failingWriter fails every write after the first ok writes.
type failingWriter struct {
	ok     int
	writes int
	buf    bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.ok {
		return 0, errors.New("broken pipe")
	}
	return w.buf.Write(p)
}

func items(ids ...string) []*item.Item {
	out := make([]*item.Item, len(ids))
	for i, id := range ids {
		out[i] = item.New(id).Set(item.AttrPath, item.String(id))
	}
	return out
}

func numberedItems(n int) []*item.Item {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("/r/%03d", i)
	}
	return items(ids...)
}

// oneBatch delivers all items in a single batch followed by Finished.
func oneBatch(its []*item.Item) []engine.Batch {
	return []engine.Batch{{Added: its}, {Finished: true}}
}

func newRun(t *testing.T, eng engine.Engine, f format.Format, limit int, opts ...Option) (*Controller, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	c := NewController(eng, sink.NewStream(buf, f), opts...)
	require.NoError(t, c.Configure(f, limit))
	return c, buf
}

func requireWellFormedXML(t *testing.T, data []byte) int {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth, count := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		require.NoError(t, err, "output:\n%s", data)
		switch tok := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && tok.Name.Local == "item" {
				count++
			}
		case xml.EndElement:
			depth--
		}
	}
	require.Zero(t, depth, "unbalanced document:\n%s", data)
	return count
}

func TestController_LimitTwoOfThreeInOneBatch_PlainText(t *testing.T) {
	// Given: A, B and C delivered in one batch and a limit of two
	eng := &fakeEngine{batches: oneBatch(items("A", "B", "C"))}
	c, buf := newRun(t, eng, format.PlainText, 2)

	// When: running
	summary, err := c.Run(context.Background(), "q")

	// Then: exactly A and B are written and C is never formatted
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", buf.String())
	assert.Equal(t, 2, summary.Emitted)
	assert.Equal(t, ReasonLimit, summary.Reason)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, 1, eng.session(t).stopCalls)
}

func TestController_EmitsMinOfLimitAndResults(t *testing.T) {
	for _, n := range []int{0, 1, 5, 12} {
		for _, limit := range []int{0, 1, 3, 5, 20} {
			for _, perBatch := range []int{1, 4, 100} {
				t.Run(fmt.Sprintf("n=%d/limit=%d/batch=%d", n, limit, perBatch), func(t *testing.T) {
					// Given: n items split into batches
					all := numberedItems(n)
					var batches []engine.Batch
					for i := 0; i < n; i += perBatch {
						batches = append(batches, engine.Batch{Added: all[i:min(i+perBatch, n)]})
					}
					batches = append(batches, engine.Batch{Finished: true})
					c, buf := newRun(t, &fakeEngine{batches: batches}, format.PlainText, limit)

					// When: running
					summary, err := c.Run(context.Background(), "")
					require.NoError(t, err)

					// Then: min(limit, n) lines in delivery order, all of them when unlimited
					want := n
					if limit > 0 {
						want = min(limit, n)
					}
					var expected strings.Builder
					for _, it := range all[:want] {
						expected.WriteString(it.ID + "\n")
					}
					assert.Equal(t, expected.String(), buf.String())
					assert.Equal(t, want, summary.Emitted)
				})
			}
		}
	}
}

func TestController_XMLWellFormed(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{"no results", 0},
		{"one result", 1},
		{"many results", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{batches: oneBatch(numberedItems(tt.n))}
			c, buf := newRun(t, eng, format.XML, 0)

			_, err := c.Run(context.Background(), "")

			require.NoError(t, err)
			assert.Equal(t, tt.n, requireWellFormedXML(t, buf.Bytes()))
		})
	}
}

func TestController_ZeroMatchesXML_IsDeclarationAndEmptyRoot(t *testing.T) {
	c, buf := newRun(t, &fakeEngine{batches: oneBatch(nil)}, format.XML, 0)

	summary, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, xml.Header+"<results>\n</results>\n", buf.String())
	assert.Equal(t, ReasonFinished, summary.Reason)
}

func TestController_NullDelimited_KeepsNewlines(t *testing.T) {
	// Given: paths with embedded newlines
	its := items("/a\nb", "/c", "/d\r\ne")
	c, buf := newRun(t, &fakeEngine{batches: oneBatch(its)}, format.NullDelimited, 0)

	// When: running
	_, err := c.Run(context.Background(), "")

	// Then: exactly one NUL per record and content intact
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte{0}))
	assert.Equal(t, "/a\nb\x00/c\x00/d\r\ne\x00", buf.String())
}

func TestController_ZeroAttributeItems(t *testing.T) {
	tests := []struct {
		format format.Format
		want   string
	}{
		{format.PlainText, "bare\n"},
		{format.NullDelimited, "bare\x00"},
		{format.XML, xml.Header + "<results>\n  <item id=\"bare\"></item>\n</results>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			eng := &fakeEngine{batches: oneBatch([]*item.Item{item.New("bare")})}
			c, buf := newRun(t, eng, tt.format, 0)

			_, err := c.Run(context.Background(), "")

			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestController_StopBeforeRun_EmptyWellFormedXML(t *testing.T) {
	// Given: a controller stopped before it ran
	eng := &fakeEngine{batches: oneBatch(items("A"))}
	c, buf := newRun(t, eng, format.XML, 0)
	c.Stop()

	// When: running
	summary, err := c.Run(context.Background(), "")

	// Then: normal termination with an empty document and no session
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, summary.Reason)
	assert.Zero(t, requireWellFormedXML(t, buf.Bytes()))
	assert.Empty(t, eng.sessions)
	assert.Equal(t, mferrors.ExitOK, mferrors.ExitCode(err))
}

func TestController_StopDuringLiveRun(t *testing.T) {
	// Given: a follow-mode run over a session that never ends on its own
	eng := &fakeEngine{batches: oneBatch(items("A", "B")), keepOpen: true}
	c, buf := newRun(t, eng, format.XML, 0, WithFollow(true))

	done := make(chan struct{})
	var summary Summary
	var err error
	go func() {
		defer close(done)
		summary, err = c.Run(context.Background(), "")
	}()

	// When: both items are out and Stop is called
	require.Eventually(t, func() bool { return c.Count() == 2 }, 5*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	// Then: the run ends cleanly with a complete document
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.NoError(t, err)
	assert.Equal(t, ReasonStopped, summary.Reason)
	assert.Equal(t, 2, requireWellFormedXML(t, buf.Bytes()))
	assert.Equal(t, StateStopped, c.State())
}

func TestController_ContextCancelIsNormalTermination(t *testing.T) {
	eng := &fakeEngine{batches: oneBatch(items("A")), keepOpen: true}
	c, buf := newRun(t, eng, format.XML, 0, WithFollow(true))
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		assert.Eventually(t, func() bool { return c.Count() == 1 }, 5*time.Second, 5*time.Millisecond)
		cancel()
	}()
	summary, err := c.Run(ctx, "")

	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, summary.Reason)
	assert.Equal(t, 1, requireWellFormedXML(t, buf.Bytes()))
}

func TestController_FinishedWithoutFollow_EndsRun(t *testing.T) {
	// Given: an engine that would send more after Finished
	eng := &fakeEngine{batches: []engine.Batch{
		{Added: items("A")},
		{Finished: true},
		{Added: items("late")},
	}}
	c, buf := newRun(t, eng, format.PlainText, 0)

	summary, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "A\n", buf.String())
	assert.Equal(t, ReasonFinished, summary.Reason)
}

func TestController_Follow_ContinuesUntilExhausted(t *testing.T) {
	// Given: live additions and a removal after gathering
	eng := &fakeEngine{batches: []engine.Batch{
		{Added: items("A")},
		{Finished: true},
		{Added: items("B")},
		{Removed: items("A")},
	}}
	c, buf := newRun(t, eng, format.PlainText, 0, WithFollow(true))

	// When: running until the engine closes its channel
	summary, err := c.Run(context.Background(), "")

	// Then: additions are streamed and removals only counted
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", buf.String())
	assert.Equal(t, ReasonExhausted, summary.Reason)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 4, summary.Batches)
	assert.Equal(t, "session-1", summary.SessionID)
}

func TestController_Follow_StopsAtLimit(t *testing.T) {
	eng := &fakeEngine{batches: []engine.Batch{
		{Added: items("A")},
		{Finished: true},
		{Added: items("B", "C")},
	}, keepOpen: true}
	c, buf := newRun(t, eng, format.PlainText, 2, WithFollow(true))

	summary, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", buf.String())
	assert.Equal(t, ReasonLimit, summary.Reason)
}

func TestController_EngineBatchError(t *testing.T) {
	// Given: an engine that fails after one item
	cause := errors.New("index corrupted")
	eng := &fakeEngine{batches: []engine.Batch{{Added: items("A")}, {Err: cause}}}
	c, buf := newRun(t, eng, format.XML, 0)

	// When: running
	summary, err := c.Run(context.Background(), "")

	// Then: an EngineError is returned and the document is still closed
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, mferrors.ErrCodeSearchFailed, mferrors.GetCode(err))
	assert.Equal(t, mferrors.ExitEngine, mferrors.ExitCode(err))
	assert.Equal(t, ReasonFailed, summary.Reason)
	assert.Equal(t, 1, requireWellFormedXML(t, buf.Bytes()))
	assert.Equal(t, 1, eng.session(t).stopCalls)
}

func TestController_EngineStartError(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("no index")}
	c, buf := newRun(t, eng, format.XML, 0)

	_, err := c.Run(context.Background(), "")

	assert.Equal(t, mferrors.ErrCodeSearchFailed, mferrors.GetCode(err))
	assert.Zero(t, requireWellFormedXML(t, buf.Bytes()))
}

func TestController_SinkWriteError_SkipsPostSearch(t *testing.T) {
	// Given: an output that accepts one record and then fails
	w := &failingWriter{ok: 1}
	eng := &fakeEngine{batches: oneBatch(items("A", "B", "C"))}
	postCalls := 0
	c := NewController(eng, sink.NewStream(w, format.PlainText), WithHooks(Hooks{
		PostSearch: func() error { postCalls++; return nil },
	}))

	// When: running
	summary, err := c.Run(context.Background(), "")

	// Then: a SinkError aborts the run without the post-search hook
	require.Error(t, err)
	assert.Equal(t, mferrors.ErrCodeOutputWrite, mferrors.GetCode(err))
	assert.Equal(t, mferrors.ExitSink, mferrors.ExitCode(err))
	assert.Zero(t, postCalls)
	assert.Equal(t, "A\n", w.buf.String())
	assert.Equal(t, 1, summary.Emitted)
	assert.Equal(t, 1, eng.session(t).stopCalls)
}

func TestController_PreSearchError(t *testing.T) {
	eng := &fakeEngine{batches: oneBatch(items("A"))}
	w := &failingWriter{ok: 0}
	c := NewController(eng, sink.NewStream(w, format.XML))

	_, err := c.Run(context.Background(), "")

	assert.Equal(t, mferrors.ErrCodeOutputWrite, mferrors.GetCode(err))
	assert.Empty(t, eng.sessions)
}

func TestController_PostSearchError(t *testing.T) {
	eng := &fakeEngine{batches: oneBatch(items("A"))}
	c, _ := newRun(t, eng, format.PlainText, 0, WithHooks(Hooks{
		PostSearch: func() error { return errors.New("flush failed") },
	}))

	_, err := c.Run(context.Background(), "")

	assert.Equal(t, mferrors.ErrCodeOutputWrite, mferrors.GetCode(err))
}

func TestController_HooksRunOnceInOrder(t *testing.T) {
	var calls []string
	eng := &fakeEngine{batches: oneBatch(items("A", "B"))}
	buf := &bytes.Buffer{}
	snk := sink.NewStream(buf, format.PlainText)
	c := NewController(eng, snk, WithHooks(Hooks{
		PreSearch:  func() error { calls = append(calls, "pre"); return snk.Open() },
		PostSearch: func() error { calls = append(calls, "post"); return snk.Close() },
	}))

	_, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "post"}, calls)
	assert.Equal(t, 2, snk.Count())
}

func TestController_RunTwice_InvalidState(t *testing.T) {
	c, _ := newRun(t, &fakeEngine{batches: oneBatch(nil)}, format.PlainText, 0)
	_, err := c.Run(context.Background(), "")
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "")

	assert.Equal(t, mferrors.ErrCodeInvalidState, mferrors.GetCode(err))
	assert.Equal(t, mferrors.ExitUsage, mferrors.ExitCode(err))
}

func TestController_Configure(t *testing.T) {
	t.Run("after run is invalid state", func(t *testing.T) {
		c, _ := newRun(t, &fakeEngine{batches: oneBatch(nil)}, format.PlainText, 0)
		_, err := c.Run(context.Background(), "")
		require.NoError(t, err)

		err = c.Configure(format.PlainText, 1)

		assert.Equal(t, mferrors.ErrCodeInvalidState, mferrors.GetCode(err))
	})

	t.Run("while running is invalid state", func(t *testing.T) {
		eng := &fakeEngine{batches: oneBatch(items("A")), keepOpen: true}
		c, _ := newRun(t, eng, format.PlainText, 0, WithFollow(true))
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = c.Run(context.Background(), "")
		}()
		require.Eventually(t, func() bool { return c.Count() == 1 }, 5*time.Second, 5*time.Millisecond)

		err := c.Configure(format.PlainText, 5)

		assert.Equal(t, mferrors.ErrCodeInvalidState, mferrors.GetCode(err))
		c.Stop()
		<-done
	})

	tests := []struct {
		name   string
		format format.Format
		limit  int
	}{
		{"negative limit", format.PlainText, -1},
		{"unknown format", format.Format(42), 0},
		{"format differs from sink", format.XML, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(&fakeEngine{}, sink.NewStream(&bytes.Buffer{}, format.PlainText))

			err := c.Configure(tt.format, tt.limit)

			assert.Equal(t, mferrors.ErrCodeInvalidInput, mferrors.GetCode(err))
			assert.Equal(t, StateIdle, c.State())
		})
	}
}

func TestController_DefaultsToSinkFormat(t *testing.T) {
	// Given: an XML sink and no Configure call
	buf := &bytes.Buffer{}
	c := NewController(&fakeEngine{batches: oneBatch(items("A"))}, sink.NewStream(buf, format.XML))

	_, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, 1, requireWellFormedXML(t, buf.Bytes()))
}

func TestController_WithFormatter(t *testing.T) {
	its := []*item.Item{item.New("/x/a.txt").Set(item.AttrName, item.String("a.txt"))}
	f := format.NewFormatter()
	f.DisplayAttribute = item.AttrName
	c, buf := newRun(t, &fakeEngine{batches: oneBatch(its)}, format.PlainText, 0, WithFormatter(f))

	_, err := c.Run(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "a.txt\n", buf.String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}

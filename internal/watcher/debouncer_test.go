package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(timeout):
		t.Fatal("timeout waiting for debounced events")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: a single event is added
	d.Add(FileEvent{Path: "/r/test.txt", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it passes through after the window
	events := receive(t, d, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, "/r/test.txt", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_RepeatedModify_Coalesces(t *testing.T) {
	d := NewDebouncer(80 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "/r/a", Operation: OpModify})
		time.Sleep(5 * time.Millisecond)
	}

	events := receive(t, d, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_CreateThenDelete_EmitsNothing(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: a file is created and removed within one window
	d.Add(FileEvent{Path: "/r/tmp", Operation: OpCreate})
	d.Add(FileEvent{Path: "/r/tmp", Operation: OpDelete})

	// Then: nothing is pending and nothing is emitted
	assert.Zero(t, d.Pending())
	select {
	case events := <-d.Output():
		t.Fatalf("unexpected events: %v", events)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMerge_Rules(t *testing.T) {
	tests := []struct {
		name       string
		prev, next Operation
		want       Operation
		keep       bool
	}{
		{"create+modify", OpCreate, OpModify, OpCreate, true},
		{"create+delete", OpCreate, OpDelete, 0, false},
		{"modify+modify", OpModify, OpModify, OpModify, true},
		{"modify+delete", OpModify, OpDelete, OpDelete, true},
		{"delete+create", OpDelete, OpCreate, OpModify, true},
		{"delete+delete", OpDelete, OpDelete, OpDelete, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, keep := merge(tt.prev, tt.next)
			assert.Equal(t, tt.keep, keep)
			if tt.keep {
				assert.Equal(t, tt.want, op)
			}
		})
	}
}

func TestDebouncer_Batch_IsSortedByPath(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/r/c", Operation: OpModify})
	d.Add(FileEvent{Path: "/r/a", Operation: OpCreate})
	d.Add(FileEvent{Path: "/r/b", Operation: OpDelete})

	events := receive(t, d, time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, "/r/a", events[0].Path)
	assert.Equal(t, "/r/b", events[1].Path)
	assert.Equal(t, "/r/c", events[2].Path)
}

func TestDebouncer_Stop_ClosesOutputAndIgnoresAdds(t *testing.T) {
	// Given: a stopped debouncer
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Stop()

	// When: adding after stop
	d.Add(FileEvent{Path: "/r/a", Operation: OpCreate})

	// Then: the output is closed and nothing is pending
	_, ok := <-d.Output()
	assert.False(t, ok)
	assert.Zero(t, d.Pending())
}

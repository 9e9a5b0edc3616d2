package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if !strings.Contains(dir, ".metafind") || filepath.Base(dir) != "logs" {
		t.Errorf("DefaultLogDir should end with .metafind/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	if got := filepath.Base(DefaultLogPath()); got != "metafind.log" {
		t.Errorf("DefaultLogPath should end with metafind.log, got: %s", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if DebugConfig().Level != "debug" {
		t.Errorf("expected debug level in DebugConfig")
	}
}

func TestSetup_WritesJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  3,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Debug("search_started", "query", "ext:pdf")
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	entry := parseLine(strings.TrimSpace(string(content)))
	if !entry.IsValid || entry.Msg != "search_started" || entry.Attrs["query"] != "ext:pdf" {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestSetup_RequiresPath(t *testing.T) {
	if _, _, err := Setup(Config{Level: "info"}); err == nil {
		t.Error("expected error for empty file path")
	}
}

func TestTeeHandler_LevelsPerSide(t *testing.T) {
	var file, stderr bytes.Buffer
	h := &teeHandler{
		primary:   stderrHandler(&file, slog.LevelDebug),
		secondary: stderrHandler(&stderr, slog.LevelWarn),
	}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled through the primary handler")
	}

	logger := slog.New(h).With("component", "test")
	logger.Debug("detail")
	logger.Warn("problem")

	if !strings.Contains(file.String(), "detail") || !strings.Contains(file.String(), "problem") {
		t.Errorf("primary should receive both records, got: %q", file.String())
	}
	if strings.Contains(stderr.String(), "detail") || !strings.Contains(stderr.String(), "problem") {
		t.Errorf("secondary should receive only the warning, got: %q", stderr.String())
	}
}

func TestSetupStderr(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	SetupStderr(&buf, "warn")
	slog.Info("hidden")
	slog.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected stderr output: %q", buf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
	}

	for _, tc := range tests {
		if got := LevelFromString(tc.input).String(); got != tc.expected {
			t.Errorf("LevelFromString(%q) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, l := range []string{"debug", "INFO", "warning", "error"} {
		if !ValidLevel(l) {
			t.Errorf("ValidLevel(%q) = false", l)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true")
	}
}

func TestFindLogFile(t *testing.T) {
	if _, err := FindLogFile("/nonexistent/path/to/log.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	path := filepath.Join(t.TempDir(), "x.log")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(path)
	if err != nil || got != path {
		t.Errorf("FindLogFile(%q) = %q, %v", path, got, err)
	}
}

// ============================================================================
// Viewer Tests
// ============================================================================

const sampleLog = `{"time":"2026-01-02T10:00:00.5Z","level":"DEBUG","msg":"session_started","session_id":"s1"}
{"time":"2026-01-02T10:00:01Z","level":"INFO","msg":"search_complete","emitted":3,"reason":"limit"}
not json at all
{"time":"2026-01-02T10:00:02Z","level":"ERROR","msg":"search_failed","error":"boom"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metafind.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestViewer_Tail(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})

	entries, err := v.Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].IsValid || entries[0].Raw != "not json at all" {
		t.Errorf("first entry should be the raw line, got %+v", entries[0])
	}
	if entries[1].Msg != "search_failed" {
		t.Errorf("second entry should be search_failed, got %q", entries[1].Msg)
	}
}

func TestViewer_Tail_Filters(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		want []string
	}{
		{"level", ViewerConfig{Level: "info"}, []string{"search_complete", "", "search_failed"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`session_`)}, []string{"session_started"}},
		{"both", ViewerConfig{Level: "error", Pattern: regexp.MustCompile(`boom`)}, []string{"search_failed"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.NoColor = true
			entries, err := NewViewer(tc.cfg, &bytes.Buffer{}).Tail(path, 0)
			if err != nil {
				t.Fatalf("Tail failed: %v", err)
			}
			var got []string
			for _, e := range entries {
				got = append(got, e.Msg)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestViewer_Tail_NonexistentFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
	if _, err := v.Tail("/nonexistent/metafind.log", 10); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	entry := parseLine(`{"time":"2026-01-02T10:00:01.25Z","level":"INFO","msg":"search_complete","reason":"limit","emitted":3}`)

	got := v.FormatEntry(entry)

	want := "10:00:01.250 INFO  search_complete emitted=3 reason=limit"
	if got != want {
		t.Errorf("FormatEntry() = %q, want %q", got, want)
	}
	if raw := v.FormatEntry(parseLine("plain text")); raw != "plain text" {
		t.Errorf("raw line should pass through, got %q", raw)
	}
}

func TestViewer_Print(t *testing.T) {
	var out bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &out)

	v.Print([]LogEntry{parseLine("one"), parseLine("two")})

	if out.String() != "one\ntwo\n" {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestViewer_Follow(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 10)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"time":"2026-01-02T11:00:00Z","level":"INFO","msg":"ignored"}` + "\n")
	_, _ = f.WriteString(`{"time":"2026-01-02T11:00:01Z","level":"WARN","msg":"watcher_error"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "watcher_error" {
			t.Errorf("expected only the warning, got %q", e.Msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no entry received")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned %v", err)
	}
}

// ============================================================================
// Writer Rotation Tests
// ============================================================================

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	// 0 MB rotates before every write
	w, err := NewRotatingWriter(logPath, 0, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	for _, s := range []string{"first\n", "second\n"} {
		if _, err := w.Write([]byte(s)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	current, _ := os.ReadFile(logPath)
	rotated, _ := os.ReadFile(logPath + ".1")
	if string(current) != "second\n" || string(rotated) != "first\n" {
		t.Errorf("unexpected contents: current=%q rotated=%q", current, rotated)
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "maxfiles.log")
	w, err := NewRotatingWriter(logPath, 0, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, _ = fmt.Fprintf(w, "line %d\n", i)
	}

	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Errorf("rotated file .2 should exist: %v", err)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist (beyond maxFiles)")
	}
	newest, _ := os.ReadFile(logPath + ".1")
	if string(newest) != "line 3\n" {
		t.Errorf(".1 should hold the previous write, got %q", newest)
	}
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "append.log")
	if err := os.WriteFile(logPath, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	_, _ = w.Write([]byte("new\n"))
	if err := w.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if _, err := w.Write([]byte("late\n")); err == nil {
		t.Error("write after close should fail")
	}

	content, _ := os.ReadFile(logPath)
	if string(content) != "old\nnew\n" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = fmt.Fprintf(w, `{"id":%d,"iter":%d}`+"\n", id, j)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if n := strings.Count(string(content), "\n"); n != 1000 {
		t.Errorf("expected 1000 lines, got %d", n)
	}
}

package dispatch

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oils-for-unix/wwz/internal/archive"
	"github.com/oils-for-unix/wwz/internal/cache"
)

func TestNewRequiresLogger(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := New(Options{Logger: quietLogger(), TraceLimit: -1}); err == nil {
		t.Fatalf("expected error for negative trace limit")
	}
}

func TestServeWritesRequestAndTraceRecords(t *testing.T) {
	env := newTestEnv(t, siteFiles, nil)

	em := env.serve(t, env.request(http.MethodGet, "/a/b.txt"))
	if em.status != http.StatusOK || em.body.String() != "bee" {
		t.Fatalf("unexpected response %d %q", em.status, em.body.String())
	}

	reqRows, reqFlushes := env.requests.snapshot()
	if len(reqRows) != 1 || reqFlushes != 1 {
		t.Fatalf("expected one flushed request row, got %d rows %d flushes", len(reqRows), reqFlushes)
	}
	row := reqRows[0]
	if diff := cmp.Diff([]string{"req-1", "1", "test-worker", "/site.wwz/a/b.txt"}, []string{row[0], row[1], row[2], row[4]}); diff != "" {
		t.Fatalf("request row mismatch (-want +got):\n%s", diff)
	}

	traceRows, traceFlushes := env.traces.snapshot()
	if traceFlushes != 1 {
		t.Fatalf("expected trace flush, got %d", traceFlushes)
	}
	want := []string{"cache-check", "cache-miss", "cache-open", "data-read", "response-sent"}
	if diff := cmp.Diff(want, eventNames(traceRows)); diff != "" {
		t.Fatalf("trace events mismatch (-want +got):\n%s", diff)
	}
	for _, r := range traceRows {
		if r[0] != "req-1" || r[1] != "1" {
			t.Fatalf("trace row not keyed by request: %v", r)
		}
	}
}

func TestServeSequenceAndDefaults(t *testing.T) {
	env := newTestEnv(t, siteFiles, nil)

	req := env.request(http.MethodGet, "/notes")
	req.UniqueID = ""
	env.serve(t, req)
	env.serve(t, env.request(http.MethodGet, "/notes"))

	rows, _ := env.requests.snapshot()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "-" || rows[0][1] != "1" || rows[1][1] != "2" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if got := env.app.Snapshot().Requests; got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestServeHeadOmitsBody(t *testing.T) {
	env := newTestEnv(t, siteFiles, nil)

	em := env.serve(t, env.request(http.MethodHead, "/a/b.txt"))
	if em.status != http.StatusOK || em.body.Len() != 0 {
		t.Fatalf("unexpected HEAD response %d %q", em.status, em.body.String())
	}
	if em.get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("HEAD should keep headers, got %v", em.header)
	}
	rows, _ := env.traces.snapshot()
	for _, name := range eventNames(rows) {
		if name == "data-read" {
			t.Fatalf("HEAD should not read entry data")
		}
	}
}

func TestServeRedirectStillLogs(t *testing.T) {
	env := newTestEnv(t, siteFiles, nil)

	em := env.serve(t, env.request(http.MethodGet, "/a/"))
	if em.status != http.StatusFound || em.calls != 1 {
		t.Fatalf("expected one 302, got %d (%d calls)", em.status, em.calls)
	}
	if !strings.Contains(em.body.String(), "302 Found") {
		t.Fatalf("redirect body should be written, got %q", em.body.String())
	}
	rows, flushes := env.requests.snapshot()
	if len(rows) != 1 || flushes != 1 {
		t.Fatalf("expected one flushed request row")
	}
}

func exceptionFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "exception.*.txt"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestServeUnexpectedErrorWritesException(t *testing.T) {
	env := newTestEnv(t, siteFiles, func(o *Options) {
		o.Cache = cache.New(cache.WithOpener(func(string) (*archive.Handle, error) {
			return nil, errors.New("disk on fire")
		}))
	})

	em := &recordEmitter{}
	err := env.app.Serve(env.request(http.MethodGet, "/notes"), em)
	if err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("expected unexpected error, got %v", err)
	}
	if em.calls != 0 {
		t.Fatalf("no response should be emitted on unexpected error")
	}

	files := exceptionFiles(t, env.logDir)
	if len(files) != 1 {
		t.Fatalf("expected one exception file, got %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read exception: %v", err)
	}
	for _, want := range []string{"req-1", "/site.wwz/notes", "disk on fire"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("exception file missing %q:\n%s", want, data)
		}
	}

	rows, flushes := env.requests.snapshot()
	if len(rows) != 1 || flushes != 1 {
		t.Fatalf("expected one flushed request row, got %d/%d", len(rows), flushes)
	}
}

func TestServePanicLogsAndRepanics(t *testing.T) {
	env := newTestEnv(t, siteFiles, func(o *Options) {
		o.Cache = cache.New(cache.WithOpener(func(string) (*archive.Handle, error) {
			panic("boom")
		}))
	})

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("expected re-panic with boom, got %v", r)
			}
		}()
		_ = env.app.Serve(env.request(http.MethodGet, "/notes"), &recordEmitter{})
		t.Fatalf("Serve should have panicked")
	}()

	reqRows, reqFlushes := env.requests.snapshot()
	if len(reqRows) != 1 || reqFlushes != 1 {
		t.Fatalf("expected exactly one flushed request row, got %d/%d", len(reqRows), reqFlushes)
	}
	traceRows, traceFlushes := env.traces.snapshot()
	if traceFlushes != 1 || len(traceRows) == 0 {
		t.Fatalf("expected flushed trace rows, got %d/%d", len(traceRows), traceFlushes)
	}
	files := exceptionFiles(t, env.logDir)
	if len(files) != 1 {
		t.Fatalf("expected one exception file, got %v", files)
	}
	data, _ := os.ReadFile(files[0])
	if !strings.Contains(string(data), "boom") || !strings.Contains(string(data), "goroutine") {
		t.Fatalf("exception file should hold message and stack:\n%s", data)
	}

	// 锁在 panic 后已释放，缓存仍可使用。
	if got := env.app.Cache().Len(); got != 0 {
		t.Fatalf("expected empty cache, got %d", got)
	}
}

func TestServeWriteFailureIsNotAnException(t *testing.T) {
	env := newTestEnv(t, siteFiles, nil)

	em := &recordEmitter{writeErr: errors.New("broken pipe")}
	err := env.app.Serve(env.request(http.MethodGet, "/a/b.txt"), em)
	if err == nil {
		t.Fatalf("expected write error")
	}
	if files := exceptionFiles(t, env.logDir); len(files) != 0 {
		t.Fatalf("client disconnect should not write exception, got %v", files)
	}
	rows, _ := env.traces.snapshot()
	names := eventNames(rows)
	if names[len(names)-1] != "response-abandoned" {
		t.Fatalf("expected response-abandoned, got %v", names)
	}
}

func TestSnapshotKeepsRecentTraces(t *testing.T) {
	env := newTestEnv(t, siteFiles, func(o *Options) { o.TraceLimit = 2 })

	for i := 0; i < 3; i++ {
		env.serve(t, env.request(http.MethodGet, "/notes"))
	}
	snap := env.app.Snapshot()
	if len(snap.Traces) != 2 {
		t.Fatalf("expected 2 recent traces, got %d", len(snap.Traces))
	}
	if len(snap.OpenArchives) != 1 || filepath.Base(snap.OpenArchives[0]) != "site.wwz" {
		t.Fatalf("unexpected open archives %v", snap.OpenArchives)
	}
	if snap.Worker != "test-worker" || snap.PID != 42 {
		t.Fatalf("unexpected identity %+v", snap)
	}
}

package cache

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/oils-for-unix/wwz/internal/archive"
	"github.com/oils-for-unix/wwz/internal/archive/archivetest"
)

func TestGetOrOpenConcurrentSamePathOpensOnce(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{"index.html": "hi"})

	var opens atomic.Int32
	c := New(WithOpener(func(p string) (*archive.Handle, error) {
		opens.Add(1)
		return archive.Open(p)
	}))
	t.Cleanup(func() { _ = c.Close() })

	const n = 32
	handles := make([]*archive.Handle, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := c.GetOrOpen(path)
			if err != nil {
				t.Errorf("GetOrOpen error: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	close(start)
	wg.Wait()

	if got := opens.Load(); got != 1 {
		t.Fatalf("expected exactly one open, got %d", got)
	}
	for i, h := range handles {
		if h != handles[0] {
			t.Fatalf("caller %d received a different handle", i)
		}
	}
}

func TestGetOrOpenFailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "later.wwz")

	var opens atomic.Int32
	c := New(WithOpener(func(p string) (*archive.Handle, error) {
		opens.Add(1)
		return archive.Open(p)
	}))
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.GetOrOpen(path); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed open must not be cached")
	}

	archivetest.Write(t, dir, "later.wwz", map[string]string{"a.txt": "a"})
	if _, err := c.GetOrOpen(path); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if got := opens.Load(); got != 2 {
		t.Fatalf("expected two open attempts, got %d", got)
	}
}

func TestLookupInvalidateAndPaths(t *testing.T) {
	dir := t.TempDir()
	b := archivetest.Write(t, dir, "b.wwz", map[string]string{"x": "x"})
	a := archivetest.Write(t, dir, "a.wwz", map[string]string{"y": "y"})

	c := New()
	t.Cleanup(func() { _ = c.Close() })

	if _, ok := c.Lookup(a); ok {
		t.Fatalf("lookup before open should miss")
	}
	first, err := c.GetOrOpen(a)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := c.GetOrOpen(b); err != nil {
		t.Fatalf("open b: %v", err)
	}
	if h, ok := c.Lookup(a); !ok || h != first {
		t.Fatalf("lookup should return the cached handle")
	}
	if diff := cmp.Diff([]string{a, b}, c.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}

	c.Invalidate(a)
	second, err := c.GetOrOpen(a)
	if err != nil {
		t.Fatalf("reopen a: %v", err)
	}
	if second == first {
		t.Fatalf("invalidate should force a fresh handle")
	}
	_ = first.Close()
}

func TestAcquireStaleHandleReopensOnceUnderContention(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{"a.txt": "old"})
	first := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	archivetest.SetModTime(t, path, first)

	var opens atomic.Int32
	c := New(WithOpener(func(p string) (*archive.Handle, error) {
		opens.Add(1)
		return archive.Open(p)
	}))
	t.Cleanup(func() { _ = c.Close() })

	stale, outcome, err := c.Acquire(path, first, true)
	if err != nil || outcome != Opened {
		t.Fatalf("cold acquire: outcome=%v err=%v", outcome, err)
	}

	next := first.Add(time.Hour)
	archivetest.SetModTime(t, path, next)

	const n = 32
	handles := make([]*archive.Handle, n)
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, o, err := c.Acquire(path, next, true)
			if err != nil {
				t.Errorf("Acquire error: %v", err)
				return
			}
			handles[i], outcomes[i] = h, o
		}(i)
	}
	close(start)
	wg.Wait()

	if got := opens.Load(); got != 2 {
		t.Fatalf("expected one cold open and one reopen, got %d opens", got)
	}
	reopened := 0
	for i, h := range handles {
		if h == stale || h != handles[0] {
			t.Fatalf("caller %d received a stale or divergent handle", i)
		}
		if outcomes[i] == Reopened {
			reopened++
		}
	}
	if reopened != 1 {
		t.Fatalf("expected exactly one Reopened outcome, got %d", reopened)
	}
	if c.Len() != 1 {
		t.Fatalf("expected a single cached handle, got %d", c.Len())
	}
	_ = stale.Close()
}

func TestAcquireIgnoresModTimeWhenUnchecked(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{"a.txt": "a"})

	c := New()
	t.Cleanup(func() { _ = c.Close() })

	h, _, err := c.Acquire(path, time.Time{}, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	again, outcome, err := c.Acquire(path, time.Now().Add(time.Hour), false)
	if err != nil || outcome != Hit || again != h {
		t.Fatalf("expected hit on the same handle, outcome=%v err=%v", outcome, err)
	}
}

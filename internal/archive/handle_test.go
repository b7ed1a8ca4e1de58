package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oils-for-unix/wwz/internal/archive/archivetest"
)

func TestOpenReadsEntries(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{
		"index.html":    "<h1>hi</h1>",
		"dir/":          "",
		"dir/data.json": `{"a":1}`,
	})

	h, err := Open(path)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer h.Close()

	body, err := h.Read("dir/data.json")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(body) != `{"a":1}` {
		t.Fatalf("unexpected body: %s", body)
	}

	want := []string{"dir/", "dir/data.json", "index.html"}
	if diff := cmp.Diff(want, h.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if h.Path() != path {
		t.Fatalf("path mismatch: %s", h.Path())
	}
}

func TestReadMissingEntryIsNotFound(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{"a.txt": "a", "d/": ""})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer h.Close()

	for _, name := range []string{"missing.txt", "d/", ""} {
		if _, err := h.Read(name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %q, got %v", name, err)
		}
	}
}

func TestOpenMissingOrCorruptIsNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "nope.wwz")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing archive, got %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt.wwz")
	if err := os.WriteFile(corrupt, []byte("definitely not a zip file"), 0o644); err != nil {
		t.Fatalf("write corrupt fixture: %v", err)
	}
	if _, err := Open(corrupt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for corrupt archive, got %v", err)
	}

	if _, err := Open(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestListNamesClosesArchive(t *testing.T) {
	path := archivetest.Write(t, t.TempDir(), "site.wwz", map[string]string{"b": "", "a": ""})
	names, err := ListNames(path)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

// ErrNotFound 表示归档不存在、不是合法 zip，或条目不在归档中。
var ErrNotFound = errors.New("archive: not found")

// Handle 包装一个已打开的 zip 归档，提供按内部路径读取与列出全部条目名的能力。
type Handle struct {
	path    string
	modTime time.Time
	zr      *zip.ReadCloser

	// names 保持归档中的原始顺序；index 用于 O(1) 查找。
	names []string
	index map[string]*zip.File
}

// Open 打开 path 指向的 zip 归档。文件缺失或格式损坏时返回包装了 ErrNotFound 的错误，
// 其它 I/O 错误原样返回，交由调用方按“意外错误”处理。
func Open(path string) (*Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
		}
		return nil, err
	}
	return newHandle(path, info.ModTime(), zr), nil
}

func newHandle(path string, modTime time.Time, zr *zip.ReadCloser) *Handle {
	h := &Handle{
		path:    path,
		modTime: modTime,
		zr:      zr,
		names:   make([]string, 0, len(zr.File)),
		index:   make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		// Duplicate names only show up in crafted archives; the later entry wins.
		if _, seen := h.index[f.Name]; !seen {
			h.names = append(h.names, f.Name)
		}
		h.index[f.Name] = f
	}
	return h
}

// Path returns the absolute path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// ModTime returns the archive's modification time observed when it was opened.
func (h *Handle) ModTime() time.Time { return h.modTime }

// Names lists every entry name in archive order, directories included.
func (h *Handle) Names() []string {
	return append([]string(nil), h.names...)
}

// Has reports whether name is a readable (non-directory) entry.
func (h *Handle) Has(name string) bool {
	f, ok := h.index[name]
	return ok && !isDirName(name) && !f.Mode().IsDir()
}

// Open 返回条目的解压流及其未压缩大小。目录条目视为不存在，我们不提供空文件。
func (h *Handle) Open(name string) (io.ReadCloser, int64, error) {
	if !h.Has(name) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	f := h.index[name]
	rc, err := f.Open()
	if err != nil {
		return nil, 0, err
	}
	return rc, int64(f.UncompressedSize64), nil
}

// Read 读取整个条目内容。
func (h *Handle) Read(name string) ([]byte, error) {
	rc, size, err := h.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	buf.Grow(int(size))
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Close releases the underlying file.
func (h *Handle) Close() error {
	return h.zr.Close()
}

// ListNames 打开归档、返回全部条目名后立即关闭，不经过缓存。
func ListNames(path string) ([]string, error) {
	h, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Names(), nil
}

func isDirName(name string) bool {
	return name == "" || strings.HasSuffix(name, "/")
}

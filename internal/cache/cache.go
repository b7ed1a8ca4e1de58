package cache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oils-for-unix/wwz/internal/archive"
)

// Opener 打开一个归档，测试中可替换以统计打开次数。
type Opener func(path string) (*archive.Handle, error)

// Option customizes a Cache.
type Option func(*Cache)

// WithOpener replaces archive.Open as the cold-open routine.
func WithOpener(open Opener) Option {
	return func(c *Cache) {
		if open != nil {
			c.open = open
		}
	}
}

// Cache 是进程级的归档句柄表：键为绝对路径，值为所有请求共享的 Handle。
type Cache struct {
	open Opener

	mu      sync.Mutex
	handles map[string]*archive.Handle
}

// New 构建空缓存，默认使用 archive.Open。
func New(opts ...Option) *Cache {
	c := &Cache{
		open:    archive.Open,
		handles: make(map[string]*archive.Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup 只查询，不触发打开。
func (c *Cache) Lookup(path string) (*archive.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[path]
	return h, ok
}

// Outcome 描述一次 Acquire 的结果。
type Outcome int

const (
	// Hit 表示直接返回了已缓存的句柄。
	Hit Outcome = iota
	// Opened 表示缓存中没有该路径，本次冷打开。
	Opened
	// Reopened 表示缓存句柄的 mtime 已过期，本次重新打开并替换。
	Reopened
)

// GetOrOpen 命中时直接返回共享句柄；未命中时在全局锁内打开并写入。
// 打开失败不会缓存任何内容，下一次请求会重试。
func (c *Cache) GetOrOpen(path string) (*archive.Handle, error) {
	h, _, err := c.Acquire(path, time.Time{}, false)
	return h, err
}

// Acquire 与 GetOrOpen 相同；checkModTime 为 true 且缓存句柄的 mtime 与 modTime 不一致时，
// 在同一把锁内丢弃旧句柄并重新打开，因此同一路径任何时刻最多只有一个缓存句柄。
// 旧句柄不在这里关闭，理由同 Invalidate。出错时 Outcome 仍指明走到了哪一步。
func (c *Cache) Acquire(path string, modTime time.Time, checkModTime bool) (*archive.Handle, Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := Opened
	if h, ok := c.handles[path]; ok {
		if !checkModTime || h.ModTime().Equal(modTime) {
			return h, Hit, nil
		}
		delete(c.handles, path)
		outcome = Reopened
	}

	h, err := c.open(path)
	if err != nil {
		return nil, outcome, err
	}
	if h == nil {
		return nil, outcome, errors.New("cache: opener returned nil handle")
	}
	c.handles[path] = h
	return h, outcome, nil
}

// Invalidate 将 path 从表中移除，之后的请求会重新打开归档。
// 旧句柄不在这里关闭：仍在读取它的请求可以读完，文件描述符随 os.File 的 finalizer 释放。
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.handles, path)
	c.mu.Unlock()
}

// Paths 返回当前已打开归档的路径（排序后），供状态页展示。
func (c *Cache) Paths() []string {
	c.mu.Lock()
	paths := make([]string, 0, len(c.handles))
	for p := range c.handles {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	sort.Strings(paths)
	return paths
}

// Len reports how many archives are open.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close 关闭全部句柄并清空缓存，仅在进程退出时调用。
func (c *Cache) Close() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]*archive.Handle)
	c.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

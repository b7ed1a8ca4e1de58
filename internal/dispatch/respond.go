package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/oils-for-unix/wwz/internal/archive"
	"github.com/oils-for-unix/wwz/internal/cache"
	"github.com/oils-for-unix/wwz/internal/content"
	"github.com/oils-for-unix/wwz/internal/listing"
	"github.com/oils-for-unix/wwz/internal/pages"
	"github.com/oils-for-unix/wwz/internal/resolve"
	"github.com/oils-for-unix/wwz/internal/trace"
)

const (
	htmlUTF8 = "text/html; charset=utf-8"
	cssType  = "text/css"
)

// Respond 生成响应，按以下顺序匹配第一个分支：
//
//	无 path info → 状态页
//	归档 stat 失败 → 404
//	-wwz-css → 样式表
//	-wwz-status → 状态页
//	[dir/]-wwz-index → 目录列表
//	从缓存获取归档，失败 → 404
//	目录 → index.html，否则 302 到 -wwz-index（路径不安全时 400）
//	文件 → 条目内容，缺失 → 404
//
// 返回 error 仅表示意外错误；可预期的失败都转换为对应的 HTTP 状态。可从多个 goroutine 并发调用。
func (a *App) Respond(req *Request, tr *trace.Tracer) (*Response, error) {
	if req.PathInfo == "" {
		resp, err := a.statusPage(req)
		tr.Event("status-page")
		return resp, err
	}

	target, err := resolve.Split(req.URI, req.PathInfo, req.DocumentRoot)
	if err != nil {
		return notFound(fmt.Sprintf("Couldn't resolve wwz path %q", req.PathInfo)), nil
	}

	// 整个归档的 mtime 作为每个条目的 Last-Modified：任一条目变化即视为整体变化。
	info, err := os.Stat(target.ArchivePath)
	if err != nil || info.IsDir() {
		return notFound(fmt.Sprintf("Couldn't open wwz path %q", target.BaseURL)), nil
	}
	mtime := info.ModTime()
	lastModified := Header{Name: "Last-Modified", Value: mtime.UTC().Format(http.TimeFormat)}

	kind := resolve.Classify(target.Internal)
	switch kind {
	case resolve.KindCSS:
		return &Response{
			Status: http.StatusOK,
			Header: []Header{{Name: "Content-Type", Value: cssType}},
			Body:   bytesBody(pages.CSS()),
		}, nil
	case resolve.KindStatus:
		resp, err := a.statusPage(req)
		tr.Event("status-page")
		return resp, err
	case resolve.KindListing:
		return a.listingPage(req, target, lastModified, tr)
	}

	h, resp, err := a.acquire(target.ArchivePath, target.BaseURL, mtime, tr)
	if resp != nil || err != nil {
		return resp, err
	}

	if kind == resolve.KindDirectory {
		return a.serveDirectory(req, h, target.Internal, mtime, lastModified, tr)
	}
	return a.serveFile(req, h, target.Internal, mtime, lastModified, tr)
}

// acquire 从缓存取得归档句柄，并记录 cache-check/hit/stale/miss/open 事件。
// mtime 比较与替换在缓存锁内完成，并发请求不会把刚打开的新句柄再丢掉。
func (a *App) acquire(path, baseURL string, mtime time.Time, tr *trace.Tracer) (*archive.Handle, *Response, error) {
	tr.Event("cache-check")
	h, outcome, err := a.cache.Acquire(path, mtime, a.reload)
	switch outcome {
	case cache.Hit:
		tr.Event("cache-hit")
		return h, nil, nil
	case cache.Reopened:
		tr.Event("cache-stale")
	}
	tr.Event("cache-miss")
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, notFound(fmt.Sprintf("Couldn't open wwz path %q", baseURL)), nil
		}
		return nil, nil, errors.Wrapf(err, "open archive %s", path)
	}
	tr.Event("cache-open")
	return h, nil, nil
}

func (a *App) serveDirectory(req *Request, h *archive.Handle, internal string, mtime time.Time, lastModified Header, tr *trace.Tracer) (*Response, error) {
	body, err := h.Read(internal + "index.html")
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			return nil, errors.Wrapf(err, "read %sindex.html", internal)
		}
		// 没有 index.html：相对重定向到目录列表。
		if resolve.SafeRedirect(internal) {
			return redirect(resolve.ListingPath), nil
		}
		return badRequest(fmt.Sprintf("Invalid path %q", internal)), nil
	}
	tr.Event("data-read")

	if notModified(req.IfModifiedSince, mtime) {
		return &Response{Status: http.StatusNotModified, Header: []Header{lastModified}}, nil
	}
	return &Response{
		Status: http.StatusOK,
		Header: []Header{{Name: "Content-Type", Value: htmlUTF8}, lastModified},
		Body:   bytesBody(body),
	}, nil
}

func (a *App) serveFile(req *Request, h *archive.Handle, internal string, mtime time.Time, lastModified Header, tr *trace.Tracer) (*Response, error) {
	if !h.Has(internal) {
		return notFound(fmt.Sprintf("Path %q not found in wwz archive", internal)), nil
	}
	if notModified(req.IfModifiedSince, mtime) {
		return &Response{Status: http.StatusNotModified, Header: []Header{lastModified}}, nil
	}

	body := readerBody(func() (io.ReadCloser, error) {
		rc, _, err := h.Open(internal)
		if err != nil {
			return nil, errors.Wrapf(err, "open entry %s", internal)
		}
		tr.Event("data-read")
		return rc, nil
	})
	return &Response{
		Status: http.StatusOK,
		Header: []Header{{Name: "Content-Type", Value: content.Header(internal)}, lastModified},
		Body:   body,
	}, nil
}

// listingPage 直接打开归档枚举条目名，不经过缓存：列表需要名字而不是随机读取。
func (a *App) listingPage(req *Request, target resolve.Target, lastModified Header, tr *trace.Tracer) (*Response, error) {
	names, err := archive.ListNames(target.ArchivePath)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return notFound(fmt.Sprintf("Couldn't open wwz path %q", target.BaseURL)), nil
		}
		return nil, errors.Wrapf(err, "list archive %s", target.ArchivePath)
	}
	tr.Event("listing-open")

	prefix := resolve.ListingPrefix(target.Internal)
	built := listing.Build(names, prefix)
	archiveName := filepath.Base(target.ArchivePath)
	inside, depth := listing.InsideCrumb(archiveName, prefix)

	host := req.Host
	if host == "" {
		host = "HOST"
	}

	var buf bytes.Buffer
	err = pages.RenderListing(&buf, pages.Listing{
		Title:        archiveName + " : " + prefix,
		CSSURL:       target.BaseURL + "/" + resolve.CSSPath,
		StatusURL:    target.BaseURL + "/" + resolve.StatusPath,
		Outside:      listing.OutsideCrumb(host, target.BaseURL, depth),
		Inside:       inside,
		Files:        built.Files,
		Dirs:         built.Dirs,
		HasIndexHTML: built.HasIndexHTML,
	})
	if err != nil {
		return nil, errors.Wrap(err, "render listing")
	}
	tr.Event("listing-built")

	return &Response{
		Status: http.StatusOK,
		Header: []Header{{Name: "Content-Type", Value: htmlUTF8}, lastModified},
		Body:   bytesBody(buf.Bytes()),
	}, nil
}

func (a *App) statusPage(req *Request) (*Response, error) {
	worker := req.Worker
	if worker == "" {
		worker = a.worker
	}

	var buf bytes.Buffer
	err := pages.RenderStatus(&buf, pages.Status{
		Title:        fmt.Sprintf("Status of wwz process %d", a.pid),
		CSSURL:       resolve.CSSPath,
		Worker:       worker,
		Now:          time.Now().UTC().Format(time.RFC3339Nano),
		Requests:     a.requests.Load(),
		OpenArchives: a.cache.Paths(),
		Traces:       a.recentTraces(),
		Env:          requestEnv(req),
	})
	if err != nil {
		return nil, errors.Wrap(err, "render status page")
	}
	return &Response{
		Status: http.StatusOK,
		Header: []Header{{Name: "Content-Type", Value: htmlUTF8}},
		Body:   bytesBody(buf.Bytes()),
	}, nil
}

func requestEnv(req *Request) []pages.EnvVar {
	env := map[string]string{
		"REQUEST_METHOD": req.Method,
		"REQUEST_URI":    req.URI,
		"PATH_INFO":      req.PathInfo,
		"DOCUMENT_ROOT":  req.DocumentRoot,
		"HTTP_HOST":      req.Host,
		"UNIQUE_ID":      req.UniqueID,
	}
	for k, v := range req.Env {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]pages.EnvVar, len(keys))
	for i, k := range keys {
		out[i] = pages.EnvVar{Key: k, Value: env[k]}
	}
	return out
}

// notModified 比较 If-Modified-Since 与归档 mtime（HTTP 日期只有秒级精度）。
func notModified(ifModifiedSince string, mtime time.Time) bool {
	if ifModifiedSince == "" {
		return false
	}
	since, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return false
	}
	return !mtime.Truncate(time.Second).After(since)
}

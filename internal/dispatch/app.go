package dispatch

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oils-for-unix/wwz/internal/cache"
	"github.com/oils-for-unix/wwz/internal/trace"
)

// Options 汇总 App 的依赖，Logger 必填，其余有默认值。
type Options struct {
	Logger *logrus.Logger
	Cache  *cache.Cache

	RequestLog trace.Sink
	TraceLog   trace.Sink

	// LogDir 存放 exception.*.txt；为空时只写结构化日志。
	LogDir string
	PID    int
	Worker string

	// ReloadOnModTime 为 true 时，归档 mtime 与缓存句柄不一致会触发重新打开。
	ReloadOnModTime bool
	// TraceLimit 为状态页保留的最近 trace 数。
	TraceLimit int
}

// App 是所有请求 goroutine 共享的全局实例。
type App struct {
	logger     *logrus.Logger
	cache      *cache.Cache
	requestLog trace.Sink
	traceLog   trace.Sink
	logDir     string
	pid        int
	worker     string
	reload     bool
	traceLimit int

	requests atomic.Int64

	recentMu sync.Mutex
	recent   [][]trace.Event
}

// New validates opts and builds an App.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.TraceLimit < 0 {
		return nil, fmt.Errorf("invalid trace limit: %d", opts.TraceLimit)
	}

	a := &App{
		logger:     opts.Logger,
		cache:      opts.Cache,
		requestLog: opts.RequestLog,
		traceLog:   opts.TraceLog,
		logDir:     opts.LogDir,
		pid:        opts.PID,
		worker:     opts.Worker,
		reload:     opts.ReloadOnModTime,
		traceLimit: opts.TraceLimit,
	}
	if a.cache == nil {
		a.cache = cache.New()
	}
	if a.requestLog == nil {
		a.requestLog = trace.NopSink{}
	}
	if a.traceLog == nil {
		a.traceLog = trace.NopSink{}
	}
	if a.pid == 0 {
		a.pid = os.Getpid()
	}
	if a.worker == "" {
		a.worker = fmt.Sprintf("pid-%d", a.pid)
	}
	return a, nil
}

// Cache exposes the shared archive cache.
func (a *App) Cache() *cache.Cache { return a.cache }

// Snapshot 是状态信息的 JSON 形式，供诊断接口使用。
type Snapshot struct {
	PID          int             `json:"pid"`
	Worker       string          `json:"worker"`
	Requests     int64           `json:"requests"`
	OpenArchives []string        `json:"open_archives"`
	Traces       [][]trace.Event `json:"traces"`
}

// Snapshot returns the current monitoring counters.
func (a *App) Snapshot() Snapshot {
	return Snapshot{
		PID:          a.pid,
		Worker:       a.worker,
		Requests:     a.requests.Load(),
		OpenArchives: a.cache.Paths(),
		Traces:       a.recentTraces(),
	}
}

// Serve 处理一个请求并通过 em 输出。请求记录与 trace 记录总会写入并 flush，
// 无论 Respond 成功、返回错误还是 panic。意外错误会落盘为 exception 文件后返回给传输层；
// panic 落盘后重新抛出。
func (a *App) Serve(req *Request, em Emitter) (err error) {
	uniqueID := orDash(req.UniqueID)
	uri := orDash(req.URI)
	worker := req.Worker
	if worker == "" {
		worker = a.worker
	}

	tr := trace.New()
	seq := a.requests.Add(1)
	status := 0

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		// 先写完请求/trace 日志，再落盘 exception，最后把 panic 交还传输层。
		a.finish(uniqueID, seq, uri, worker, status, tr, err)
		if r != nil {
			a.captureException(uniqueID, uri, err, debug.Stack())
			panic(r)
		}
	}()

	a.appendRow(a.requestLog, uniqueID, strconv.FormatInt(seq, 10), worker, unixSeconds(tr.Start()), uri)

	resp, err := a.Respond(req, tr)
	if err != nil {
		a.captureException(uniqueID, uri, err, nil)
		return err
	}
	status = resp.Status

	em.WriteHeader(resp.Status, resp.Header)
	if req.Method == http.MethodHead || resp.Body == nil {
		tr.Event("response-sent")
		return nil
	}
	for chunk, bodyErr := range resp.Body {
		if bodyErr != nil {
			err = errors.Wrap(bodyErr, "read response body")
			a.captureException(uniqueID, uri, err, nil)
			return err
		}
		if writeErr := em.Write(chunk); writeErr != nil {
			// 客户端断开属于传输层问题，不写 exception 文件。
			tr.Event("response-abandoned")
			return fmt.Errorf("write response: %w", writeErr)
		}
	}
	tr.Event("response-sent")
	return nil
}

func (a *App) finish(uniqueID string, seq int64, uri, worker string, status int, tr *trace.Tracer, err error) {
	seqStr := strconv.FormatInt(seq, 10)
	events := tr.Events()
	for _, ev := range events {
		a.appendRow(a.traceLog, uniqueID, seqStr, ev.Name, strconv.FormatFloat(ev.ElapsedMS, 'f', 3, 64))
	}
	if flushErr := a.traceLog.Flush(); flushErr != nil {
		a.logger.WithError(flushErr).WithField("action", "trace_log").Warn("trace_log_flush_failed")
	}
	if flushErr := a.requestLog.Flush(); flushErr != nil {
		a.logger.WithError(flushErr).WithField("action", "request_log").Warn("request_log_flush_failed")
	}
	a.remember(events)

	fields := logrus.Fields{
		"action":     "serve",
		"request_id": uniqueID,
		"sequence":   seq,
		"worker":     worker,
		"uri":        uri,
		"status":     status,
		"events":     len(events),
		"elapsed_ms": time.Since(tr.Start()).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		a.logger.WithFields(fields).Error("request_failed")
		return
	}
	a.logger.WithFields(fields).Info("request_complete")
}

func (a *App) appendRow(sink trace.Sink, fields ...string) {
	if err := sink.Append(fields...); err != nil {
		a.logger.WithError(err).WithField("action", "log_append").Warn("log_append_failed")
	}
}

func (a *App) remember(events []trace.Event) {
	if a.traceLimit == 0 {
		return
	}
	a.recentMu.Lock()
	defer a.recentMu.Unlock()
	a.recent = append(a.recent, events)
	if over := len(a.recent) - a.traceLimit; over > 0 {
		a.recent = append([][]trace.Event(nil), a.recent[over:]...)
	}
}

func (a *App) recentTraces() [][]trace.Event {
	a.recentMu.Lock()
	defer a.recentMu.Unlock()
	return append([][]trace.Event(nil), a.recent...)
}

// captureException 为每个意外错误写一个文件：请求 ID、URI、错误类型、错误描述与调用栈。
// stack 为空时使用 pkg/errors 记录的栈（%+v）。
func (a *App) captureException(uniqueID, uri string, err error, stack []byte) {
	fields := logrus.Fields{
		"action":     "exception",
		"request_id": uniqueID,
		"uri":        uri,
	}
	if a.logDir == "" {
		a.logger.WithFields(fields).WithError(err).Error("unexpected_error")
		return
	}

	var b strings.Builder
	b.WriteString(uniqueID + "\n")
	b.WriteString(uri + "\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "%T\n", errors.Cause(err))
	b.WriteString("---\n")
	b.WriteString(err.Error() + "\n")
	b.WriteString("---\n")
	if len(stack) > 0 {
		b.Write(stack)
	} else {
		fmt.Fprintf(&b, "%+v", err)
	}
	b.WriteString("\n")

	name := fmt.Sprintf("exception.%d.%s.txt", time.Now().UnixNano(), fileSafe(uniqueID))
	path, writeErr := writeFileAtomic(a.logDir, name, []byte(b.String()))
	if writeErr != nil {
		fields["write_error"] = writeErr.Error()
	} else {
		fields["path"] = path
	}
	a.logger.WithFields(fields).WithError(err).Error("unexpected_error")
}

// writeFileAtomic 先写临时文件再 rename，读者不会看到写了一半的文件。
func writeFileAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".exception-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return final, nil
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func unixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

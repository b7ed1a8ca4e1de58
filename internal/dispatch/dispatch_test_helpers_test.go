package dispatch

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/oils-for-unix/wwz/internal/archive/archivetest"
)

type memSink struct {
	mu      sync.Mutex
	rows    [][]string
	flushes int
}

func (s *memSink) Append(fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, append([]string(nil), fields...))
	return nil
}

func (s *memSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memSink) snapshot() ([][]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.rows...), s.flushes
}

type recordEmitter struct {
	status   int
	header   []Header
	body     bytes.Buffer
	writeErr error
	calls    int
}

func (e *recordEmitter) WriteHeader(status int, header []Header) {
	e.calls++
	e.status = status
	e.header = append([]Header(nil), header...)
}

func (e *recordEmitter) Write(p []byte) error {
	if e.writeErr != nil {
		return e.writeErr
	}
	e.body.Write(p)
	return nil
}

func (e *recordEmitter) get(name string) string {
	r := Response{Header: e.header}
	return r.Get(name)
}

type testEnv struct {
	app      *App
	docRoot  string
	logDir   string
	requests *memSink
	traces   *memSink
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestEnv 在临时 document root 下写一个 site.wwz，configure 可以调整 Options。
func newTestEnv(t *testing.T, files map[string]string, configure func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		docRoot:  t.TempDir(),
		logDir:   t.TempDir(),
		requests: &memSink{},
		traces:   &memSink{},
	}
	if files != nil {
		archivetest.Write(t, env.docRoot, "site.wwz", files)
	}

	opts := Options{
		Logger:     quietLogger(),
		RequestLog: env.requests,
		TraceLog:   env.traces,
		LogDir:     env.logDir,
		PID:        42,
		Worker:     "test-worker",
		TraceLimit: 5,
	}
	if configure != nil {
		configure(&opts)
	}
	app, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = app.Cache().Close() })
	env.app = app
	return env
}

// request 构造 /site.wwz<pathInfo> 形式的请求。
func (e *testEnv) request(method, pathInfo string) *Request {
	return &Request{
		Method:       method,
		URI:          "/site.wwz" + pathInfo,
		PathInfo:     pathInfo,
		DocumentRoot: e.docRoot,
		Host:         "example.test",
		UniqueID:     "req-1",
	}
}

func (e *testEnv) serve(t *testing.T, req *Request) *recordEmitter {
	t.Helper()
	em := &recordEmitter{}
	if err := e.app.Serve(req, em); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	return em
}

func eventNames(rows [][]string) []string {
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row[2])
	}
	return names
}

package trace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Sink 是日志记录的追加接口，字段顺序由 schema 决定。
type Sink interface {
	Append(fields ...string) error
	Flush() error
}

// Column names of the two fixed schemas.
var (
	RequestSchema = []string{"unique_id", "request_counter", "worker", "timestamp", "request_uri"}
	TraceSchema   = []string{"unique_id", "request_counter", "event_name", "timestamp"}
)

// NopSink 丢弃所有记录，未开启对应日志时使用。
type NopSink struct{}

func (NopSink) Append(...string) error { return nil }
func (NopSink) Flush() error           { return nil }

// TSVSink 以制表符分隔写入记录，首行为 schema 表头。
// Go 这边写入经过 bufio 缓冲，多个请求 goroutine 共享同一个 sink，所以用锁保护缓冲区。
type TSVSink struct {
	schema []string

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// CreateTSV 创建（截断）path 并写入表头。
func CreateTSV(path string, schema []string) (*TSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", path, err)
	}
	s := &TSVSink{
		schema: append([]string(nil), schema...),
		file:   f,
		w:      bufio.NewWriter(f),
	}
	if err := s.writeRow(schema); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Append 写入一行；字段数必须与 schema 一致。
func (s *TSVSink) Append(fields ...string) error {
	if len(fields) != len(s.schema) {
		return fmt.Errorf("tsv: got %d fields, schema has %d", len(fields), len(s.schema))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRow(fields)
}

// Flush pushes buffered rows to the file.
func (s *TSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the file.
func (s *TSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *TSVSink) writeRow(fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := s.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := s.w.WriteString(cellReplacer.Replace(field)); err != nil {
			return err
		}
	}
	return s.w.WriteByte('\n')
}

// 值里的制表符/换行会破坏行结构，统一替换为空格。
var cellReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// LogFileName 生成 <时间戳>.<pid>.<kind>.log 形式的文件名。
func LogFileName(dir string, started time.Time, pid int, kind string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.%s.log", started.Format("2006-01-02__15-04-05"), pid, kind))
}

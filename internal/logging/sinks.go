package logging

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oils-for-unix/wwz/internal/config"
	"github.com/oils-for-unix/wwz/internal/trace"
)

// Sinks 持有请求日志与 trace 日志；未开启的一路为 nil。
type Sinks struct {
	Request *trace.TSVSink
	Trace   *trace.TSVSink
}

// OpenSinks 按配置在 LogDir 下创建 <启动时间>.<pid>.request.log / .trace.log。
func OpenSinks(cfg config.GlobalConfig, started time.Time, pid int) (*Sinks, error) {
	s := &Sinks{}
	if !cfg.RequestLog && !cfg.TraceLog {
		return s, nil
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	if cfg.RequestLog {
		sink, err := trace.CreateTSV(trace.LogFileName(cfg.LogDir, started, pid, "request"), trace.RequestSchema)
		if err != nil {
			return nil, err
		}
		s.Request = sink
	}
	if cfg.TraceLog {
		sink, err := trace.CreateTSV(trace.LogFileName(cfg.LogDir, started, pid, "trace"), trace.TraceSchema)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Trace = sink
	}
	return s, nil
}

// RequestSink 返回可直接交给 dispatch 的 Sink，未开启时为 NopSink。
func (s *Sinks) RequestSink() trace.Sink {
	if s == nil || s.Request == nil {
		return trace.NopSink{}
	}
	return s.Request
}

// TraceSink 同 RequestSink。
func (s *Sinks) TraceSink() trace.Sink {
	if s == nil || s.Trace == nil {
		return trace.NopSink{}
	}
	return s.Trace
}

// Close flushes and closes both files.
func (s *Sinks) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Request != nil {
		errs = append(errs, s.Request.Close())
	}
	if s.Trace != nil {
		errs = append(errs, s.Trace.Close())
	}
	return errors.Join(errs...)
}

package dispatch

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"
)

// Request 是传输层交给核心的请求环境，字段对应 CGI 变量。
type Request struct {
	Method string
	// URI 是完整请求路径，例如 /wwz-test/foo.wwz/a/b/c。
	URI string
	// PathInfo 是 URI 中归档之后的部分，例如 /a/b/c；为空时返回状态页。
	PathInfo     string
	DocumentRoot string
	Host         string
	// UniqueID 用于关联请求日志与 trace 日志，空值记为 "-"。
	UniqueID string
	// Worker 标识处理该请求的工作单元，空值时使用进程标识。
	Worker          string
	IfModifiedSince string
	// Env 为状态页展示的附加环境。
	Env map[string]string
}

// Header is one response header line.
type Header struct {
	Name  string
	Value string
}

// Body 惰性产出响应正文的字节块。消费方可以随时停止迭代，生产方只需释放自身持有的资源。
// 产出的切片在下一次迭代前有效，消费方如需保留必须复制。
type Body = iter.Seq2[[]byte, error]

// Response 是核心产出的响应：状态码、有序头部列表与惰性正文。
type Response struct {
	Status int
	Header []Header
	Body   Body
}

// Get returns the first value of the named header, case-insensitively.
func (r *Response) Get(name string) string {
	for _, h := range r.Header {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Emitter 是响应输出通道，由传输层实现。
type Emitter interface {
	// WriteHeader 发送状态行与头部，只调用一次。
	WriteHeader(status int, header []Header)
	// Write 追加正文字节，不得保留 p。
	Write(p []byte) error
}

const chunkSize = 32 * 1024

func bytesBody(b []byte) Body {
	return func(yield func([]byte, error) bool) {
		for len(b) > 0 {
			n := min(len(b), chunkSize)
			if !yield(b[:n], nil) {
				return
			}
			b = b[n:]
		}
	}
}

// readerBody 在首次迭代时才调用 open，结束或被放弃时关闭 reader。
func readerBody(open func() (io.ReadCloser, error)) Body {
	return func(yield func([]byte, error) bool) {
		rc, err := open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		buf := make([]byte, chunkSize)
		for {
			n, err := rc.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// ReadAll drains a body into memory. Useful for transports and tests.
func ReadAll(body Body) ([]byte, error) {
	var buf bytes.Buffer
	if body == nil {
		return nil, nil
	}
	for chunk, err := range body {
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

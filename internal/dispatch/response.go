package dispatch

import (
	"bytes"
	"net/http"

	"github.com/oils-for-unix/wwz/internal/pages"
)

func messageResponse(status int, message string) *Response {
	var buf bytes.Buffer
	if err := pages.RenderMessage(&buf, status, message); err != nil {
		// 模板在编译期嵌入，渲染失败只可能来自写 buffer，退回纯文本。
		buf.Reset()
		buf.WriteString(http.StatusText(status) + ": " + message + "\n")
	}
	return &Response{
		Status: status,
		Header: []Header{{Name: "Content-Type", Value: htmlUTF8}},
		Body:   bytesBody(buf.Bytes()),
	}
}

func notFound(message string) *Response {
	return messageResponse(http.StatusNotFound, message)
}

func badRequest(message string) *Response {
	return messageResponse(http.StatusBadRequest, message)
}

// redirect 返回带简短 HTML 正文的 302；location 可以是相对路径，由客户端按当前 URL 解析。
func redirect(location string) *Response {
	resp := messageResponse(http.StatusFound, location)
	resp.Header = append(resp.Header, Header{Name: "Location", Value: location})
	return resp
}

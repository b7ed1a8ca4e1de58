// Package content maps archive entry names to HTTP content types.
package content

import "strings"

// DefaultType is served for any unmatched suffix.
const DefaultType = "text/plain"

type suffixType struct {
	suffix   string
	mimeType string
	binary   bool
}

// 精确、区分大小写的后缀表；按顺序匹配。
var suffixTable = []suffixType{
	{".html", "text/html", false},
	{".css", "text/css", false},
	{".js", "application/javascript", false},
	{".json", "application/json", false},
	{".png", "image/png", true},
	{".tar", "application/x-tar", true},
}

// Resolve 返回 name 的 MIME 类型以及是否为二进制内容。
func Resolve(name string) (mimeType string, isBinary bool) {
	for _, entry := range suffixTable {
		if strings.HasSuffix(name, entry.suffix) {
			return entry.mimeType, entry.binary
		}
	}
	return DefaultType, false
}

// Header 返回可直接写入 Content-Type 的值，文本类型追加 utf-8 charset。
func Header(name string) string {
	mimeType, binary := Resolve(name)
	if binary {
		return mimeType
	}
	return mimeType + "; charset=utf-8"
}

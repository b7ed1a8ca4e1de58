package listing

import "strings"

const listingName = "-wwz-index"

// Segment is one breadcrumb anchor. An empty URL renders as plain text.
type Segment struct {
	Anchor string
	URL    string
}

// Crumb 是从根到当前目录的导航链。
type Crumb struct {
	Segments []Segment
	// TrailingSlash 为 true 时在最后一个锚点后再输出一个 / 分隔符。
	TrailingSlash bool
}

// InsideCrumb 构建归档内部的导航链：归档名 + 目录前缀的各段。
// 每个祖先链接到对应目录的列表页（相对路径），最深一段为纯文本。
// 返回值 depth 为链的长度，供 OutsideCrumb 计算 ../ 层数。
func InsideCrumb(archiveName, dirPrefix string) (crumb Crumb, depth int) {
	anchors := append([]string{archiveName}, splitNonEmpty(dirPrefix)...)
	depth = len(anchors)

	crumb.Segments = make([]Segment, depth)
	for i, anchor := range anchors {
		crumb.Segments[i].Anchor = anchor
		if i < depth-1 {
			crumb.Segments[i].URL = strings.Repeat("../", depth-i-1) + listingName
		}
	}
	return crumb, depth
}

// OutsideCrumb 构建从 HTTP host 到归档所在目录的导航链，祖先链接到 web 服务器自身的目录索引，
// 最深一段（归档所在目录）为纯文本。baseURL 形如 /dir/foo.wwz，其中归档文件名不计入链。
func OutsideCrumb(host, baseURL string, insideDepth int) Crumb {
	parts := splitNonEmpty(baseURL)
	if len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}
	anchors := append([]string{host}, parts...)
	before := len(anchors)

	crumb := Crumb{Segments: make([]Segment, before), TrailingSlash: true}
	for i, anchor := range anchors {
		crumb.Segments[i].Anchor = anchor
		if i < before-1 {
			crumb.Segments[i].URL = strings.Repeat("../", insideDepth+before-i-1)
		}
	}
	return crumb
}

func splitNonEmpty(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

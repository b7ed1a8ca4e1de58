// Package resolve turns a request into an archive location and classifies the
// archive-internal path into one of a small closed set of request kinds.
package resolve

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// Reserved internal paths. They can never name real archive entries.
const (
	CSSPath     = "-wwz-css"
	StatusPath  = "-wwz-status"
	ListingPath = "-wwz-index"
)

var (
	// ErrMismatch 表示 request URI 并不以 path info 结尾，无法切分。
	ErrMismatch = errors.New("resolve: request uri does not end with path info")
	// ErrOutsideRoot 表示切分出的归档路径逃逸出 document root。
	ErrOutsideRoot = errors.New("resolve: archive path escapes document root")
)

// Target 是一次请求解析后的归档定位结果。
type Target struct {
	// BaseURL 是 URL 中指向归档本身的部分，例如 /dir/foo.wwz。
	BaseURL string
	// ArchivePath 是归档在磁盘上的绝对路径。
	ArchivePath string
	// Internal 是归档内部路径，不带前导 /。
	Internal string
}

// Split 按 path info 切分 request URI：前缀拼接 docRoot 得到归档路径，后缀去掉前导 / 得到内部路径。
func Split(requestURI, pathInfo, docRoot string) (Target, error) {
	if i := strings.IndexByte(requestURI, '?'); i >= 0 {
		requestURI = requestURI[:i]
	}
	if !strings.HasSuffix(requestURI, pathInfo) {
		return Target{}, ErrMismatch
	}
	base := requestURI[:len(requestURI)-len(pathInfo)]

	root := filepath.Clean(docRoot)
	archivePath := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(base, "/")))
	rel, err := filepath.Rel(root, archivePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Target{}, ErrOutsideRoot
	}

	return Target{
		BaseURL:     base,
		ArchivePath: archivePath,
		Internal:    strings.TrimPrefix(pathInfo, "/"),
	}, nil
}

// Kind 是内部路径的分类。
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindCSS
	KindStatus
	KindListing
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindCSS:
		return "css"
	case KindStatus:
		return "status"
	case KindListing:
		return "listing"
	default:
		return "unknown"
	}
}

// Classify 按固定优先级匹配：样式表、状态页、目录列表、目录、文件。
func Classify(internal string) Kind {
	switch {
	case internal == CSSPath:
		return KindCSS
	case internal == StatusPath:
		return KindStatus
	case internal == ListingPath || strings.HasSuffix(internal, "/"+ListingPath):
		return KindListing
	case IsDirectory(internal):
		return KindDirectory
	default:
		return KindFile
	}
}

// IsDirectory reports whether internal is directory-like: empty or ending in "/".
func IsDirectory(internal string) bool {
	return internal == "" || strings.HasSuffix(internal, "/")
}

// ListingPrefix returns the directory prefix a listing path refers to:
// "" for "-wwz-index", "a/b/" for "a/b/-wwz-index".
func ListingPrefix(internal string) string {
	return strings.TrimSuffix(internal, ListingPath)
}

// 不把未经校验的请求路径写进响应头，避免头注入；字符集刻意保守。
var safeRedirectRE = regexp.MustCompile(`^[a-zA-Z0-9_./-]*$`)

// SafeRedirect reports whether p only uses letters, digits and "_./-".
func SafeRedirect(p string) bool {
	return safeRedirectRE.MatchString(p)
}

// SplitArchiveURI 在 URL 路径中寻找第一个以归档后缀结尾的段，返回其后的部分作为 path info。
// 例如 /dir/foo.wwz/a/b 得到 path info /a/b；找不到归档段时 ok 为 false。
func SplitArchiveURI(urlPath string, suffixes []string) (pathInfo string, ok bool) {
	start := 0
	for start < len(urlPath) {
		if urlPath[start] == '/' {
			start++
			continue
		}
		end := strings.IndexByte(urlPath[start:], '/')
		if end < 0 {
			end = len(urlPath)
		} else {
			end += start
		}
		segment := urlPath[start:end]
		for _, suffix := range suffixes {
			if len(segment) > len(suffix) && strings.HasSuffix(segment, suffix) {
				return urlPath[end:], true
			}
		}
		start = end
	}
	return "", false
}

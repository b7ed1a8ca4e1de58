// Package listing computes directory listings and breadcrumb trails for a
// directory inside an archive, from the archive's flat list of entry names.
package listing

import (
	"sort"
	"strings"
)

// Listing 是某个目录下的直接子项：文件名不带 /，子目录名带结尾 /。
type Listing struct {
	Files        []string
	Dirs         []string
	HasIndexHTML bool
}

// Build 计算 dirPrefix（"" 或以 / 结尾）下的直接子文件与子目录，并检测 index.html。
// 条目自身以及不在前缀下的条目会被跳过；zip 中目录名以 / 结尾，文件不会。
func Build(names []string, dirPrefix string) Listing {
	var (
		files []string
		dirs  = map[string]struct{}{}
		out   Listing
	)

	for _, name := range names {
		if name == dirPrefix || !strings.HasPrefix(name, dirPrefix) {
			continue
		}
		if name == dirPrefix+"index.html" {
			out.HasIndexHTML = true
		}

		rest := name[len(dirPrefix):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			files = append(files, rest)
			continue
		}
		// 可能只出现 _tmp/soil/ 而没有 _tmp/，按首段归入子目录。
		dirs[rest[:slash+1]] = struct{}{}
	}

	sort.Strings(files)
	out.Files = dedupeSorted(files)
	out.Dirs = make([]string, 0, len(dirs))
	for d := range dirs {
		out.Dirs = append(out.Dirs, d)
	}
	sort.Strings(out.Dirs)
	return out
}

func dedupeSorted(in []string) []string {
	out := make([]string, 0, len(in))
	for i, s := range in {
		if i > 0 && s == in[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

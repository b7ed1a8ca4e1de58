package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI 与 /-/status 使用的版本串，例如 "wwz 0.1.0 (dev)"。
func Full() string {
	return fmt.Sprintf("wwz %s (%s)", Version, Commit)
}

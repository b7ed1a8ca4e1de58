package server

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/oils-for-unix/wwz/internal/config"
)

// SiteRoute 是一个 Host 对应的站点：配置副本加上规范化后的 document root。
type SiteRoute struct {
	Config config.SiteConfig
	// DocumentRoot 已 Clean 的绝对路径，归档路径都在它之下解析。
	DocumentRoot string
	ListenPort   int
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询，所有站点共享同一个监听端口。
type SiteRegistry struct {
	routes  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射，启动阶段创建一次。
func NewSiteRegistry(cfg *config.Config) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		host := normalizeHost(site.Domain)
		if host == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[host]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", host)
		}
		if site.DocumentRoot == "" {
			return nil, fmt.Errorf("site %s: document root is empty", site.Name)
		}

		route := &SiteRoute{
			Config:       site,
			DocumentRoot: filepath.Clean(site.DocumentRoot),
			ListenPort:   cfg.Global.ListenPort,
		}
		registry.routes[host] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找站点，端口部分被忽略。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	normalized := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}
	route, ok := r.routes[normalized]
	return route, ok
}

// List 按配置顺序返回站点副本，用于 /-/sites 输出。
func (r *SiteRegistry) List() []SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]SiteRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	host := raw
	if strings.Contains(raw, ":") {
		if h, _, err := net.SplitHostPort(raw); err == nil {
			host = h
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && !strings.Contains(raw[:idx], ":") {
			host = raw[:idx]
		}
	}

	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

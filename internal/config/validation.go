package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.LogDir) == "" {
		return newFieldError("Global.LogDir", "不能为空")
	}
	if g.StatusTraceLimit < 0 {
		return newFieldError("Global.StatusTraceLimit", "不能为负数")
	}
	for _, suffix := range g.ArchiveSuffixes {
		if len(suffix) < 2 || !strings.HasPrefix(suffix, ".") || strings.Contains(suffix, "/") {
			return newFieldError("Global.ArchiveSuffixes", fmt.Sprintf("非法后缀: %q", suffix))
		}
	}
	if g.ReadTimeout.DurationValue() < 0 {
		return newFieldError("Global.ReadTimeout", "不能为负数")
	}
	if g.WriteTimeout.DurationValue() < 0 {
		return newFieldError("Global.WriteTimeout", "不能为负数")
	}
	if g.IdleTimeout.DurationValue() < 0 {
		return newFieldError("Global.IdleTimeout", "不能为负数")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domain := strings.ToLower(site.Domain)
		if other, exists := seenDomains[domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), fmt.Sprintf("与 %s 重复", other))
		}
		seenDomains[domain] = site.Name

		if site.DocumentRoot == "" {
			return newFieldError(siteField(site.Name, "DocumentRoot"), "不能为空")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "://") {
		return errors.New("Domain 不应包含协议头")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	return nil
}

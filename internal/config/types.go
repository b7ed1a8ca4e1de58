package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 兼容纯秒整数与 Go Duration 字符串两种写法。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别 "30s"、"2m" 或纯数字秒值。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级参数，所有站点共享。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// LogDir 存放 exception 文件以及请求/trace TSV 日志。
	LogDir     string `mapstructure:"LogDir"`
	RequestLog bool   `mapstructure:"RequestLog"`
	TraceLog   bool   `mapstructure:"TraceLog"`

	ArchiveSuffixes  []string `mapstructure:"ArchiveSuffixes"`
	ReloadOnModTime  bool     `mapstructure:"ReloadOnModTime"`
	StatusTraceLimit int      `mapstructure:"StatusTraceLimit"`

	ReadTimeout  Duration `mapstructure:"ReadTimeout"`
	WriteTimeout Duration `mapstructure:"WriteTimeout"`
	IdleTimeout  Duration `mapstructure:"IdleTimeout"`
}

// SiteConfig 把一个 Host 映射到一个 document root，归档从该目录下查找。
type SiteConfig struct {
	Name         string `mapstructure:"Name"`
	Domain       string `mapstructure:"Domain"`
	DocumentRoot string `mapstructure:"DocumentRoot"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// SiteNames 返回全部站点名，供启动日志使用。
func SiteNames(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.Domain)
	}
	return result
}

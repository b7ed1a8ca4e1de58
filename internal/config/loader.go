package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 环境变量优先于配置文件，沿用部署脚本中已有的开关名。
const (
	EnvConfigPath = "WWZ_CONFIG"
	envRequestLog = "WWZ_REQUEST_LOG"
	envTraceLog   = "WWZ_TRACE_LOG"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		switchDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absLogDir, err := filepath.Abs(cfg.Global.LogDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志目录: %w", err)
	}
	cfg.Global.LogDir = absLogDir

	for i := range cfg.Sites {
		root, err := filepath.Abs(cfg.Sites[i].DocumentRoot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", siteField(cfg.Sites[i].Name, "DocumentRoot"), err)
		}
		cfg.Sites[i].DocumentRoot = root
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("LogDir", "./logs")
	v.SetDefault("RequestLog", false)
	v.SetDefault("TraceLog", false)
	v.SetDefault("ArchiveSuffixes", []string{".wwz", ".zip"})
	v.SetDefault("ReloadOnModTime", false)
	v.SetDefault("StatusTraceLimit", 20)
	v.SetDefault("ReadTimeout", "30s")
	v.SetDefault("WriteTimeout", "30s")
	v.SetDefault("IdleTimeout", "120s")
}

func bindEnv(v *viper.Viper) error {
	if err := v.BindEnv("RequestLog", envRequestLog); err != nil {
		return fmt.Errorf("绑定环境变量失败: %w", err)
	}
	if err := v.BindEnv("TraceLog", envTraceLog); err != nil {
		return fmt.Errorf("绑定环境变量失败: %w", err)
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.LogDir) == "" {
		g.LogDir = "./logs"
	}
	if len(g.ArchiveSuffixes) == 0 {
		g.ArchiveSuffixes = []string{".wwz", ".zip"}
	}
	if g.ReadTimeout.DurationValue() == 0 {
		g.ReadTimeout = Duration(30 * time.Second)
	}
	if g.WriteTimeout.DurationValue() == 0 {
		g.WriteTimeout = Duration(30 * time.Second)
	}
	if g.IdleTimeout.DurationValue() == 0 {
		g.IdleTimeout = Duration(120 * time.Second)
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Name = strings.TrimSpace(s.Name)
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.DocumentRoot = strings.TrimSpace(s.DocumentRoot)
}

// switchDecodeHook 让 WWZ_REQUEST_LOG=yes 这类开关生效：能被 strconv.ParseBool 解析的值保持原义，
// 其它非空字符串视为开启，空串视为关闭。
func switchDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return false, nil
		}
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed, nil
		}
		return true, nil
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

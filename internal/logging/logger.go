package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/oils-for-unix/wwz/internal/config"
)

// InitLogger 根据全局配置初始化 JSON 结构化日志，同时同步 logrus 全局 logger。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	path := logFilePath(cfg)
	output, outErr := buildOutput(cfg, path)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   path,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// logFilePath 中相对路径按 LogDir 解析，与 exception/TSV 文件放在一起。
func logFilePath(cfg config.GlobalConfig) string {
	if cfg.LogFilePath == "" || filepath.IsAbs(cfg.LogFilePath) || cfg.LogDir == "" {
		return cfg.LogFilePath
	}
	return filepath.Join(cfg.LogDir, cfg.LogFilePath)
}

// buildOutput 创建日志 Writer；目录不可用时降级到 stdout 并返回错误。
func buildOutput(cfg config.GlobalConfig, path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

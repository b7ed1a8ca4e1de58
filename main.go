package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oils-for-unix/wwz/internal/cache"
	"github.com/oils-for-unix/wwz/internal/config"
	"github.com/oils-for-unix/wwz/internal/dispatch"
	"github.com/oils-for-unix/wwz/internal/logging"
	"github.com/oils-for-unix/wwz/internal/server"
	"github.com/oils-for-unix/wwz/internal/server/routes"
	"github.com/oils-for-unix/wwz/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = config.SiteNames(cfg.Sites)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建站点注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → 站点注册表 → 日志 sink → 归档缓存 → Fiber server，
	// 所有请求共享同一个缓存与 sink。
	if err := os.MkdirAll(cfg.Global.LogDir, 0o755); err != nil {
		fmt.Fprintf(stdErr, "创建日志目录失败: %v\n", err)
		return 1
	}
	pid := os.Getpid()
	sinks, err := logging.OpenSinks(cfg.Global, time.Now(), pid)
	if err != nil {
		fmt.Fprintf(stdErr, "打开请求日志失败: %v\n", err)
		return 1
	}
	defer closeQuietly(logger, "request_log", sinks.Close)

	archives := cache.New()
	defer closeQuietly(logger, "archive_cache", archives.Close)

	core, err := dispatch.New(dispatch.Options{
		Logger:          logger,
		Cache:           archives,
		RequestLog:      sinks.RequestSink(),
		TraceLog:        sinks.TraceSink(),
		LogDir:          cfg.Global.LogDir,
		PID:             pid,
		ReloadOnModTime: cfg.Global.ReloadOnModTime,
		TraceLimit:      cfg.Global.StatusTraceLimit,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化请求处理失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = config.SiteNames(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["log_dir"] = cfg.Global.LogDir
	fields["request_log"] = cfg.Global.RequestLog
	fields["trace_log"] = cfg.Global.TraceLog
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, core, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("wwz", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 WWZ_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(config.EnvConfigPath)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, registry *server.SiteRegistry, core *dispatch.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:          logger,
		Registry:        registry,
		Dispatcher:      core,
		ListenPort:      port,
		ArchiveSuffixes: cfg.Global.ArchiveSuffixes,
		ReadTimeout:     cfg.Global.ReadTimeout.DurationValue(),
		WriteTimeout:    cfg.Global.WriteTimeout.DurationValue(),
		IdleTimeout:     cfg.Global.IdleTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, registry, core)

	// 收到 SIGINT/SIGTERM 后停止接收新连接，Listen 返回后 run 中的 defer 负责 flush 日志。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

func closeQuietly(logger *logrus.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.WithError(err).WithField("action", what).Warn("关闭失败")
	}
}

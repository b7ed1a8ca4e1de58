package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oils-for-unix/wwz/internal/dispatch"
	"github.com/oils-for-unix/wwz/internal/logging"
	"github.com/oils-for-unix/wwz/internal/resolve"
)

// Dispatcher 处理一个已绑定到站点的归档请求，测试中可以替换。
type Dispatcher interface {
	Serve(req *dispatch.Request, em dispatch.Emitter) error
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Dispatcher Dispatcher
	ListenPort int
	// ArchiveSuffixes 决定 URL 中哪一段被视为归档，默认 .wwz/.zip。
	ArchiveSuffixes []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

const (
	contextKeyRoute     = "_wwz_route"
	contextKeyRequestID = "_wwz_request_id"
)

// NewApp builds a Fiber application with Host routing middleware, panic
// recovery and the archive-serving catch-all route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if len(opts.ArchiveSuffixes) == 0 {
		opts.ArchiveSuffixes = []string{".wwz", ".zip"}
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   opts.ReadTimeout,
		WriteTimeout:  opts.WriteTimeout,
		IdleTimeout:   opts.IdleTimeout,
	})

	// Dispatcher 重新抛出的 panic 在这里变成 500，进程继续服务其它请求。
	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		route, _ := getRouteFromContext(c)
		if route == nil {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return serveArchive(c, opts, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并基于 Host/Host:port 查找 SiteRoute。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

// serveArchive 把 URL 切成 (request uri, path info) 后交给 Dispatcher。
// "/" 没有 path info，得到状态页；/dir/foo.wwz 重定向到 /dir/foo.wwz/。
func serveArchive(c fiber.Ctx, opts AppOptions, route *SiteRoute) error {
	urlPath := string(c.Request().URI().Path())

	pathInfo, ok := "", urlPath == "/"
	if !ok {
		pathInfo, ok = resolve.SplitArchiveURI(urlPath, opts.ArchiveSuffixes)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "archive_unmapped",
			})
		}
		if pathInfo == "" {
			if !resolve.SafeRedirect(urlPath) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid_path",
				})
			}
			c.Set(fiber.HeaderLocation, urlPath+"/")
			return c.SendStatus(fiber.StatusFound)
		}
	}

	uri := urlPath
	if q := c.Request().URI().QueryString(); len(q) > 0 {
		uri += "?" + string(q)
	}

	reqID := RequestID(c)
	req := &dispatch.Request{
		Method:          c.Method(),
		URI:             uri,
		PathInfo:        pathInfo,
		DocumentRoot:    route.DocumentRoot,
		Host:            getHostHeader(c),
		UniqueID:        reqID,
		Worker:          fmt.Sprintf("conn-%d", c.RequestCtx().ConnID()),
		IfModifiedSince: c.Get(fiber.HeaderIfModifiedSince),
		Env:             requestEnv(c, route),
	}

	err := opts.Dispatcher.Serve(req, fiberEmitter{c: c})
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, reqID, c.Response().StatusCode())
	fields["action"] = "archive_request"
	if err != nil {
		opts.Logger.WithFields(fields).WithError(err).Warn("archive_request_failed")
		return err
	}
	opts.Logger.WithFields(fields).Debug("archive_request")
	return nil
}

// fiberEmitter 把 dispatch 的单一输出点落到 Fiber 响应上。
type fiberEmitter struct {
	c fiber.Ctx
}

func (e fiberEmitter) WriteHeader(status int, header []dispatch.Header) {
	e.c.Status(status)
	for _, h := range header {
		e.c.Set(h.Name, h.Value)
	}
}

func (e fiberEmitter) Write(p []byte) error {
	_, err := e.c.Write(p)
	return err
}

// requestEnv 生成状态页展示的 CGI 风格环境，请求头转成 HTTP_XXX。
func requestEnv(c fiber.Ctx, route *SiteRoute) map[string]string {
	env := map[string]string{
		"SERVER_NAME":     route.Config.Domain,
		"SERVER_PORT":     fmt.Sprintf("%d", route.ListenPort),
		"SERVER_PROTOCOL": c.Protocol(),
		"REMOTE_ADDR":     c.IP(),
		"WWZ_SITE":        route.Config.Name,
	}
	headers := c.GetReqHeaders()
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env[key] = strings.Join(headers[name], ", ")
	}
	return env
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	fields := logrus.Fields{
		"action": "host_lookup",
		"host":   host,
		"port":   port,
	}
	logger.WithFields(fields).Warn("host unmapped")

	if host != "" {
		c.Set("X-Wwz-Host", host)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*SiteRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*SiteRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

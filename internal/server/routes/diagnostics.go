package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/oils-for-unix/wwz/internal/dispatch"
	"github.com/oils-for-unix/wwz/internal/server"
	"github.com/oils-for-unix/wwz/internal/version"
)

// Snapshotter 提供进程监控计数，dispatch.App 实现了它。
type Snapshotter interface {
	Snapshot() dispatch.Snapshot
}

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/sites，供运维在不知道站点 Host 时排查。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.SiteRegistry, status Snapshotter) {
	if app == nil || registry == nil || status == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(statusPayload{
			Version:  version.Full(),
			Snapshot: status.Snapshot(),
		})
	})

	app.Get("/-/sites", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sites": encodeSites(registry.List()),
		})
	})
}

type statusPayload struct {
	Version string `json:"version"`
	dispatch.Snapshot
}

type sitePayload struct {
	Name         string `json:"name"`
	Domain       string `json:"domain"`
	DocumentRoot string `json:"document_root"`
	Port         int    `json:"port"`
}

func encodeSites(routes []server.SiteRoute) []sitePayload {
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, sitePayload{
			Name:         route.Config.Name,
			Domain:       route.Config.Domain,
			DocumentRoot: route.DocumentRoot,
			Port:         route.ListenPort,
		})
	}
	return result
}

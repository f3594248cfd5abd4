package config

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/middleware"
	"DetectionWeb/pkg/handlerUtil"
	"DetectionWeb/web"
)

func NewFiber(logger *logrus.Logger, cfg *AppConfig) *fiber.App {
	views := html.NewFileSystem(web.Templates(), ".html")
	if cfg.Env == "development" {
		views.Reload(true)
	}

	app := fiber.New(
		fiber.Config{
			AppName:           "DetectionWeb",
			BodyLimit:         cfg.BodyLimitMB * 1024 * 1024,
			DisableKeepalive:  false,
			StrictRouting:     true,
			CaseSensitive:     true,
			EnablePrintRoutes: cfg.Env == "development",
			JSONEncoder:       jsoniter.Marshal,
			JSONDecoder:       jsoniter.Unmarshal,
			Views:             views,
			ErrorHandler:      newErrorHandler(logger),
		})

	app.Use(recover.New(recover.Config{EnableStackTrace: cfg.Env == "development"}))
	app.Use(cors.New())
	app.Static("/static", cfg.StaticDir)

	return app
}

// newErrorHandler answers errors that escape handlers, panics included.
// Framework errors keep their status; anything else becomes a generic 500.
func newErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals(middleware.RequestIDKey).(string)
		return handlerUtil.New(logger).HandleUnhandled(c, requestID, err)
	}
}

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/concord-consortium/mw-sub002/internal/metrics"
	"github.com/concord-consortium/mw-sub002/internal/resource"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Loader     *resource.Loader
	Batches    *BatchRegistry
	Metrics    *metrics.Collector
	ListenPort int
}

const contextKeyRequestID = "_mwcache_request_id"

// NewApp builds the local control surface: resource loading, batch
// management, mode switches, cache clearing and Prometheus metrics.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("resource loader is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Batches == nil {
		opts.Batches = NewBatchRegistry(defaultMaxBatches)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{
		logger:  opts.Logger,
		loader:  opts.Loader,
		batches: opts.Batches,
	}

	app.Get("/-/load", h.load)
	app.Get("/-/resource", h.resource)
	app.Get("/-/entry", h.entry)
	app.Get("/-/lookup", h.lookup)

	app.Post("/-/batches", h.createBatch)
	app.Get("/-/batches/:id", h.batchState)
	app.Post("/-/batches/:id/reset", h.resetBatch)
	app.Delete("/-/batches/:id", h.deleteBatch)

	app.Get("/-/mode", h.mode)
	app.Put("/-/mode", h.setMode)
	app.Post("/-/cache/clear", h.clear)

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		fields := logrus.Fields{
			"action":     "http",
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
			"request_id": reqID,
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Warn("http_failed")
			return err
		}
		logger.WithFields(fields).Debug("http_complete")
		return nil
	}
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

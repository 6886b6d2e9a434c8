package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/concord-consortium/mw-sub002/internal/cache"
	"github.com/concord-consortium/mw-sub002/internal/fetch"
	"github.com/concord-consortium/mw-sub002/internal/freshness"
	"github.com/concord-consortium/mw-sub002/internal/resource"
)

type handlers struct {
	logger  *logrus.Logger
	loader  *resource.Loader
	batches *BatchRegistry
}

type loadResponse struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	Transient bool   `json:"transient"`
	Advisory  string `json:"advisory,omitempty"`
}

type batchResponse struct {
	ID           string `json:"id"`
	Decided      bool   `json:"decided"`
	ForceRefetch bool   `json:"force_refetch"`
	Checks       int    `json:"checks"`
}

type modeResponse struct {
	CachingEnabled bool `json:"caching_enabled"`
	Offline        bool `json:"offline"`
}

// load 触发一次加载并以 JSON 描述结果；直读文件在响应前释放。
func (h *handlers) load(c fiber.Ctx) error {
	result, err := h.loadFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	if result.Transient {
		h.release(c, result)
	}
	return c.JSON(newLoadResponse(result))
}

// resource 触发加载并直接返回文件内容。
func (h *handlers) resource(c fiber.Ctx) error {
	result, err := h.loadFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}

	f, err := os.Open(result.Path)
	if err != nil {
		h.release(c, result)
		return writeError(c, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		h.release(c, result)
		return writeError(c, err)
	}
	// 已打开的句柄不受后续替换或删除影响。
	h.release(c, result)
	defer f.Close()

	if contentType := mime.TypeByExtension(filepath.Ext(result.Path)); contentType != "" {
		c.Set("Content-Type", contentType)
	} else {
		c.Set("Content-Type", "application/octet-stream")
	}
	c.Response().Header.SetContentLength(int(info.Size()))
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(http.TimeFormat))
	c.Set("X-Mwcache-Status", string(result.Status))
	if result.Advisory != nil {
		c.Set("X-Mwcache-Advisory", result.Advisory.Error())
	}
	c.Status(fiber.StatusOK)

	if _, err := io.Copy(c.Response().BodyWriter(), f); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// entry 查询本地副本，不访问网络。
func (h *handlers) entry(c fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return writeError(c, cache.ErrMalformedAddress)
	}
	ctx := requestContext(c)
	cached, err := h.loader.Has(ctx, rawURL)
	if err != nil {
		return writeError(c, err)
	}
	resp := fiber.Map{"url": rawURL, "cached": cached}
	if path, err := h.loader.LocalPath(rawURL); err == nil {
		resp["path"] = path
	}
	return c.JSON(resp)
}

// lookup 将缓存路径映射回 URL。
func (h *handlers) lookup(c fiber.Ctx) error {
	localPath := c.Query("path")
	remote, ok := h.loader.RemoteURL(localPath)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_cache_path"})
	}
	return c.JSON(fiber.Map{"path": localPath, "url": remote})
}

func (h *handlers) createBatch(c fiber.Ctx) error {
	batch := h.loader.BeginBatch()
	if err := h.batches.Add(batch); err != nil {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_batches"})
	}
	return c.Status(fiber.StatusCreated).JSON(newBatchResponse(batch))
}

func (h *handlers) batchState(c fiber.Ctx) error {
	batch, ok := h.batches.Lookup(c.Params("id"))
	if !ok {
		return batchNotFound(c)
	}
	return c.JSON(newBatchResponse(batch))
}

func (h *handlers) resetBatch(c fiber.Ctx) error {
	batch, ok := h.batches.Lookup(c.Params("id"))
	if !ok {
		return batchNotFound(c)
	}
	batch.Reset()
	return c.JSON(newBatchResponse(batch))
}

func (h *handlers) deleteBatch(c fiber.Ctx) error {
	if !h.batches.Remove(c.Params("id")) {
		return batchNotFound(c)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) mode(c fiber.Ctx) error {
	return c.JSON(newModeResponse(h.loader.Mode()))
}

// setMode 通过 offline 与 caching 查询参数切换开关，缺省的参数保持不变。
func (h *handlers) setMode(c fiber.Ctx) error {
	offline, okOffline, err := parseOptionalBool(c.Query("offline"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_offline"})
	}
	caching, okCaching, err := parseOptionalBool(c.Query("caching"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_caching"})
	}
	if okOffline {
		h.loader.SetOfflineMode(offline)
	}
	if okCaching {
		h.loader.SetCachingEnabled(caching)
	}
	return c.JSON(newModeResponse(h.loader.Mode()))
}

func (h *handlers) clear(c fiber.Ctx) error {
	if err := h.loader.Clear(requestContext(c)); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) loadFromQuery(c fiber.Ctx) (*resource.Result, error) {
	rawURL := c.Query("url")
	if rawURL == "" {
		return nil, cache.ErrMalformedAddress
	}
	var batch *freshness.Batch
	if id := c.Query("batch"); id != "" {
		found, ok := h.batches.Lookup(id)
		if !ok {
			return nil, errUnknownBatch
		}
		batch = found
	}
	return h.loader.Load(requestContext(c), rawURL, batch)
}

func (h *handlers) release(c fiber.Ctx, result *resource.Result) {
	if err := result.Release(); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "release",
			"path":       result.Path,
			"request_id": RequestID(c),
		}).Warn("transient_release_failed")
	}
}

var errUnknownBatch = errors.New("unknown batch")

// writeError 将错误分类映射为 HTTP 状态码与稳定的错误码。
func writeError(c fiber.Ctx, err error) error {
	status, code := classifyError(err)
	return c.Status(status).JSON(fiber.Map{"error": code, "detail": err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrMalformedAddress):
		return fiber.StatusBadRequest, "malformed_address"
	case errors.Is(err, errUnknownBatch):
		return fiber.StatusNotFound, "batch_not_found"
	case errors.Is(err, fetch.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, fetch.ErrUnavailable):
		return fiber.StatusBadGateway, "unavailable"
	case errors.Is(err, cache.ErrWriteFailed):
		return fiber.StatusInternalServerError, "cache_write_failed"
	case errors.Is(err, resource.ErrNoLocalCopy):
		return fiber.StatusServiceUnavailable, "no_local_copy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, "canceled"
	default:
		return fiber.StatusBadGateway, "unavailable"
	}
}

func batchNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "batch_not_found"})
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func parseOptionalBool(raw string) (value bool, present bool, err error) {
	if raw == "" {
		return false, false, nil
	}
	value, err = strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}

func newLoadResponse(result *resource.Result) loadResponse {
	resp := loadResponse{
		URL:       result.URL,
		Path:      result.Path,
		Status:    string(result.Status),
		Reason:    string(result.Reason),
		BatchID:   result.BatchID,
		Transient: result.Transient,
	}
	if result.Advisory != nil {
		resp.Advisory = result.Advisory.Error()
	}
	return resp
}

func newBatchResponse(batch *freshness.Batch) batchResponse {
	decided, force := batch.State()
	return batchResponse{
		ID:           batch.ID(),
		Decided:      decided,
		ForceRefetch: force,
		Checks:       batch.Checks(),
	}
}

func newModeResponse(mode freshness.Mode) modeResponse {
	return modeResponse{CachingEnabled: mode.CachingEnabled, Offline: mode.Offline}
}

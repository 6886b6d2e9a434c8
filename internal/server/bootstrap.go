package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/concord-consortium/mw-sub002/internal/cache"
	"github.com/concord-consortium/mw-sub002/internal/config"
	"github.com/concord-consortium/mw-sub002/internal/fetch"
	"github.com/concord-consortium/mw-sub002/internal/freshness"
	"github.com/concord-consortium/mw-sub002/internal/logging"
	"github.com/concord-consortium/mw-sub002/internal/metrics"
	"github.com/concord-consortium/mw-sub002/internal/resource"
)

// progressLogStep 控制下载进度日志的粒度。
const progressLogStep = 1 << 20

// Runtime 聚合一次启动构造出的全部依赖，CLI 与控制接口共享同一份实例。
type Runtime struct {
	Loader  *resource.Loader
	Client  *fetch.Client
	Metrics *metrics.Collector
	Batches *BatchRegistry
}

// Bootstrap 根据已校验的配置组装存储、上游客户端与 Loader。
func Bootstrap(cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := cache.NewStore(cfg.Cache.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	collector := metrics.New()
	client := fetch.NewClient(fetch.Options{
		ConnectTimeout: cfg.Cache.ConnectTimeout.DurationValue(),
		ReadTimeout:    cfg.Cache.ReadTimeout.DurationValue(),
		Monitor:        logging.NewFetchMonitor(logger, progressLogStep),
		Observer:       collector,
	})

	loader, err := resource.NewLoader(resource.Options{
		Store:          store,
		Fetcher:        client,
		Logger:         logger,
		Metrics:        collector,
		StaleTolerance: cfg.Cache.StaleTolerance.DurationValue(),
		Mode: freshness.Mode{
			CachingEnabled: cfg.Cache.CachingEnabled,
			Offline:        cfg.Cache.OfflineMode,
		},
		TransientPath: cfg.Cache.TransientPath,
	})
	if err != nil {
		client.CloseIdleConnections()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"action":          "bootstrap",
		"storage_path":    store.Root(),
		"caching_enabled": cfg.Cache.CachingEnabled,
		"offline":         cfg.Cache.OfflineMode,
		"stale_tolerance": cfg.Cache.StaleTolerance.Milliseconds(),
	}).Info("runtime_ready")

	return &Runtime{
		Loader:  loader,
		Client:  client,
		Metrics: collector,
		Batches: NewBatchRegistry(defaultMaxBatches),
	}, nil
}

// Close 释放上游连接池。
func (r *Runtime) Close() {
	if r == nil || r.Client == nil {
		return
	}
	r.Client.CloseIdleConnections()
}

package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/concord-consortium/mw-sub002/internal/cache"
	"github.com/concord-consortium/mw-sub002/internal/freshness"
	"github.com/concord-consortium/mw-sub002/internal/logging"
	"github.com/concord-consortium/mw-sub002/internal/metrics"
)

// ErrNoLocalCopy 表示需要回源但回源失败，且磁盘上没有任何可用副本。
var ErrNoLocalCopy = errors.New("no local copy available")

// Fetcher 组合正文下载与元数据查询，通常是 *fetch.Client。
type Fetcher interface {
	cache.Source
	freshness.MetadataSource
}

// Options 描述 Loader 的依赖与初始开关。Store 与 Fetcher 必填。
type Options struct {
	Store          cache.Store
	Fetcher        Fetcher
	Logger         *logrus.Logger
	Metrics        *metrics.Collector
	StaleTolerance time.Duration
	Mode           freshness.Mode
	// TransientPath 存放不进入缓存的直读结果（动态内容、缓存关闭时），
	// 不允许位于缓存根目录之下。
	TransientPath string
}

// Loader 是缓存子系统的对外入口：给定 URL，返回可直接读取的本地路径。
// 所有状态都挂在实例上，调用方在启动时构造一次并显式注入。
type Loader struct {
	store         cache.Store
	fetcher       Fetcher
	logger        *logrus.Logger
	metrics       *metrics.Collector
	oracle        *freshness.Oracle
	gate          *freshness.Gate
	transientPath string

	flights singleflight.Group
}

// NewLoader 校验依赖并准备直读目录。
func NewLoader(opts Options) (*Loader, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	transient := opts.TransientPath
	if transient == "" {
		transient = filepath.Join(os.TempDir(), "mwcache-transient")
	}
	transient, err := filepath.Abs(transient)
	if err != nil {
		return nil, fmt.Errorf("resolve transient path: %w", err)
	}
	root := opts.Store.Root()
	if transient == root || strings.HasPrefix(transient, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("transient path %s must not be inside cache root %s", transient, root)
	}
	if err := os.MkdirAll(transient, 0o755); err != nil {
		return nil, fmt.Errorf("create transient path: %w", err)
	}

	return &Loader{
		store:         opts.Store,
		fetcher:       opts.Fetcher,
		logger:        logger,
		metrics:       opts.Metrics,
		oracle:        freshness.NewOracle(opts.Fetcher, opts.StaleTolerance),
		gate:          freshness.NewGate(opts.Mode),
		transientPath: transient,
	}, nil
}

// Load 返回 rawURL 对应的本地路径。batch 非空时，组内仅第一次检查访问网络。
// 网络故障在存在旧副本时被本地吸收（Status=stale，Advisory 为原因）；
// 只有“无可用副本 + 回源失败”才返回 ErrNoLocalCopy。
func (l *Loader) Load(ctx context.Context, rawURL string, batch *freshness.Batch) (*Result, error) {
	started := time.Now()
	u, err := cache.ParseAddress(rawURL)
	if err != nil {
		l.logLoad(rawURL, nil, batch, "", started, err)
		return nil, err
	}

	mode := l.gate.Snapshot()
	var local *cache.Entry
	if mode.CachingEnabled && cache.Cacheable(u) {
		local = l.lookup(ctx, u)
	}

	verdict := l.oracle.Decide(ctx, freshness.Check{URL: u, Local: local, Mode: mode, Batch: batch})
	l.metrics.ObserveDecision(verdict.Decision.String(), string(verdict.Reason))
	if err := ctx.Err(); err != nil {
		l.logLoad(u.String(), nil, batch, verdict.Reason, started, err)
		return nil, err
	}

	var result *Result
	switch {
	case verdict.Reason == freshness.ReasonCachingDisabled || verdict.Reason == freshness.ReasonDynamic:
		result, err = l.loadDirect(ctx, u)
	case verdict.Reason == freshness.ReasonOffline && local == nil:
		err = fmt.Errorf("%w: %s is not cached and offline mode is on", ErrNoLocalCopy, u.Redacted())
	case verdict.Decision == freshness.Fresh:
		result = &Result{Path: local.FilePath, Status: StatusFresh}
	default:
		result, err = l.refresh(ctx, u)
	}

	if result != nil {
		result.URL = u.String()
		result.Reason = verdict.Reason
		result.BatchID = batch.ID()
		l.metrics.ObserveLoad(string(result.Status))
	} else {
		l.metrics.ObserveLoad("error")
	}
	l.logLoad(u.String(), result, batch, verdict.Reason, started, err)
	return result, err
}

// refresh 以 URL 为键合并并发回源，失败时回退到此刻磁盘上的副本。
// 回退时重新读取磁盘，显式 Clear 之后不会复活清空前的文件。
func (l *Loader) refresh(ctx context.Context, u *url.URL) (*Result, error) {
	entry, err := l.fetchShared(ctx, u)
	if err == nil {
		return &Result{Path: entry.FilePath, Status: StatusFetched}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if current, getErr := l.store.Get(ctx, u); getErr == nil {
		return &Result{Path: current.FilePath, Status: StatusStale, Advisory: err}, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNoLocalCopy, u.Redacted(), err)
}

func (l *Loader) fetchShared(ctx context.Context, u *url.URL) (*cache.Entry, error) {
	key := u.String()
	for {
		ch := l.flights.DoChan(key, func() (interface{}, error) {
			return l.store.Fetch(ctx, u, l.fetcher)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// 领头调用方已放弃，本调用方仍有效时重新发起。
				if isCanceled(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*cache.Entry), nil
		}
	}
}

// loadDirect 直接读取到临时目录，不触碰缓存根目录。
func (l *Loader) loadDirect(ctx context.Context, u *url.URL) (*Result, error) {
	resp, err := l.fetcher.Get(ctx, u)
	if err != nil {
		if isCanceled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrNoLocalCopy, u.Redacted(), err)
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(l.transientPath, "mwcache-*"+transientSuffix(u))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrWriteFailed, err)
	}
	name := f.Name()

	_, err = io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %w", cache.ErrWriteFailed, closeErr)
	}
	if err != nil {
		os.Remove(name)
		if isCanceled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrNoLocalCopy, u.Redacted(), err)
	}

	if !resp.LastModified.IsZero() {
		_ = os.Chtimes(name, resp.LastModified, resp.LastModified)
	}
	return &Result{Path: name, Status: StatusDirect, Transient: true}, nil
}

func (l *Loader) lookup(ctx context.Context, u *url.URL) *cache.Entry {
	entry, err := l.store.Get(ctx, u)
	switch {
	case err == nil:
		return entry
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		l.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_get",
			"url":    u.String(),
		}).Warn("cache_get_failed")
		return nil
	}
}

// SetOfflineMode 切换离线模式；离线时只信任磁盘副本，不发起任何网络请求。
func (l *Loader) SetOfflineMode(offline bool) {
	l.gate.SetOffline(offline)
	l.logger.WithFields(logrus.Fields{"action": "set_mode", "offline": offline}).Info("offline_mode_changed")
}

// SetCachingEnabled 切换缓存总开关；关闭后所有请求直读网络。
func (l *Loader) SetCachingEnabled(enabled bool) {
	l.gate.SetCachingEnabled(enabled)
	l.logger.WithFields(logrus.Fields{"action": "set_mode", "caching_enabled": enabled}).Info("caching_mode_changed")
}

// Mode 返回当前开关快照。
func (l *Loader) Mode() freshness.Mode {
	return l.gate.Snapshot()
}

// BeginBatch 创建新的批次，调用方在同一页面的所有加载中传入它；
// 需要重新检查时调用 Batch.Reset。
func (l *Loader) BeginBatch() *freshness.Batch {
	return freshness.NewBatch()
}

// Has 检查是否存在本地副本，不访问网络。
func (l *Loader) Has(ctx context.Context, rawURL string) (bool, error) {
	u, err := cache.ParseAddress(rawURL)
	if err != nil {
		return false, err
	}
	if !cache.Cacheable(u) {
		return false, nil
	}
	return l.store.Has(ctx, u), nil
}

// Get 返回本地副本路径；不存在时返回 cache.ErrNotFound。
func (l *Loader) Get(ctx context.Context, rawURL string) (string, error) {
	u, err := cache.ParseAddress(rawURL)
	if err != nil {
		return "", err
	}
	if !cache.Cacheable(u) {
		return "", cache.ErrNotFound
	}
	entry, err := l.store.Get(ctx, u)
	if err != nil {
		return "", err
	}
	return entry.FilePath, nil
}

// LocalPath 计算 URL 对应的缓存路径，不检查是否存在。
func (l *Loader) LocalPath(rawURL string) (string, error) {
	u, err := cache.ParseAddress(rawURL)
	if err != nil {
		return "", err
	}
	if !cache.Cacheable(u) {
		return "", fmt.Errorf("%w: %s is not cacheable", cache.ErrMalformedAddress, u.Redacted())
	}
	return cache.LocalPath(l.store.Root(), u)
}

// RemoteURL 将缓存路径映射回 URL，用于诊断。
func (l *Loader) RemoteURL(localPath string) (string, bool) {
	return cache.RemoteURL(l.store.Root(), localPath)
}

// Root 返回缓存根目录。
func (l *Loader) Root() string {
	return l.store.Root()
}

// Clear 清空整个缓存。
func (l *Loader) Clear(ctx context.Context) error {
	err := l.store.Clear(ctx)
	fields := logrus.Fields{"action": "cache_clear", "root": l.store.Root()}
	if err != nil {
		l.logger.WithError(err).WithFields(fields).Error("cache_clear_failed")
		return err
	}
	l.metrics.ObserveClear()
	l.logger.WithFields(fields).Info("cache_cleared")
	return nil
}

func (l *Loader) logLoad(rawURL string, result *Result, batch *freshness.Batch, reason freshness.Reason, started time.Time, err error) {
	fields := logging.LoadFields(rawURL, batch.ID(), string(reason))
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result != nil {
		fields["status"] = string(result.Status)
		fields["path"] = result.Path
		if result.Advisory != nil {
			fields["advisory"] = result.Advisory.Error()
			l.logger.WithFields(fields).Warn("load_stale")
			return
		}
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("load_failed")
		return
	}
	l.logger.WithFields(fields).Info("load_complete")
}

func transientSuffix(u *url.URL) string {
	ext := path.Ext(u.Path)
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

package freshness

import (
	"context"
	"net/url"
	"time"

	"github.com/concord-consortium/mw-sub002/internal/cache"
)

// DefaultTolerance 吸收时钟偏差与时间戳粒度：远端比本地新不超过 5s 视为未变化。
const DefaultTolerance = 5 * time.Second

// Decision 是一次新鲜度检查的结论。
type Decision int

const (
	Fresh Decision = iota
	Stale
)

func (d Decision) String() string {
	if d == Stale {
		return "stale"
	}
	return "fresh"
}

// Reason 记录得出结论的步骤，写入日志与指标标签。
type Reason string

const (
	ReasonCachingDisabled Reason = "caching_disabled"
	ReasonDynamic         Reason = "dynamic"
	ReasonOffline         Reason = "offline"
	ReasonMissing         Reason = "missing"
	ReasonBatch           Reason = "batch"
	ReasonHeadFailed      Reason = "head_failed"
	ReasonUnknown         Reason = "unknown"
	ReasonUnchanged       Reason = "unchanged"
	ReasonModified        Reason = "modified"
	// ReasonCanceled 表示等待批次结论期间调用方已取消，结论无效。
	ReasonCanceled Reason = "canceled"
)

// Verdict 汇总结论、原因以及（若执行了 HEAD）远端时间与失败原因。
type Verdict struct {
	Decision Decision
	Reason   Reason
	Remote   time.Time
	Err      error
}

// MetadataSource 只提供远端 Last-Modified，通常是 *fetch.Client。
type MetadataSource interface {
	HeadLastModified(ctx context.Context, u *url.URL) (time.Time, error)
}

// Check 描述一次检查的输入。Local 为 nil 表示本地无副本；Batch 为 nil 表示不做摊销。
type Check struct {
	URL   *url.URL
	Local *cache.Entry
	Mode  Mode
	Batch *Batch
}

// Oracle 是无状态的决策函数，持久状态只存在于调用方传入的 Batch。
type Oracle struct {
	source    MetadataSource
	tolerance time.Duration
}

// NewOracle 构造 Oracle；tolerance 为负时按 0 处理。
func NewOracle(source MetadataSource, tolerance time.Duration) *Oracle {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Oracle{source: source, tolerance: tolerance}
}

// Tolerance 返回生效的容差窗口。
func (o *Oracle) Tolerance() time.Duration {
	return o.tolerance
}

// Decide 依次应用：缓存关闭 → 动态内容 → 离线 → 本地缺失 → 批次沿用 → HEAD 比较。
// HEAD 失败时偏向本地副本（fail open）。
func (o *Oracle) Decide(ctx context.Context, c Check) Verdict {
	switch {
	case !c.Mode.CachingEnabled:
		return Verdict{Decision: Stale, Reason: ReasonCachingDisabled}
	case !cache.Cacheable(c.URL):
		return Verdict{Decision: Stale, Reason: ReasonDynamic}
	case c.Mode.Offline:
		return Verdict{Decision: Fresh, Reason: ReasonOffline}
	case c.Local == nil:
		return Verdict{Decision: Stale, Reason: ReasonMissing}
	}

	if c.Batch == nil {
		return o.compare(ctx, c.URL, c.Local)
	}

	var verdict Verdict
	stale, inherited, err := c.Batch.resolve(ctx, func() (bool, bool) {
		verdict = o.compare(ctx, c.URL, c.Local)
		return verdict.Decision == Stale, ctx.Err() == nil
	})
	if err != nil {
		return Verdict{Decision: Fresh, Reason: ReasonCanceled, Err: err}
	}
	if inherited {
		decision := Fresh
		if stale {
			decision = Stale
		}
		return Verdict{Decision: decision, Reason: ReasonBatch}
	}
	return verdict
}

// IsStale 对远端与本地时间做容差比较，remote 为零值表示未知，按新鲜处理。
func (o *Oracle) IsStale(remote, local time.Time) bool {
	if remote.IsZero() {
		return false
	}
	return remote.Sub(local) > o.tolerance
}

func (o *Oracle) compare(ctx context.Context, u *url.URL, local *cache.Entry) Verdict {
	remote, err := o.source.HeadLastModified(ctx, u)
	if err != nil {
		return Verdict{Decision: Fresh, Reason: ReasonHeadFailed, Err: err}
	}
	if remote.IsZero() {
		return Verdict{Decision: Fresh, Reason: ReasonUnknown}
	}
	if o.IsStale(remote, local.ModTime) {
		return Verdict{Decision: Stale, Reason: ReasonModified, Remote: remote}
	}
	return Verdict{Decision: Fresh, Reason: ReasonUnchanged, Remote: remote}
}

package resource

import (
	"errors"
	"io/fs"
	"os"

	"github.com/concord-consortium/mw-sub002/internal/freshness"
)

// Status 区分结果来源，关心新鲜度的调用方（例如清缓存 UI）据此判断。
type Status string

const (
	// StatusFresh 表示本地副本经检查（或离线/批次沿用）后直接复用。
	StatusFresh Status = "fresh"
	// StatusFetched 表示刚从上游下载并写入缓存。
	StatusFetched Status = "fetched"
	// StatusStale 表示回源失败，返回的是可能过期的旧副本。
	StatusStale Status = "stale"
	// StatusDirect 表示不可缓存的直读结果，文件位于临时目录。
	StatusDirect Status = "direct"
)

// Result 是一次 Load 的结果。Advisory 仅在 StatusStale 时非空，记录回源失败原因。
type Result struct {
	URL       string
	Path      string
	Status    Status
	Transient bool
	Advisory  error
	Reason    freshness.Reason
	BatchID   string
}

// Release 删除直读产生的临时文件；缓存条目不受影响。
func (r *Result) Release() error {
	if r == nil || !r.Transient || r.Path == "" {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

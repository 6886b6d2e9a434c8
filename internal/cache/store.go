package cache

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/concord-consortium/mw-sub002/internal/fetch"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<host>[@<port>]/<decoded-path>
//
// 每个条目仅由正文文件组成，文件的 ModTime 即上游 Last-Modified，
// 供新鲜度判断直接比较。
type Store interface {
	// Root 返回缓存根目录的绝对路径。
	Root() string

	// Has 只检查本地是否存在条目，不访问网络。
	Has(ctx context.Context, u *url.URL) bool

	// Get 返回缓存条目描述。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, u *url.URL) (*Entry, error)

	// Put 将正文写入缓存。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件、保留旧条目。opts.ModTime 为空时使用当前时间。
	Put(ctx context.Context, u *url.URL, body io.Reader, opts PutOptions) (*Entry, error)

	// Fetch 通过 src 下载资源并落盘（fetch-and-store）。
	Fetch(ctx context.Context, u *url.URL, src Source) (*Entry, error)

	// Remove 删除单个条目，不存在时视为成功。
	Remove(ctx context.Context, u *url.URL) error

	// Clear 递归删除整个缓存根目录，幂等。
	Clear(ctx context.Context) error
}

// Source 提供资源正文，通常是 *fetch.Client。
type Source interface {
	Get(ctx context.Context, u *url.URL) (*fetch.Response, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 表示一个本地缓存条目，包含绝对文件路径及文件信息。
type Entry struct {
	URL       string    `json:"url"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrWriteFailed 表示本地写入/重命名失败，旧条目保持不变。
	ErrWriteFailed = errors.New("cache write failed")
)

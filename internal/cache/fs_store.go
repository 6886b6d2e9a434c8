package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// copyChunkSize 限制单次拷贝的缓冲大小，正文不会整体驻留内存。
const copyChunkSize = 32 * 1024

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 URL 并发写入；rootMu 让 Clear 与
// rename 互斥，清空缓存时不会夹杂半完成的条目。
type fileStore struct {
	basePath string

	rootMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.basePath
}

func (s *fileStore) Has(ctx context.Context, u *url.URL) bool {
	_, err := s.Get(ctx, u)
	return err == nil
}

func (s *fileStore) Get(ctx context.Context, u *url.URL) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(u)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &Entry{
		URL:       u.String(),
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Put(ctx context.Context, u *url.URL, body io.Reader, opts PutOptions) (*Entry, error) {
	filePath, err := s.entryPath(u)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	// 先在临时文件上设置时间戳，rename 后条目即刻完整可见。
	if err := os.Chtimes(tempName, modTime, modTime); err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.rootMu.RLock()
	err = os.Rename(tempName, filePath)
	s.rootMu.RUnlock()
	if err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return &Entry{
		URL:       u.String(),
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) Fetch(ctx context.Context, u *url.URL, src Source) (*Entry, error) {
	// 先确认条目可落盘，无法映射的地址不应触发回源。
	if _, err := s.entryPath(u); err != nil {
		return nil, err
	}
	resp, err := src.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return s.Put(ctx, u, resp.Body, PutOptions{ModTime: resp.LastModified})
}

func (s *fileStore) Remove(ctx context.Context, u *url.URL) error {
	filePath, err := s.entryPath(u)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rootMu.Lock()
	defer s.rootMu.Unlock()

	if err := os.RemoveAll(s.basePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(s.basePath, 0o755)
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(u *url.URL) (string, error) {
	if u == nil {
		return "", fmt.Errorf("%w: nil url", ErrMalformedAddress)
	}
	return LocalPath(s.basePath, u)
}

// copyWithContext 分块拷贝，每块之间检查取消信号。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, fmt.Errorf("%w: %w", ErrWriteFailed, wErr)
			}
			if w < n {
				return copied, fmt.Errorf("%w: %w", ErrWriteFailed, io.ErrShortWrite)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

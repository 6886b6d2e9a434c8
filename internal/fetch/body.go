package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var errTransferAborted = errors.New("transfer closed before completion")

// trackedBody 在正文读取上叠加空闲读超时与进度通知。
// 超时触发时取消请求 context，使阻塞中的 Read 立即返回。
type trackedBody struct {
	rc      io.ReadCloser
	parent  context.Context
	cancel  context.CancelFunc
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool

	url     string
	total   int64
	done    int64
	eof     bool
	monitor Monitor
	// onFinish 在传输结束（EOF、读错误或提前关闭）时调用一次。
	onFinish func(error)
	once     sync.Once
}

func newTrackedBody(parent context.Context, cancel context.CancelFunc, rc io.ReadCloser, idle time.Duration, rawURL string, total int64, monitor Monitor, onFinish func(error)) *trackedBody {
	b := &trackedBody{
		rc:       rc,
		parent:   parent,
		cancel:   cancel,
		idle:     idle,
		url:      rawURL,
		total:    total,
		monitor:  monitor,
		onFinish: onFinish,
	}
	if idle > 0 {
		b.timer = time.AfterFunc(idle, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.timer != nil && err == nil {
		b.timer.Reset(b.idle)
	}
	if n > 0 {
		b.done += int64(n)
		b.monitor.FetchProgress(b.url, b.done, b.total)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		b.eof = true
		b.stopTimer()
		b.finish(nil)
	default:
		err = b.readError(err)
		b.stopTimer()
		b.finish(err)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	b.stopTimer()
	err := b.rc.Close()
	b.cancel()
	if !b.eof {
		abortErr := errTransferAborted
		if ctxErr := b.parent.Err(); ctxErr != nil {
			abortErr = ctxErr
		}
		b.finish(abortErr)
	}
	return err
}

func (b *trackedBody) readError(err error) error {
	if ctxErr := b.parent.Err(); ctxErr != nil {
		return ctxErr
	}
	if b.expired.Load() {
		return fmt.Errorf("%w: no data received for %s", ErrUnavailable, b.idle)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (b *trackedBody) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *trackedBody) finish(err error) {
	b.once.Do(func() {
		b.monitor.FetchFinished(b.url, b.done, err)
		if b.onFinish != nil {
			b.onFinish(err)
		}
	})
}

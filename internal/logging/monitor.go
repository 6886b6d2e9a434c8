package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// FetchMonitor 将下载进度写入结构化日志。进度每跨过 step 字节记录一次，
// 避免大文件刷屏。
type FetchMonitor struct {
	logger *logrus.Logger
	step   int64

	mu      sync.Mutex
	buckets map[string]int64
}

// NewFetchMonitor 构造日志型进度监听器，step<=0 时使用 1MiB。
func NewFetchMonitor(logger *logrus.Logger, step int64) *FetchMonitor {
	if step <= 0 {
		step = 1 << 20
	}
	return &FetchMonitor{
		logger:  logger,
		step:    step,
		buckets: make(map[string]int64),
	}
}

func (m *FetchMonitor) FetchStarted(url string, total int64) {
	m.logger.WithFields(logrus.Fields{
		"action": "fetch",
		"url":    url,
		"total":  total,
	}).Debug("fetch_started")
}

func (m *FetchMonitor) FetchProgress(url string, done, total int64) {
	bucket := done / m.step
	if bucket == 0 {
		return
	}
	m.mu.Lock()
	if m.buckets[url] >= bucket {
		m.mu.Unlock()
		return
	}
	m.buckets[url] = bucket
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"action": "fetch",
		"url":    url,
		"done":   done,
		"total":  total,
	}).Debug("fetch_progress")
}

func (m *FetchMonitor) FetchFinished(url string, done int64, err error) {
	m.mu.Lock()
	delete(m.buckets, url)
	m.mu.Unlock()

	entry := m.logger.WithFields(logrus.Fields{
		"action": "fetch",
		"url":    url,
		"done":   done,
	})
	if err != nil {
		entry.WithError(err).Warn("fetch_aborted")
		return
	}
	entry.Debug("fetch_finished")
}

package server

import (
	"errors"
	"sync"

	"github.com/concord-consortium/mw-sub002/internal/freshness"
)

const defaultMaxBatches = 1024

// ErrTooManyBatches 表示打开的批次数量已达上限，调用方需先结束旧批次。
var ErrTooManyBatches = errors.New("too many open batches")

// BatchRegistry 为 HTTP 调用方保存批次，按 ID 查找。进程内调用方
// 直接持有 *freshness.Batch，无需经过注册表。
type BatchRegistry struct {
	mu      sync.Mutex
	max     int
	batches map[string]*freshness.Batch
}

// NewBatchRegistry 构建注册表，max<=0 时使用默认上限。
func NewBatchRegistry(max int) *BatchRegistry {
	if max <= 0 {
		max = defaultMaxBatches
	}
	return &BatchRegistry{
		max:     max,
		batches: make(map[string]*freshness.Batch),
	}
}

// Add 登记批次。
func (r *BatchRegistry) Add(batch *freshness.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) >= r.max {
		return ErrTooManyBatches
	}
	r.batches[batch.ID()] = batch
	return nil
}

// Lookup 根据 ID 查找批次。
func (r *BatchRegistry) Lookup(id string) (*freshness.Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	return batch, ok
}

// Remove 结束批次，返回是否存在。
func (r *BatchRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[id]; !ok {
		return false
	}
	delete(r.batches, id)
	return true
}

// Len 返回当前打开的批次数量。
func (r *BatchRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

package freshness

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Batch 表示调用方定义的一组资源加载（例如同一页面引用的全部资源），
// 组内只执行一次 HEAD，其结论被后续成员沿用，直到 Reset。
//
// 代表性检查进行期间，并发到达的成员等待 inflight 关闭而不是各自发起 HEAD；
// 等待方的 ctx 取消时立即返回。
type Batch struct {
	id string

	mu           sync.Mutex
	decided      bool
	forceRefetch bool
	checks       int
	// generation 在每次 Reset 时递增，旧窗口内完成的检查不再写入结论。
	generation uint64
	inflight   chan struct{}
}

// NewBatch 创建一个尚未决策的批次。
func NewBatch() *Batch {
	return &Batch{id: uuid.NewString()}
}

// ID 返回批次标识，用于日志与控制接口。
func (b *Batch) ID() string {
	if b == nil {
		return ""
	}
	return b.id
}

// Reset 开启新的决策窗口，下一个成员会重新执行 HEAD。
// 进行中的代表性检查完成后不会写回结论。
func (b *Batch) Reset() {
	b.mu.Lock()
	b.decided = false
	b.forceRefetch = false
	b.generation++
	b.mu.Unlock()
}

// State 返回当前是否已决策以及沿用的结论。
func (b *Batch) State() (decided, forceRefetch bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decided, b.forceRefetch
}

// Checks 返回本批次累计执行的元数据检查次数（跨 Reset 累加）。
func (b *Batch) Checks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checks
}

// resolve 在批次已决策时直接返回结论；否则由第一个到达的成员执行 check，
// 其余成员等待。check 返回 record=false 时结论不写入批次（例如上下文已取消），
// 等待方随后重新竞争代表权。
func (b *Batch) resolve(ctx context.Context, check func() (stale bool, record bool)) (stale bool, inherited bool, err error) {
	for {
		b.mu.Lock()
		if b.decided {
			stale := b.forceRefetch
			b.mu.Unlock()
			return stale, true, nil
		}
		if wait := b.inflight; wait != nil {
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return false, false, ctx.Err()
			}
		}
		done := make(chan struct{})
		b.inflight = done
		generation := b.generation
		b.mu.Unlock()

		stale, record := check()

		b.mu.Lock()
		b.checks++
		if record && generation == b.generation {
			b.decided = true
			b.forceRefetch = stale
		}
		b.inflight = nil
		close(done)
		b.mu.Unlock()
		return stale, false, nil
	}
}

package freshness

import "sync/atomic"

// Mode 是一次加载开始时读取的开关快照，整次加载只使用这一份。
type Mode struct {
	CachingEnabled bool `json:"caching_enabled"`
	Offline        bool `json:"offline"`
}

// Gate 保存离线模式与缓存总开关，可被多个 goroutine 并发切换。
type Gate struct {
	offline atomic.Bool
	caching atomic.Bool
}

// NewGate 以初始模式构建开关。
func NewGate(mode Mode) *Gate {
	g := &Gate{}
	g.offline.Store(mode.Offline)
	g.caching.Store(mode.CachingEnabled)
	return g
}

func (g *Gate) SetOffline(offline bool) {
	g.offline.Store(offline)
}

func (g *Gate) SetCachingEnabled(enabled bool) {
	g.caching.Store(enabled)
}

func (g *Gate) Snapshot() Mode {
	return Mode{
		CachingEnabled: g.caching.Load(),
		Offline:        g.offline.Load(),
	}
}

package fetch

// Monitor 接收下载进度通知，供 zip 解压工具、UI 下载指示器等外部协作方使用。
// total 未知时为 -1。实现需可被并发调用。
type Monitor interface {
	FetchStarted(url string, total int64)
	FetchProgress(url string, done, total int64)
	FetchFinished(url string, done int64, err error)
}

// NopMonitor 丢弃所有通知。
type NopMonitor struct{}

func (NopMonitor) FetchStarted(string, int64)         {}
func (NopMonitor) FetchProgress(string, int64, int64) {}
func (NopMonitor) FetchFinished(string, int64, error) {}

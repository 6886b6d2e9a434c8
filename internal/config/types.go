package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 兼容 Go Duration 字符串（"5s"）与纯整数毫秒值（5000）。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"250ms" 或纯数字毫秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Milliseconds 以毫秒输出，对应配置的原始单位。
func (d Duration) Milliseconds() int64 {
	return time.Duration(d).Milliseconds()
}

// LogConfig 控制日志级别与落盘轮转。
type LogConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 是缓存子系统的全部可调参数。
type CacheConfig struct {
	// StoragePath 是缓存根目录，由应用初始化提供。
	StoragePath string `mapstructure:"StoragePath"`
	// TransientPath 存放不缓存的直读结果，不能位于 StoragePath 之下。
	TransientPath  string   `mapstructure:"TransientPath"`
	CachingEnabled bool     `mapstructure:"CachingEnabled"`
	OfflineMode    bool     `mapstructure:"OfflineMode"`
	ConnectTimeout Duration `mapstructure:"ConnectTimeout"`
	ReadTimeout    Duration `mapstructure:"ReadTimeout"`
	StaleTolerance Duration `mapstructure:"StaleTolerance"`
}

// Config 是 TOML 文件映射的整体结构，所有键都位于顶层。
type Config struct {
	Log        LogConfig   `mapstructure:",squash"`
	Cache      CacheConfig `mapstructure:",squash"`
	ListenPort int         `mapstructure:"ListenPort"`
}

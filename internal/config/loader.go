package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultConnectTimeout = 5000 * time.Millisecond
	defaultReadTimeout    = 30000 * time.Millisecond
	defaultStaleTolerance = 5000 * time.Millisecond
	defaultListenPort     = 5080
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不读取文件时的默认配置，供嵌入式调用与测试使用。
func Default(storagePath string) *Config {
	cfg := &Config{
		Log: LogConfig{
			LogLevel:      "info",
			LogMaxSize:    100,
			LogMaxBackups: 10,
			LogCompress:   true,
		},
		Cache: CacheConfig{
			StoragePath:    storagePath,
			CachingEnabled: true,
			ConnectTimeout: Duration(defaultConnectTimeout),
			ReadTimeout:    Duration(defaultReadTimeout),
			StaleTolerance: Duration(defaultStaleTolerance),
		},
		ListenPort: defaultListenPort,
	}
	applyDefaults(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("TransientPath", "")
	v.SetDefault("CachingEnabled", true)
	v.SetDefault("OfflineMode", false)
	v.SetDefault("ConnectTimeout", defaultConnectTimeout.Milliseconds())
	v.SetDefault("ReadTimeout", defaultReadTimeout.Milliseconds())
	v.SetDefault("StaleTolerance", defaultStaleTolerance.Milliseconds())
}

// applyDefaults 补齐零值并把目录统一为绝对路径。
func applyDefaults(cfg *Config) {
	c := &cfg.Cache
	if c.ConnectTimeout.DurationValue() == 0 {
		c.ConnectTimeout = Duration(defaultConnectTimeout)
	}
	if c.ReadTimeout.DurationValue() == 0 {
		c.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.TransientPath == "" {
		c.TransientPath = filepath.Join(os.TempDir(), "mwcache-transient")
	}
	if c.StoragePath != "" {
		if abs, err := filepath.Abs(c.StoragePath); err == nil {
			c.StoragePath = abs
		}
	}
	if abs, err := filepath.Abs(c.TransientPath); err == nil {
		c.TransientPath = abs
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = defaultListenPort
	}
	if cfg.Log.LogLevel == "" {
		cfg.Log.LogLevel = "info"
	}
}

// durationDecodeHook 将整数解释为毫秒，字符串优先按 Go Duration 解析。
func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if ms, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(ms * float64(time.Millisecond))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Millisecond), nil
		case int64:
			return Duration(time.Duration(v) * time.Millisecond), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Millisecond))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", c.ListenPort, "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(c.Log.LogLevel); err != nil {
		return newFieldError("LogLevel", c.Log.LogLevel, "无法识别的日志级别")
	}
	if c.Log.LogMaxSize < 0 || c.Log.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", fmt.Sprintf("%d/%d", c.Log.LogMaxSize, c.Log.LogMaxBackups), "不能为负数")
	}

	cc := c.Cache
	if strings.TrimSpace(cc.StoragePath) == "" {
		return newFieldError("StoragePath", "", "不能为空")
	}
	if cc.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("ConnectTimeout", cc.ConnectTimeout.DurationValue(), "必须大于 0")
	}
	if cc.ReadTimeout.DurationValue() <= 0 {
		return newFieldError("ReadTimeout", cc.ReadTimeout.DurationValue(), "必须大于 0")
	}
	if cc.StaleTolerance.DurationValue() < 0 {
		return newFieldError("StaleTolerance", cc.StaleTolerance.DurationValue(), "不能为负数")
	}
	if isWithin(cc.StoragePath, cc.TransientPath) {
		return newFieldError("TransientPath", cc.TransientPath, "不能位于 StoragePath 之下")
	}

	return nil
}

// isWithin 判断 child 是否等于或位于 parent 之下。
func isWithin(parent, child string) bool {
	if parent == "" || child == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

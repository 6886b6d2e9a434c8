package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LoadFields 提供资源加载日志的公共字段。
func LoadFields(url, batchID, reason string) logrus.Fields {
	fields := logrus.Fields{
		"action": "load",
		"url":    url,
	}
	if batchID != "" {
		fields["batch_id"] = batchID
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return fields
}

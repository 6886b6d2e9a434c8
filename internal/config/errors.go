package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有字段校验失败的根因，调用方可用 errors.Is 判定。
var ErrInvalidConfig = errors.New("invalid mwcache config")

// FieldError 记录出错的配置键、实际取值与原因，mwcache -check-config 直接打印。
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s=%s: %s", e.Field, e.Value, e.Reason)
}

func (e FieldError) Unwrap() error { return ErrInvalidConfig }

func newFieldError(field string, value any, reason string) error {
	return FieldError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}

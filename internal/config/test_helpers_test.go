package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixturePath 返回 testdata 下的配置样例。
func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}

// writeCacheConfig 生成以 StoragePath 开头的临时 TOML，extra 按行追加。
func writeCacheConfig(t *testing.T, storagePath string, extra ...string) string {
	t.Helper()
	lines := append([]string{fmt.Sprintf("StoragePath = %q", filepath.ToSlash(storagePath))}, extra...)
	path := filepath.Join(t.TempDir(), "mwcache.toml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

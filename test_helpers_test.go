package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliOutput 收集一次 run 调用写到 stdOut/stdErr 的内容。
type cliOutput struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// captureCLI 在测试期间把 CLI 输出重定向到内存。
func captureCLI(t *testing.T) *cliOutput {
	t.Helper()
	out := &cliOutput{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &out.stdout, &out.stderr
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out
}

// configFixture 指向 internal/config/testdata；go test 以包目录为工作目录。
func configFixture(name string) string {
	return filepath.Join("internal", "config", "testdata", name)
}

// writeCacheConfig 生成一份把缓存与临时目录放在 dir 下的配置，extra 按行追加。
func writeCacheConfig(t *testing.T, dir string, extra ...string) string {
	t.Helper()
	lines := []string{
		fmt.Sprintf("StoragePath = %q", filepath.ToSlash(filepath.Join(dir, "cache"))),
		fmt.Sprintf("TransientPath = %q", filepath.ToSlash(filepath.Join(dir, "transient"))),
	}
	lines = append(lines, extra...)
	path := filepath.Join(t.TempDir(), "mwcache.toml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

package cache

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrMalformedAddress 表示输入不是可用的 http/https URL，或映射后的路径越界。
var ErrMalformedAddress = errors.New("malformed resource address")

// dynamicExtensions 列出由服务端执行生成内容的后缀，此类 URL 永远不进入缓存。
var dynamicExtensions = map[string]struct{}{
	".jsp":  {},
	".php":  {},
	".asp":  {},
	".aspx": {},
	".cgi":  {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// ParseAddress 解析资源 URL，仅接受带 Host 的 http/https 地址。
func ParseAddress(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMalformedAddress)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedAddress, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %s", ErrMalformedAddress, raw)
	}
	if namesNoFile(u.Path) {
		return nil, fmt.Errorf("%w: %s resolves to no file", ErrMalformedAddress, u.Redacted())
	}
	u.Scheme = scheme
	u.Fragment = ""
	return u, nil
}

// namesNoFile 识别以 . 或 .. 结尾的路径，这类路径清理后不对应任何文件。
func namesNoFile(p string) bool {
	last := p[strings.LastIndex(p, "/")+1:]
	return last == "." || last == ".."
}

// IsDynamicContent reports whether the URL carries a query or points at a
// server-side script. Dynamic content bypasses the cache on every path.
func IsDynamicContent(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.RawQuery != "" || u.ForceQuery {
		return true
	}
	// servlet 风格的 ;jsessionid= 参数不属于扩展名。
	p, _, _ := strings.Cut(path.Base(u.Path), ";")
	ext := strings.ToLower(path.Ext(p))
	_, ok := dynamicExtensions[ext]
	return ok
}

// Cacheable 要求 URL 非动态内容且路径指向文件（目录形式无法落盘）。
func Cacheable(u *url.URL) bool {
	if u == nil || IsDynamicContent(u) {
		return false
	}
	p := u.Path
	return p != "" && !strings.HasSuffix(p, "/")
}

// hostSegment 生成 host[@port] 目录名，默认端口省略。
func hostSegment(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" || port == defaultPorts[strings.ToLower(u.Scheme)] {
		return host
	}
	return host + "@" + port
}

// LocalPath 按 <root>/<host>[@<port>]/<decoded-path> 规则计算缓存文件路径。
func LocalPath(root string, u *url.URL) (string, error) {
	if u == nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrMalformedAddress)
	}
	hostDir := filepath.Join(root, hostSegment(u))

	// u.Path 已是百分号解码后的形式。
	rel := path.Clean("/" + u.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %s has no file path", ErrMalformedAddress, u.Redacted())
	}

	filePath := filepath.Join(hostDir, filepath.FromSlash(rel))
	if filePath != hostDir && !strings.HasPrefix(filePath, hostDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid cache path for %s", ErrMalformedAddress, u.Redacted())
	}
	return filePath, nil
}

// RemoteURL 是 LocalPath 的逆映射，仅用于诊断。路径不在 root 之下时返回 false。
// 磁盘布局不记录 scheme，因此结果总是 http://。
func RemoteURL(root, localPath string) (string, bool) {
	root = toSlash(filepath.Clean(root))
	local := toSlash(filepath.Clean(localPath))

	prefix := strings.TrimSuffix(root, "/") + "/"
	if !strings.HasPrefix(local, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(local, prefix)

	hostPart, filePart, ok := strings.Cut(rest, "/")
	if !ok || hostPart == "" || filePart == "" {
		return "", false
	}

	host := hostPart
	if h, port, found := strings.Cut(hostPart, "@"); found {
		if h == "" || port == "" {
			return "", false
		}
		host = net.JoinHostPort(h, port)
	} else if strings.Contains(host, ":") {
		// IPv6 字面量落盘时不带方括号。
		host = "[" + host + "]"
	}

	u := &url.URL{
		Scheme: "http",
		Host:   host,
		Path:   "/" + filePart,
	}
	return u.String(), true
}

// toSlash 同时兼容 Windows 与 POSIX 分隔符。
func toSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}

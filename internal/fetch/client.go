package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/concord-consortium/mw-sub002/internal/version"
)

const (
	// DefaultConnectTimeout 与 DefaultReadTimeout 对应配置缺省的 5000ms / 30000ms。
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

var (
	// ErrNotFound 表示上游明确告知资源不存在（404/410），调用方不应重试。
	ErrNotFound = errors.New("remote resource not found")
	// ErrUnavailable 覆盖连接失败、超时与非预期状态码等瞬时网络故障。
	ErrUnavailable = errors.New("network unavailable")
)

// Response 描述一次 GET 的结果。Body 需由调用方关闭。
type Response struct {
	URL           string
	StatusCode    int
	ContentLength int64
	LastModified  time.Time
	Body          io.ReadCloser
}

// RequestObserver 接收每次上游请求的结果，通常由 metrics.Collector 实现。
type RequestObserver interface {
	ObserveRequest(method, outcome string, elapsed time.Duration)
}

// Options controls timeouts and collaborators of a Client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Monitor        Monitor
	Observer       RequestObserver
}

// Client performs bounded GET/HEAD requests against resource origins.
type Client struct {
	httpClient  *http.Client
	readTimeout time.Duration
	monitor     Monitor
	observer    RequestObserver
}

// NewClient 构造共享连接池的 Client；连接超时作用于拨号与 TLS 握手，
// 读超时同时作用于等待响应头与正文的每次读取。
func NewClient(opts Options) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	read := opts.ReadTimeout
	if read <= 0 {
		read = DefaultReadTimeout
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = NopMonitor{}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		readTimeout: read,
		monitor:     monitor,
		observer:    opts.Observer,
	}
}

// Get 发起 GET 请求并返回流式正文。404/410 映射为 ErrNotFound，
// 其它失败映射为 ErrUnavailable；调用方取消时返回 ctx.Err()。
func (c *Client) Get(ctx context.Context, u *url.URL) (*Response, error) {
	started := time.Now()
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		err = classify(ctx, err)
		c.observe(http.MethodGet, err, started)
		return nil, err
	}

	if err := statusError(http.MethodGet, u, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		c.observe(http.MethodGet, err, started)
		return nil, err
	}

	lastModified, _ := parseLastModified(resp.Header)
	total := resp.ContentLength
	c.monitor.FetchStarted(u.String(), total)

	return &Response{
		URL:           u.String(),
		StatusCode:    resp.StatusCode,
		ContentLength: total,
		LastModified:  lastModified,
		Body: newTrackedBody(ctx, cancel, resp.Body, c.readTimeout, u.String(), total, c.monitor, func(err error) {
			// GET 的结果以正文传输结束为准，正文中途失败同样计入。
			c.observe(http.MethodGet, err, started)
		}),
	}, nil
}

// HeadLastModified 只取元数据。任何失败都返回零值时间（“未知”），
// 调用方据此判定无法确定新鲜度。
func (c *Client) HeadLastModified(ctx context.Context, u *url.URL) (time.Time, error) {
	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classify(ctx, err)
		c.observe(http.MethodHead, err, started)
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if err := statusError(http.MethodHead, u, resp.StatusCode); err != nil {
		c.observe(http.MethodHead, err, started)
		return time.Time{}, err
	}
	c.observe(http.MethodHead, nil, started)

	lm, err := parseLastModified(resp.Header)
	if err != nil {
		return time.Time{}, err
	}
	return lm, nil
}

// CloseIdleConnections 释放连接池中的空闲连接。
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) observe(method string, err error, started time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveRequest(method, Outcome(err), time.Since(started))
}

// Outcome 将错误归类为 ok/not_found/unavailable/canceled/aborted，便于日志与指标复用。
// aborted 表示调用方未读完正文就关闭了它。
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, errTransferAborted):
		return "aborted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unavailable"
	}
}

func statusError(method string, u *url.URL, status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: %s %s returned %d", ErrNotFound, method, u.Redacted(), status)
	case status < 200 || status > 299:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, u.Redacted(), status)
	}
	return nil
}

// classify 区分调用方主动取消与网络故障。
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func parseLastModified(header http.Header) (time.Time, error) {
	raw := header.Get("Last-Modified")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse Last-Modified %q: %w", raw, err)
	}
	return t.UTC(), nil
}

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/concord-consortium/mw-sub002/internal/config"
	"github.com/concord-consortium/mw-sub002/internal/logging"
)

var upstreamModified = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type upstreamStub struct {
	*httptest.Server
	gets  atomic.Int32
	heads atomic.Int32
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.cml" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodHead:
			stub.heads.Add(1)
		case http.MethodGet:
			stub.gets.Add(1)
		}
		w.Header().Set("Last-Modified", upstreamModified.Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/xml")
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, "<model path=\""+r.URL.Path+"\"/>")
		}
	}))
	t.Cleanup(stub.Close)
	return stub
}

type testApp struct {
	*fiber.App
	runtime  *Runtime
	upstream *upstreamStub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(filepath.Join(dir, "cache"))
	cfg.Cache.TransientPath = filepath.Join(dir, "transient")

	logger := logging.NewDiscardLogger()
	rt, err := Bootstrap(cfg, logger)
	if err != nil {
		t.Fatalf("bootstrap error: %v", err)
	}
	t.Cleanup(rt.Close)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Loader:     rt.Loader,
		Batches:    rt.Batches,
		Metrics:    rt.Metrics,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		t.Fatalf("new app error: %v", err)
	}
	return &testApp{App: app, runtime: rt, upstream: newUpstreamStub(t)}
}

func (a *testApp) do(t *testing.T, method, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := a.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test %s %s failed: %v", method, target, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

func (a *testApp) resourceURL(p string) string {
	return url.QueryEscape(a.upstream.URL + p)
}

func decodeJSON(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", string(body), err)
	}
	return out
}

func TestLoadFetchesThenServesFresh(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.do(t, http.MethodGet, "/-/load?url="+app.resourceURL("/models/a.cml"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	first := decodeJSON(t, body)
	if first["status"] != "fetched" {
		t.Fatalf("expected fetched, got %v", first["status"])
	}
	path, _ := first["path"].(string)
	if !strings.HasPrefix(path, app.runtime.Loader.Root()) {
		t.Fatalf("path %s should be under cache root", path)
	}

	_, body = app.do(t, http.MethodGet, "/-/load?url="+app.resourceURL("/models/a.cml"))
	second := decodeJSON(t, body)
	if second["status"] != "fresh" || second["reason"] != "unchanged" {
		t.Fatalf("expected fresh/unchanged, got %v", second)
	}
	if got := app.upstream.gets.Load(); got != 1 {
		t.Fatalf("expected one upstream GET, got %d", got)
	}
}

func TestResourceStreamsCachedBody(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.do(t, http.MethodGet, "/-/resource?url="+app.resourceURL("/models/b.cml"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if string(body) != `<model path="/models/b.cml"/>` {
		t.Fatalf("unexpected body %q", string(body))
	}
	if resp.Header.Get("X-Mwcache-Status") != "fetched" {
		t.Fatalf("unexpected cache status header %q", resp.Header.Get("X-Mwcache-Status"))
	}
}

func TestLoadErrorsAreMapped(t *testing.T) {
	app := newTestApp(t)

	cases := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing url", "/-/load", fiber.StatusBadRequest, "malformed_address"},
		{"bad scheme", "/-/load?url=" + url.QueryEscape("ftp://example.org/a.cml"), fiber.StatusBadRequest, "malformed_address"},
		{"not found", "/-/load?url=" + app.resourceURL("/missing.cml"), fiber.StatusNotFound, "not_found"},
		{"unknown batch", "/-/load?batch=nope&url=" + app.resourceURL("/a.cml"), fiber.StatusNotFound, "batch_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := app.do(t, http.MethodGet, tc.target)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, resp.StatusCode, body)
			}
			if got := decodeJSON(t, body)["error"]; got != tc.code {
				t.Fatalf("expected error %s, got %v", tc.code, got)
			}
		})
	}
}

func TestBatchLifecycle(t *testing.T) {
	app := newTestApp(t)

	// 先填充缓存，批次内的检查才会走 HEAD。
	for _, p := range []string{"/p/one.cml", "/p/two.cml", "/p/three.cml"} {
		app.do(t, http.MethodGet, "/-/load?url="+app.resourceURL(p))
	}
	headsBefore := app.upstream.heads.Load()

	resp, body := app.do(t, http.MethodPost, "/-/batches")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	id, _ := decodeJSON(t, body)["id"].(string)
	if id == "" {
		t.Fatalf("expected batch id in %s", body)
	}

	for _, p := range []string{"/p/one.cml", "/p/two.cml", "/p/three.cml"} {
		resp, body := app.do(t, http.MethodGet, "/-/load?batch="+id+"&url="+app.resourceURL(p))
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("load in batch failed: %d (%s)", resp.StatusCode, body)
		}
	}
	if got := app.upstream.heads.Load() - headsBefore; got != 1 {
		t.Fatalf("expected one HEAD for the batch, got %d", got)
	}

	_, body = app.do(t, http.MethodGet, "/-/batches/"+id)
	state := decodeJSON(t, body)
	if state["decided"] != true || state["checks"] != float64(1) {
		t.Fatalf("unexpected batch state %v", state)
	}

	_, body = app.do(t, http.MethodPost, "/-/batches/"+id+"/reset")
	if decodeJSON(t, body)["decided"] != false {
		t.Fatalf("reset should clear decision: %s", body)
	}

	if resp, _ := app.do(t, http.MethodDelete, "/-/batches/"+id); resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", resp.StatusCode)
	}
	if resp, _ := app.do(t, http.MethodDelete, "/-/batches/"+id); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestModeSwitchesOffline(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.do(t, http.MethodPut, "/-/mode?offline=true")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	mode := decodeJSON(t, body)
	if mode["offline"] != true || mode["caching_enabled"] != true {
		t.Fatalf("unexpected mode %v", mode)
	}

	resp, body = app.do(t, http.MethodGet, "/-/load?url="+app.resourceURL("/never/fetched.cml"))
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 offline miss, got %d (%s)", resp.StatusCode, body)
	}
	if decodeJSON(t, body)["error"] != "no_local_copy" {
		t.Fatalf("expected no_local_copy, got %s", body)
	}
	if app.upstream.gets.Load() != 0 || app.upstream.heads.Load() != 0 {
		t.Fatalf("offline mode must not touch the network")
	}

	if resp, _ := app.do(t, http.MethodPut, "/-/mode?caching=maybe"); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid flag, got %d", resp.StatusCode)
	}
}

func TestClearAndEntry(t *testing.T) {
	app := newTestApp(t)
	target := app.resourceURL("/c/model.cml")

	app.do(t, http.MethodGet, "/-/load?url="+target)
	_, body := app.do(t, http.MethodGet, "/-/entry?url="+target)
	entry := decodeJSON(t, body)
	if entry["cached"] != true {
		t.Fatalf("expected cached entry, got %v", entry)
	}
	localPath, _ := entry["path"].(string)

	_, body = app.do(t, http.MethodGet, "/-/lookup?path="+url.QueryEscape(localPath))
	if got := decodeJSON(t, body)["url"]; got != app.upstream.URL+"/c/model.cml" {
		t.Fatalf("unexpected reverse mapping %v", got)
	}

	if resp, _ := app.do(t, http.MethodPost, "/-/cache/clear"); resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", resp.StatusCode)
	}
	_, body = app.do(t, http.MethodGet, "/-/entry?url="+target)
	if decodeJSON(t, body)["cached"] != false {
		t.Fatalf("entry should be gone after clear: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.do(t, http.MethodGet, "/-/load?url="+app.resourceURL("/m/a.cml"))

	resp, body := app.do(t, http.MethodGet, "/metrics")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `mwcache_loads_total{status="fetched"} 1`) {
		t.Fatalf("expected load counter in metrics output:\n%s", body)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logging.NewDiscardLogger()}); err == nil {
		t.Fatalf("expected error without loader")
	}
}

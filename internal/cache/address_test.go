package cache

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseAddressRejectsUnsupportedInput(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"ftp://example.org/a.cml",
		"file:///tmp/a.cml",
		"models/a.cml",
		"http:///a.cml",
		"http://exa mple.org/a.cml",
		"http://example.org/..",
		"http://example.org/.",
		"http://example.org/models/..",
		"http://example.org/%2e%2e",
	}
	for _, raw := range cases {
		if _, err := ParseAddress(raw); !errors.Is(err, ErrMalformedAddress) {
			t.Fatalf("expected ErrMalformedAddress for %q, got %v", raw, err)
		}
	}
}

func TestParseAddressNormalizesSchemeAndFragment(t *testing.T) {
	u, err := ParseAddress("HTTP://example.org/a.cml#section")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if u.Scheme != "http" || u.Fragment != "" {
		t.Fatalf("unexpected url %s", u.String())
	}
}

func TestIsDynamicContent(t *testing.T) {
	cases := map[string]bool{
		"http://example.org/models/a.cml":               false,
		"http://example.org/models/a.cml?x=1":           true,
		"http://example.org/models/a.cml?":              true,
		"http://example.org/cgi/run.cgi":                true,
		"http://example.org/page.JSP":                   true,
		"http://example.org/page.php":                   true,
		"http://example.org/page.asp":                   true,
		"http://example.org/page.aspx":                  true,
		"http://example.org/images/diagram.png":         false,
		"http://example.org/run/model.jsp;jsessionid=1": true,
		"http://example.org/models/a.cml;v=2":           false,
	}
	for raw, want := range cases {
		u := mustParse(t, raw)
		if got := IsDynamicContent(u); got != want {
			t.Fatalf("IsDynamicContent(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestCacheableRequiresFilePath(t *testing.T) {
	cases := map[string]bool{
		"http://example.org/a/b.cml": true,
		"http://example.org/":        false,
		"http://example.org":         false,
		"http://example.org/dir/":    false,
		"http://example.org/a.jsp":   false,
	}
	for raw, want := range cases {
		if got := Cacheable(mustParse(t, raw)); got != want {
			t.Fatalf("Cacheable(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestLocalPathLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	cases := []struct {
		raw  string
		want []string
	}{
		{"http://mw.concord.org/models/a.cml", []string{"mw.concord.org", "models", "a.cml"}},
		{"http://mw.concord.org:80/models/a.cml", []string{"mw.concord.org", "models", "a.cml"}},
		{"https://mw.concord.org:443/models/a.cml", []string{"mw.concord.org", "models", "a.cml"}},
		{"http://localhost:8080/x/y.png", []string{"localhost@8080", "x", "y.png"}},
		{"https://example.org:80/z.txt", []string{"example.org@80", "z.txt"}},
		{"http://example.org/my%20model/a%2Bb.cml", []string{"example.org", "my model", "a+b.cml"}},
		{"http://example.org/a/../b/./c.cml", []string{"example.org", "b", "c.cml"}},
	}
	for _, tc := range cases {
		got, err := LocalPath(root, mustParse(t, tc.raw))
		if err != nil {
			t.Fatalf("LocalPath(%s) error: %v", tc.raw, err)
		}
		want := filepath.Join(append([]string{root}, tc.want...)...)
		if got != want {
			t.Fatalf("LocalPath(%s) = %s, want %s", tc.raw, got, want)
		}
	}
}

func TestLocalPathStaysUnderHost(t *testing.T) {
	root := t.TempDir()
	got, err := LocalPath(root, mustParse(t, "http://example.org/../../etc/passwd"))
	if err != nil {
		t.Fatalf("LocalPath error: %v", err)
	}
	want := filepath.Join(root, "example.org", "etc", "passwd")
	if got != want {
		t.Fatalf("expected clamped path %s, got %s", want, got)
	}

	if _, err := LocalPath(root, mustParse(t, "http://example.org/")); !errors.Is(err, ErrMalformedAddress) {
		t.Fatalf("expected ErrMalformedAddress for empty path, got %v", err)
	}
}

func TestRemoteURLRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	for _, raw := range []string{
		"http://mw.concord.org/models/a.cml",
		"http://localhost:8080/x/y.png",
		"http://[::1]:8080/models/a.cml",
		"http://[::1]/models/a.cml",
	} {
		local, err := LocalPath(root, mustParse(t, raw))
		if err != nil {
			t.Fatalf("LocalPath error: %v", err)
		}
		got, ok := RemoteURL(root, local)
		if !ok || got != raw {
			t.Fatalf("RemoteURL(%s) = %s,%v want %s", local, got, ok, raw)
		}
	}
}

func TestRemoteURLAssumesHTTP(t *testing.T) {
	root := t.TempDir()
	local, err := LocalPath(root, mustParse(t, "https://example.org/a.cml"))
	if err != nil {
		t.Fatalf("LocalPath error: %v", err)
	}
	got, ok := RemoteURL(root, local)
	if !ok || got != "http://example.org/a.cml" {
		t.Fatalf("expected http reverse mapping, got %s,%v", got, ok)
	}
}

func TestRemoteURLRejectsForeignPaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	cases := []string{
		filepath.Join(t.TempDir(), "elsewhere", "a.cml"),
		root,
		filepath.Join(root, "only-host"),
		root + "-sibling/host/a.cml",
	}
	for _, local := range cases {
		if got, ok := RemoteURL(root, local); ok {
			t.Fatalf("RemoteURL(%s) should fail, got %s", local, got)
		}
	}
}

func TestToSlashHandlesBackslashes(t *testing.T) {
	if got := toSlash(`C:\cache\example.org\a.cml`); got != "C:/cache/example.org/a.cml" {
		t.Fatalf("unexpected conversion %s", got)
	}
}

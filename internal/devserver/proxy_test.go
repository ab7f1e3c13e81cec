package devserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeProxy(t *testing.T) {
	tests := []struct {
		name    string
		spec    ProxySpec
		want    []ProxyRule
		wantErr bool
	}{
		{
			name: "zero value",
			spec: ProxySpec{},
		},
		{
			name: "target string is a catch-all",
			spec: ProxyTarget("http://localhost:3000"),
			want: []ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{Target: "http://localhost:3000"}}},
		},
		{
			name: "rules keep order and drop context and path",
			spec: ProxyRules(
				map[string]any{"context": "/api", "target": "http://api:8080", "changeOrigin": true},
				map[string]any{"path": []any{"/auth", "/login"}, "target": "http://auth:9090"},
			),
			want: []ProxyRule{
				{Context: []string{"/api"}, Options: ProxyOptions{Target: "http://api:8080", ChangeOrigin: true}},
				{Context: []string{"/auth", "/login"}, Options: ProxyOptions{Target: "http://auth:9090"}},
			},
		},
		{
			name: "single rule",
			spec: ProxyMap(map[string]any{"context": []string{"/ws"}, "target": "http://ws:1"}),
			want: []ProxyRule{{Context: []string{"/ws"}, Options: ProxyOptions{Target: "http://ws:1"}}},
		},
		{
			name: "unknown options are kept",
			spec: ProxyMap(map[string]any{"context": "/api", "target": "http://api", "logLevel": "debug"}),
			want: []ProxyRule{{Context: []string{"/api"}, Options: ProxyOptions{
				Target: "http://api",
				Extra:  map[string]any{"logLevel": "debug"},
			}}},
		},
		{
			name:    "missing context and path",
			spec:    ProxyRules(map[string]any{"target": "http://api"}),
			wantErr: true,
		},
		{
			name:    "missing target",
			spec:    ProxyMap(map[string]any{"context": "/api"}),
			wantErr: true,
		},
		{
			name:    "context of the wrong type",
			spec:    ProxyMap(map[string]any{"context": 42, "target": "http://api"}),
			wantErr: true,
		},
		{
			name:    "empty target string",
			spec:    ProxyTarget(""),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeProxy(tt.spec)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrProxyConfig)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestProxySpec_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		rules int
	}{
		{"string", `proxy: http://localhost:3000`, 1},
		{"sequence", "proxy:\n  - context: /api\n    target: http://a\n  - path: /b\n    target: http://b\n", 2},
		{"mapping", "proxy:\n  context: [/api, /auth]\n  target: http://a\n  secure: false\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				Proxy ProxySpec `yaml:"proxy"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &doc))
			require.False(t, doc.Proxy.IsZero())

			rules, err := NormalizeProxy(doc.Proxy)
			require.NoError(t, err)
			require.Len(t, rules, tt.rules)
		})
	}
}

func TestProxy_forwards(t *testing.T) {
	type seen struct {
		path   string
		host   string
		header string
	}
	requests := make(chan seen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{path: r.URL.Path, host: r.Host, header: r.Header.Get("X-Dev")}
		_, _ = io.WriteString(w, "upstream")
	}))
	defer upstream.Close()

	rules, err := NormalizeProxy(ProxyMap(map[string]any{
		"context":      "/api",
		"target":       upstream.URL,
		"changeOrigin": true,
		"pathRewrite":  map[string]any{"^/api": "/v1"},
		"headers":      map[string]any{"X-Dev": "yes"},
	}))
	require.NoError(t, err)

	mw, err := Proxy(rules)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := mw(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "upstream", rec.Body.String())

	got := <-requests
	require.Equal(t, "/v1/users", got.path)
	require.Equal(t, upstream.Listener.Addr().String(), got.host)
	require.Equal(t, "yes", got.header)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestProxy_keepsHostWithoutChangeOrigin(t *testing.T) {
	hosts := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.Host
	}))
	defer upstream.Close()

	mw, err := Proxy([]ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{Target: upstream.URL}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://app.local/page", nil)
	mw(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "app.local", <-hosts)
}

func TestProxy_caches(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = io.WriteString(w, "cached")
	}))
	defer upstream.Close()

	for name, opts := range map[string]ProxyOptions{
		"memory": {Target: upstream.URL, Cache: true},
		"disk":   {Target: upstream.URL, CacheDir: t.TempDir()},
	} {
		t.Run(name, func(t *testing.T) {
			hits.Store(0)
			mw, err := Proxy([]ProxyRule{{Context: []string{"/"}, Options: opts}})
			require.NoError(t, err)
			handler := mw(http.NotFoundHandler())

			for range 2 {
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/asset", nil))
				require.Equal(t, "cached", rec.Body.String())
			}
			require.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestProxy_badTarget(t *testing.T) {
	_, err := Proxy([]ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{Target: "not a url"}}})
	require.ErrorIs(t, err, ErrProxyConfig)

	_, err = Proxy([]ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{
		Target:      "http://localhost",
		PathRewrite: map[string]string{"(": ""},
	}}})
	require.ErrorIs(t, err, ErrProxyConfig)
}

func TestProxy_upstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	mw, err := Proxy([]ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{Target: upstream.URL}}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractClientIP_xForwardedFor(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{
			name:     "single IP",
			header:   "192.168.1.1",
			expected: "192.168.1.1",
		},
		{
			name:     "multiple IPs (take first)",
			header:   "203.0.113.1, 198.51.100.1",
			expected: "203.0.113.1",
		},
		{
			name:     "multiple IPs no spaces",
			header:   "203.0.113.1,198.51.100.1",
			expected: "203.0.113.1",
		},
		{
			name:     "multiple IPs with extra spaces",
			header:   "203.0.113.1  ,  198.51.100.1",
			expected: "203.0.113.1  ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("X-Forwarded-For", tt.header)

			ip := ExtractClientIP(r)
			require.Equal(t, tt.expected, ip)
		})
	}
}

func TestExtractClientIP_xRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "192.168.1.100")

	ip := ExtractClientIP(r)
	require.Equal(t, "192.168.1.100", ip)
}

func TestExtractClientIP_xForwardedForTakesPreference(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.1")
	r.Header.Set("X-Real-IP", "192.168.1.100")

	ip := ExtractClientIP(r)
	// X-Forwarded-For should take precedence
	require.Equal(t, "203.0.113.1", ip)
}

func TestExtractClientIP_remoteAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		expected   string
	}{
		{
			name:       "IPv4 with port",
			remoteAddr: "192.168.1.1:54321",
			expected:   "192.168.1.1",
		},
		{
			name:       "IPv6 with port",
			remoteAddr: "[2001:db8::1]:54321",
			expected:   "[2001:db8::1]",
		},
		{
			name:       "no port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr

			ip := ExtractClientIP(r)
			require.Equal(t, tt.expected, ip)
		})
	}
}

func TestCookieParser(t *testing.T) {
	var cookies map[string]string
	handler := CookieParser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = CookiesFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Add("Cookie", "session=abc; theme=dark")
	r.Header.Add("Cookie", "session=shadowed")

	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.Equal(t, map[string]string{"session": "abc", "theme": "dark"}, cookies)
}

func TestCookiesFromContext_missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Nil(t, CookiesFromContext(r.Context()))
}

func TestURLEncodedParser(t *testing.T) {
	var form url.Values
	handler := URLEncodedParser(DefaultBodyLimit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form = r.PostForm
	}))

	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("user=alice&remember=on"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.Equal(t, "alice", form.Get("user"))
	require.Equal(t, "on", form.Get("remember"))
}

func TestURLEncodedParser_tooLarge(t *testing.T) {
	handler := ErrorHandler()(URLEncodedParser(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("field=far-too-long-for-the-limit"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, ErrorBody, w.Body.String())
}

func TestJSONParser(t *testing.T) {
	t.Run("stores body and keeps it readable", func(t *testing.T) {
		var (
			stored []byte
			reread []byte
		)
		handler := JSONParser(DefaultBodyLimit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := JSONBodyFromContext(r.Context())
			require.True(t, ok)
			stored = body
			reread, _ = io.ReadAll(r.Body)
		}))

		r := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"widget"}`))
		r.Header.Set("Content-Type", "application/json")

		handler.ServeHTTP(httptest.NewRecorder(), r)

		require.JSONEq(t, `{"name":"widget"}`, string(stored))
		require.Equal(t, `{"name":"widget"}`, string(reread))
	})

	t.Run("ignores other content types", func(t *testing.T) {
		var found bool
		handler := JSONParser(DefaultBodyLimit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, found = JSONBodyFromContext(r.Context())
		}))

		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
		r.Header.Set("Content-Type", "text/plain")

		handler.ServeHTTP(httptest.NewRecorder(), r)
		require.False(t, found)
	})

	t.Run("malformed body fails the request", func(t *testing.T) {
		handler := ErrorHandler()(JSONParser(DefaultBodyLimit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})))

		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCORS(t *testing.T) {
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://example.test")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

type contextKey string

const (
	cookiesContextKey  contextKey = "cookies"
	jsonBodyContextKey contextKey = "json_body"
)

// DefaultBodyLimit caps parsed request bodies at 100KiB.
const DefaultBodyLimit = 100 << 10

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list (comma-separated)
		if before, _, ok := strings.Cut(xff, ","); ok {
			return before
		}
		return xff
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr, stripping port
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// CookieParser stores the request cookies in the context by name. The first
// cookie with a given name wins.
func CookieParser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookies := make(map[string]string)
			for _, c := range r.Cookies() {
				if _, seen := cookies[c.Name]; !seen {
					cookies[c.Name] = c.Value
				}
			}
			ctx := context.WithValue(r.Context(), cookiesContextKey, cookies)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CookiesFromContext returns the cookies stored by CookieParser.
func CookiesFromContext(ctx context.Context) map[string]string {
	cookies, _ := ctx.Value(cookiesContextKey).(map[string]string)
	return cookies
}

// URLEncodedParser parses application/x-www-form-urlencoded bodies into
// r.Form and r.PostForm. Malformed or oversized bodies fail the request.
func URLEncodedParser(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasContentType(r, "application/x-www-form-urlencoded") {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
				if err := r.ParseForm(); err != nil {
					Fail(fmt.Errorf("failed to parse form body: %w", err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JSONParser validates application/json bodies and stores them in the
// context. The body is replaced so later handlers can read it again.
func JSONParser(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasContentType(r, "application/json") || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				Fail(fmt.Errorf("failed to read json body: %w", err))
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if len(bytes.TrimSpace(body)) > 0 {
				if !json.Valid(body) {
					Fail(errors.New("invalid json body"))
				}
				r = r.WithContext(context.WithValue(r.Context(), jsonBodyContextKey, json.RawMessage(body)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JSONBodyFromContext returns the body stored by JSONParser.
func JSONBodyFromContext(ctx context.Context) (json.RawMessage, bool) {
	body, ok := ctx.Value(jsonBodyContextKey).(json.RawMessage)
	return body, ok
}

func hasContentType(r *http.Request, want string) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == want
}

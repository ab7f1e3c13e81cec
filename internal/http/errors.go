package http

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// ErrorBody is the only thing a client sees when a request fails.
const ErrorBody = "bad code path"

type requestError struct {
	err    error
	logged bool
}

// Fail aborts the current request with err. The enclosing ErrorHandler turns
// it into a 500 response. Fail does not return.
func Fail(err error) {
	panic(requestError{err: err})
}

// HandlerFunc is a handler that can fail.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (fn HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		Fail(err)
	}
}

// ErrorSink logs the stack of any failure raised further down the chain and
// passes it on to the ErrorHandler.
func ErrorSink() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := asError(rec)
				zerolog.Ctx(r.Context()).Error().
					Err(err).
					Str("stack", string(debug.Stack())).
					Msg("request failed")

				panic(requestError{err: err, logged: true})
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandler is the terminal error handler. Any failure below it becomes an
// HTTP 500 with ErrorBody, internal details are never written to the client.
func ErrorHandler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if re, ok := rec.(requestError); !ok || !re.logged {
					zerolog.Ctx(r.Context()).Error().Err(asError(rec)).Msg("request failed")
				}

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, ErrorBody)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func asError(rec any) error {
	switch v := rec.(type) {
	case requestError:
		return v.err
	case error:
		return v
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

package http

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler http.Handler
	}{
		{
			name: "returned error",
			handler: HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
				return errors.New("database exploded: password=hunter2")
			}),
		},
		{
			name: "panic with value",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("nil map")
			}),
		},
		{
			name: "fail",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Fail(errors.New("boom"))
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := zerolog.New(&logs)

			handler := ErrorHandler()(ErrorSink()(tt.handler))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(logger.WithContext(r.Context()))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Equal(t, ErrorBody, w.Body.String())
			require.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("request failed")))
			require.Contains(t, logs.String(), "stack")
		})
	}
}

func TestErrorHandler_withoutSink(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	handler := ErrorHandler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Fail(errors.New("early failure"))
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(logger.WithContext(r.Context()))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, logs.String(), "early failure")
}

func TestErrorHandler_passesSuccess(t *testing.T) {
	handler := ErrorHandler()(ErrorSink()(HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorHandler_abortIsRepanicked(t *testing.T) {
	handler := ErrorHandler()(ErrorSink()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

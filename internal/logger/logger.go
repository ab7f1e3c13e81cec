package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/devbundle/internal/http"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// RequestIDHeader carries the request id to and from clients.
const RequestIDHeader = "X-Request-Id"

// NewRequestLogger returns middleware that attaches a request scoped logger
// to the context and logs one line per request once it completes.
func NewRequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := logger.With().
				Str("request_id", requestID).
				Str("client_ip", httpmiddleware.ExtractClientIP(r)).
				Logger().WithContext(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := zerolog.Ctx(ctx).Info()
				if status >= http.StatusInternalServerError {
					event = zerolog.Ctx(ctx).Error()
				}
				event.
					Str("method", r.Method).
					Str("uri", r.RequestURI).
					Int("status", status).
					Int("size", ww.BytesWritten()).
					Dur("duration", time.Since(started)).
					Msg("http request")
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

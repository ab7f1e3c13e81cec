// Package devserver serves a project in development: the in-memory bundle,
// hot reload events, proxy rules, the application's own hooks and API, and
// static files with an index.html fallback.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/assets"
	httpmiddleware "github.com/wolfeidau/devbundle/internal/http"
	"github.com/wolfeidau/devbundle/internal/logger"
	"github.com/wolfeidau/devbundle/internal/telemetry"
)

// ShutdownTimeout bounds how long Start waits for open requests once its
// context is done.
const ShutdownTimeout = 5 * time.Second

// Server is a dev server that has not started listening yet.
type Server struct {
	opts     *resolved
	log      zerolog.Logger
	pipeline *assets.Pipeline
	hot      *HotHub
	handler  http.Handler
}

// NewServer resolves opts and prepares the bundling engine and router.
// Nothing is built until Start.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}

	resolved, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	var log zerolog.Logger
	if resolved.Logger != nil {
		log = *resolved.Logger
	} else {
		log = logger.Setup(resolved.Debug)
	}

	if resolved.configPath != "" {
		log.Info().Str("path", resolved.configPath).Msg("Using project config")
	}

	pipeline, err := assets.New(assets.FromWebpack(*resolved.Webpack, resolved.Cwd), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create bundler: %w", err)
	}

	s := &Server{
		opts:     resolved,
		log:      log,
		pipeline: pipeline,
		hot:      NewHotHub(pipeline),
	}

	s.handler, err = s.routes()
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// routes builds the middleware chain. Every stage after the hooks lives in
// its own group so hooks can register routes without chi refusing later
// middleware. The API and static files share the final catch-all.
func (s *Server) routes() (http.Handler, error) {
	proxy, err := Proxy(s.opts.rules)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(logger.NewRequestLogger(s.log))
	r.Use(httpmiddleware.ErrorHandler())
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(proxy)

	r.Group(func(r chi.Router) {
		if s.opts.InitApp != nil {
			s.opts.InitApp(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(httpmiddleware.CookieParser())
			r.Use(httpmiddleware.URLEncodedParser(httpmiddleware.DefaultBodyLimit))
			r.Use(httpmiddleware.JSONParser(httpmiddleware.DefaultBodyLimit))
			r.Use(httpmiddleware.ErrorSink())
			r.Use(s.pipeline.Handler)
			r.Use(s.hot.Middleware)

			if s.opts.ExtendApp != nil {
				s.opts.ExtendApp(r)
			}

			r.Handle("/*", s.opts.API.handler(staticHandler(s.opts.Cwd)))
		})
	})

	return r, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close ends hot streams and disposes the bundling engine.
func (s *Server) Close() {
	s.hot.Close()
	s.pipeline.Close()
}

// Start serves until ctx is done. A failure to bind is logged and Start
// returns nil.
func Start(ctx context.Context, opts *Options) error {
	if opts != nil && opts.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, opts.Version)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	s, err := NewServer(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := s.opts.addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("Failed to listen")
		return nil
	}

	if err := s.pipeline.Watch(); err != nil {
		_ = ln.Close()
		return err
	}

	srv := configureHTTPServer(addr, s.handler)
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("mode", s.opts.mode.String()).
		Str("cwd", s.opts.Cwd).
		Msg("Dev server listening")

	select {
	case <-ctx.Done():
		s.hot.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

package devserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

// DefaultHost listens on every interface.
const DefaultHost = "0.0.0.0"

// AppHook customises the router at a fixed point in the middleware chain.
type AppHook func(chi.Router)

type apiKind int

const (
	apiNone apiKind = iota
	apiMiddleware
	apiMount
)

// APIHook is how the application's API joins the chain. The zero value is
// NoAPI.
type APIHook struct {
	kind       apiKind
	middleware func(http.Handler) http.Handler
	mount      func(chi.Router)
}

// NoAPI mounts nothing.
var NoAPI = APIHook{}

// APIMiddleware places mw in the chain, it sees every request that reaches
// the API stage and decides whether to answer or call next.
func APIMiddleware(mw func(http.Handler) http.Handler) APIHook {
	if mw == nil {
		return NoAPI
	}
	return APIHook{kind: apiMiddleware, middleware: mw}
}

// APIMount registers the API's routes on a router of its own. Routes may be
// mounted at "/"; whatever they leave unanswered falls through to static
// files and the index.
func APIMount(mount func(chi.Router)) APIHook {
	if mount == nil {
		return NoAPI
	}
	return APIHook{kind: apiMount, mount: mount}
}

// handler puts the API in front of fallback. Requests the API does not answer,
// including unmatched routes and methods of a mounted router, reach fallback.
func (h APIHook) handler(fallback http.Handler) http.Handler {
	switch h.kind {
	case apiMiddleware:
		return h.middleware(fallback)
	case apiMount:
		r := chi.NewRouter()
		r.NotFound(fallback.ServeHTTP)
		r.MethodNotAllowed(fallback.ServeHTTP)
		h.mount(r)
		return r
	}
	return fallback
}

// Options configures a dev server.
type Options struct {
	// Port to listen on, 0 reads PORT from the environment and falls back to
	// config.DefaultPort
	Port int
	// Host to listen on, defaults to DefaultHost
	Host string
	// Cwd is the project directory, defaults to the working directory
	Cwd string
	// Webpack overrides the project configuration file and the builder default
	Webpack *webpack.BuildConfiguration

	InitApp   AppHook
	ExtendApp AppHook
	API       APIHook
	Proxy     ProxySpec

	Debug     bool
	Telemetry bool
	Version   string

	// Logger defaults to logger.Setup(Debug)
	Logger *zerolog.Logger
}

// resolved is Options with every default applied.
type resolved struct {
	Options
	mode       webpack.Mode
	configPath string
	rules      []ProxyRule
}

func (o *Options) resolve() (*resolved, error) {
	r := &resolved{Options: *o}

	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	r.mode = env.Mode()

	if r.Port == 0 {
		r.Port = env.Port
	}
	if r.Host == "" {
		r.Host = DefaultHost
	}
	if r.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		r.Cwd = cwd
	}

	if r.Webpack == nil {
		cfg, path, err := config.LoadProjectConfig(r.Cwd)
		switch {
		case errors.Is(err, config.ErrNoProjectConfig):
			def := webpack.MakeConfig(&webpack.BuildOptions{Cwd: r.Cwd}, r.mode)
			cfg = &def
		case err != nil:
			return nil, err
		}
		r.Webpack = cfg
		r.configPath = path
	}

	r.rules, err = NormalizeProxy(r.Proxy)
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (r *resolved) addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

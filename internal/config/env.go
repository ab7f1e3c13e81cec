// Package config loads the dev server's environment and project-local build
// configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

// DefaultPort is used when neither the caller nor PORT sets one.
const DefaultPort = 8000

// ModeEnv holds the variables that select the build mode.
type ModeEnv struct {
	// BabelEnv overrides NodeEnv when set.
	BabelEnv string `env:"BABEL_ENV"`
	NodeEnv  string `env:"NODE_ENV"`
}

// Mode resolves BABEL_ENV, then NODE_ENV, then development. Unknown names are
// treated as development.
func (m ModeEnv) Mode() webpack.Mode {
	return webpack.ModeFromEnv(func(key string) string {
		switch key {
		case "BABEL_ENV":
			return m.BabelEnv
		case "NODE_ENV":
			return m.NodeEnv
		}
		return ""
	})
}

// Environment is everything the dev server reads from the process environment.
type Environment struct {
	ModeEnv
	Port int `env:"PORT" envDefault:"8000"`
}

// LoadEnv reads the process environment.
func LoadEnv() (Environment, error) {
	return parse(env.Options{})
}

// LoadEnvFrom reads the given variables instead of the process environment.
func LoadEnvFrom(vars map[string]string) (Environment, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Environment, error) {
	var e Environment
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return Environment{}, fmt.Errorf("error getting env configs: %w", err)
	}
	return e, nil
}

// LoadMode reads only the mode variables, it never fails.
func LoadMode() webpack.Mode {
	var m ModeEnv
	_ = env.Parse(&m)
	return m.Mode()
}

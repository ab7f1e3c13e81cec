// Package devbundle composes front-end bundler configuration from layered
// defaults and serves a project in development.
//
// A configuration is built from BuildOptions:
//
//	cfg := devbundle.MakeWebpackConfig(&devbundle.BuildOptions{
//		Entry:  devbundle.EntryPath("./src/main"),
//		JQuery: true,
//	})
//
// and the dev server is started with ServerOptions:
//
//	err := devbundle.StartServer(ctx, &devbundle.ServerOptions{
//		Webpack: &cfg,
//		API:     devbundle.APIMount(routes),
//	})
package devbundle

import (
	"context"

	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/devserver"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

type (
	BuildOptions       = webpack.BuildOptions
	BuildConfiguration = webpack.BuildConfiguration
	Entry              = webpack.Entry
	Mode               = webpack.Mode
	MergePolicy        = webpack.MergePolicy

	ServerOptions = devserver.Options
	AppHook       = devserver.AppHook
	APIHook       = devserver.APIHook
	ProxySpec     = devserver.ProxySpec
)

const (
	ModeDevelopment = webpack.ModeDevelopment
	ModeTest        = webpack.ModeTest
	ModeProduction  = webpack.ModeProduction

	MergeShallow = webpack.MergeShallow
	MergeDeep    = webpack.MergeDeep
)

var (
	EntryPath  = webpack.EntryPath
	EntryPaths = webpack.EntryPaths

	NoAPI         = devserver.NoAPI
	APIMiddleware = devserver.APIMiddleware
	APIMount      = devserver.APIMount

	ProxyTarget = devserver.ProxyTarget
	ProxyRules  = devserver.ProxyRules
	ProxyMap    = devserver.ProxyMap

	ErrProxyConfig = devserver.ErrProxyConfig
)

// MakeWebpackConfig builds a configuration for the mode named by BABEL_ENV or
// NODE_ENV, read on every call.
func MakeWebpackConfig(opts *BuildOptions) BuildConfiguration {
	return webpack.MakeConfig(opts, config.LoadMode())
}

// MakeWebpackConfigForMode builds a configuration for mode.
func MakeWebpackConfigForMode(opts *BuildOptions, mode Mode) BuildConfiguration {
	return webpack.MakeConfig(opts, mode)
}

// StartServer serves the project until ctx is done. A port that cannot be
// bound is logged and StartServer returns nil.
func StartServer(ctx context.Context, opts *ServerOptions) error {
	return devserver.Start(ctx, opts)
}

// Package webpack composes bundler configurations from caller options and
// layered defaults.
//
// MakeConfig is pure: given the same options, mode and working directory it
// returns an equal configuration. Mode is passed in rather than read from the
// environment so callers decide where it comes from.
package webpack

import (
	"os"
	"path/filepath"
	"slices"
)

const (
	// HotClientModule resolves to the hot reload client served by the dev
	// server.
	HotClientModule = "devbundle/hot-client"
	// DefaultAppEntry is used when the caller gives no entry.
	DefaultAppEntry = "./src/index"

	VendorGroup = "vendor"
	AppGroup    = "app"
)

// VendorModules is the bootstrap and polyfill list bundled ahead of the app.
var VendorModules = []string{HotClientModule, "babel-polyfill", "isomorphic-fetch"}

// MakeConfig builds the configuration for opts in the given mode. A nil opts
// behaves like an empty one and an empty mode means development.
func MakeConfig(opts *BuildOptions, mode Mode) BuildConfiguration {
	if opts == nil {
		opts = &BuildOptions{}
	}
	if mode == "" {
		mode = ModeDevelopment
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = workingDir()
	}

	base := BuildConfiguration{
		Devtool: "source-map",
		Entry:   makeEntry(opts),
		Output: OutputSpec{
			Path: filepath.Join(cwd, "static"),
			// must stay relative to Path
			Filename:                      "[name].bundle.js",
			PublicPath:                    "/static/",
			DevtoolModuleFilenameTemplate: "[absolute-resource-path]",
		},
		Plugins: makePlugins(opts, mode),
		Module:  ModuleSpec{Rules: makeRules(mode)},
		Resolve: ResolveSpec{Extensions: slices.Clone(defaultExtensions)},
	}

	return overlay(base, opts.Overrides, opts.Merge)
}

func makeEntry(opts *BuildOptions) EntryMap {
	return EntryMap{
		{Name: VendorGroup, Modules: slices.Clone(VendorModules)},
		{Name: AppGroup, Modules: appEntry(opts.Entry)},
	}
}

func appEntry(entry Entry) []string {
	if entry.IsSet() {
		return entry.Paths()
	}
	return []string{DefaultAppEntry}
}

func workingDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

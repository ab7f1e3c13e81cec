package assets

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

// Config is a build configuration translated into the settings the engine
// hands to esbuild.
type Config struct {
	// Directory module references resolve against
	Cwd string
	// Entry groups, each bundled into one output named after the group
	Entries webpack.EntryMap
	// Directory outputs are laid out under, they are kept in memory
	OutputDir string
	// URL prefix outputs are served from
	PublicPath string
	// esbuild name templates for entry outputs and emitted assets
	EntryNames string
	AssetNames string
	// Loader per file extension, taken from the first matching rule
	Loaders map[string]api.Loader
	// Extensions handled by url loader and the size under which they inline
	InlineLimits map[string]int64
	Define       map[string]string
	// Global name to module
	Provide    map[string]string
	Extensions []string
	Minify     bool
	SourceMap  bool
	JSXDev     bool
	// Keep the previous output when a rebuild fails
	KeepLastGood bool
	// Plugins with no esbuild equivalent
	Ignored []string
	// Top level keys whose override could not be decoded, the built value
	// of those fields is used instead
	Shadowed []string
}

// DefaultConfig translates the default development configuration for cwd.
func DefaultConfig(cwd string) Config {
	return FromWebpack(webpack.MakeConfig(&webpack.BuildOptions{Cwd: cwd}, webpack.ModeDevelopment), cwd)
}

// candidateExtensions are tried against the rules to build the loader table.
var candidateExtensions = []string{
	".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts", ".json",
	".css", ".scss", ".sass", ".less",
	".ico", ".jpg", ".jpeg", ".png", ".gif", ".eot", ".otf", ".webp", ".svg", ".ttf", ".woff", ".woff2",
	".mp4", ".webm", ".wav", ".mp3", ".m4a", ".aac", ".oga",
	".txt", ".md", ".html",
}

// FromWebpack translates cfg. Relative output paths resolve against cwd.
func FromWebpack(cfg webpack.BuildConfiguration, cwd string) Config {
	c := Config{
		Cwd:          cwd,
		Entries:      cfg.Entry,
		OutputDir:    cfg.Output.Path,
		PublicPath:   normalizePublicPath(cfg.Output.PublicPath),
		EntryNames:   entryNames(cfg.Output.Filename),
		AssetNames:   "[name]-[hash]",
		Loaders:      make(map[string]api.Loader),
		InlineLimits: make(map[string]int64),
		Define:       make(map[string]string),
		Provide:      make(map[string]string),
		Extensions:   slices.Clone(cfg.Resolve.Extensions),
		SourceMap:    strings.Contains(cfg.Devtool, "source-map"),
		Shadowed:     cfg.Shadowed(),
	}

	switch {
	case c.OutputDir == "":
		c.OutputDir = filepath.Join(cwd, "static")
	case !filepath.IsAbs(c.OutputDir):
		c.OutputDir = filepath.Join(cwd, c.OutputDir)
	}

	extensions := slices.Clone(candidateExtensions)
	for _, ext := range cfg.Resolve.Extensions {
		if !slices.Contains(extensions, ext) {
			extensions = append(extensions, ext)
		}
	}

	assetNamesSet := false
	for _, ext := range extensions {
		rule, ok := cfg.Module.Rules.Match("file" + ext)
		if !ok {
			continue
		}
		loader, limit, ok := esbuildLoader(rule, ext)
		if !ok {
			continue
		}
		c.Loaders[ext] = loader
		if limit > 0 {
			c.InlineLimits[ext] = limit
		}
		if loader == api.LoaderFile && !assetNamesSet {
			if name := fileLoaderName(rule); name != "" {
				c.AssetNames = assetNames(name)
				assetNamesSet = true
			}
		}
		if babel, ok := rule.Loader(webpack.LoaderBabel); ok && hasBabelPlugin(babel, webpack.BabelPluginJSXSource) {
			c.JSXDev = true
		}
	}

	for _, plugin := range cfg.Plugins {
		switch plugin.Name {
		case webpack.PluginDefine:
			for k, v := range plugin.Options {
				c.Define[k] = fmt.Sprint(v)
			}
		case webpack.PluginProvide:
			for k, v := range plugin.Options {
				c.Provide[k] = fmt.Sprint(v)
			}
		case webpack.PluginDedupe, webpack.PluginOccurrenceOrder:
			c.Minify = true
		case webpack.PluginNoEmitOnErrors:
			c.KeepLastGood = true
		case webpack.PluginExtractText, webpack.PluginHotModuleReplacement:
			// esbuild writes imported css next to the bundle and the hot
			// middleware is always mounted
		default:
			c.Ignored = append(c.Ignored, plugin.Name)
		}
	}

	return c
}

// esbuildLoader picks the esbuild loader for a rule. The second result is the
// inline limit for url loader rules.
func esbuildLoader(rule webpack.Rule, ext string) (api.Loader, int64, bool) {
	if css, ok := rule.Loader(webpack.LoaderCSS); ok {
		if modules, _ := css.Options["modules"].(bool); modules {
			return api.LoaderLocalCSS, 0, true
		}
		return api.LoaderCSS, 0, true
	}
	for _, l := range rule.Use {
		switch {
		case l.Loader == webpack.LoaderJSON:
			return api.LoaderJSON, 0, true
		case l.Loader == webpack.LoaderBabel:
			return api.LoaderJSX, 0, true
		case l.Loader == webpack.LoaderTypeScript || l.Loader == "ts-loader":
			if ext == ".tsx" {
				return api.LoaderTSX, 0, true
			}
			return api.LoaderTS, 0, true
		case l.Loader == webpack.LoaderURL:
			return api.LoaderFile, inlineLimit(l.Options["limit"]), true
		case l.Loader == webpack.LoaderFile:
			return api.LoaderFile, 0, true
		case l.Loader == "raw-loader":
			return api.LoaderText, 0, true
		}
	}
	return api.LoaderNone, 0, false
}

func inlineLimit(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func fileLoaderName(rule webpack.Rule) string {
	for _, l := range rule.Use {
		if l.Loader == webpack.LoaderFile || l.Loader == webpack.LoaderURL {
			name, _ := l.Options["name"].(string)
			return name
		}
	}
	return ""
}

func hasBabelPlugin(l webpack.Loader, name string) bool {
	plugins, _ := l.Options["plugins"].([]any)
	for _, p := range plugins {
		// either "name" or ["name", {options}]
		if pair, ok := p.([]any); ok && len(pair) > 0 {
			p = pair[0]
		}
		if s, ok := p.(string); ok && s == name {
			return true
		}
	}
	return false
}

var hashToken = regexp.MustCompile(`\[(chunk|content)?hash(:\d+)?\]`)

// entryNames converts "[name].bundle.js" into esbuild's "[name].bundle".
func entryNames(filename string) string {
	if filename == "" {
		return "[name]"
	}
	name := hashToken.ReplaceAllString(filename, "[hash]")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// assetNames converts "static/media/[name].[hash:8].[ext]" into
// "static/media/[name].[hash]", esbuild appends the extension itself.
func assetNames(name string) string {
	name = hashToken.ReplaceAllString(name, "[hash]")
	return strings.TrimSuffix(name, ".[ext]")
}

func normalizePublicPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") && !strings.Contains(p, "://") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

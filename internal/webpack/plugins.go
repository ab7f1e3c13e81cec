package webpack

import "encoding/json"

const (
	PluginExtractText          = "extract-text"
	PluginTSConfigPaths        = "tsconfig-paths"
	PluginChecker              = "checker"
	PluginCommonsChunk         = "commons-chunk"
	PluginHotModuleReplacement = "hot-module-replacement"
	PluginNoEmitOnErrors       = "no-emit-on-errors"
	PluginDefine               = "define"
	PluginProvide              = "provide"
	PluginOccurrenceOrder      = "occurrence-order"
	PluginDedupe               = "dedupe"
)

// StylesFilename is where extracted stylesheets are written.
const StylesFilename = "styles.css"

type pluginSpec struct {
	when  func(opts *BuildOptions, mode Mode) bool
	build func(mode Mode) Plugin
}

func always(*BuildOptions, Mode) bool { return true }

func withJQuery(opts *BuildOptions, _ Mode) bool { return opts.JQuery }

func inProduction(_ *BuildOptions, mode Mode) bool { return mode.IsProduction() }

func named(name string) func(Mode) Plugin {
	return func(Mode) Plugin { return Plugin{Name: name} }
}

// pluginTable is evaluated top to bottom, order is the order plugins apply in.
var pluginTable = []pluginSpec{
	{always, func(Mode) Plugin {
		return Plugin{Name: PluginExtractText, Options: map[string]any{"filename": StylesFilename}}
	}},
	{always, named(PluginTSConfigPaths)},
	{always, named(PluginChecker)},
	{always, func(Mode) Plugin {
		return Plugin{Name: PluginCommonsChunk, Options: map[string]any{
			"name": []string{"hmr", "polyfills", "vendor"},
		}}
	}},
	{always, named(PluginHotModuleReplacement)},
	{always, named(PluginNoEmitOnErrors)},
	{always, func(mode Mode) Plugin {
		return Plugin{Name: PluginDefine, Options: map[string]any{
			"process.env.NODE_ENV": jsonString(mode.String()),
		}}
	}},
	{withJQuery, func(Mode) Plugin {
		return Plugin{Name: PluginProvide, Options: map[string]any{
			"$":             "jquery",
			"jQuery":        "jquery",
			"window.jQuery": "jquery",
		}}
	}},
	// keeps builds consistent when the source has not changed
	{inProduction, named(PluginOccurrenceOrder)},
	{inProduction, named(PluginDedupe)},
}

// ProductionPlugins lists the plugins only present in production builds.
func ProductionPlugins() []string {
	return []string{PluginOccurrenceOrder, PluginDedupe}
}

func makePlugins(opts *BuildOptions, mode Mode) Plugins {
	plugins := make(Plugins, 0, len(pluginTable))
	for _, spec := range pluginTable {
		if spec.when(opts, mode) {
			plugins = append(plugins, spec.build(mode))
		}
	}
	return plugins
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

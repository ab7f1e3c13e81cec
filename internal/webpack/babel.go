package webpack

// BabelItem is a preset or plugin reference with optional options.
type BabelItem struct {
	Name    string
	Options map[string]any
}

func (b BabelItem) value() any {
	if len(b.Options) == 0 {
		return b.Name
	}
	return []any{b.Name, b.Options}
}

// BabelConfig is the transpiler configuration handed to babel-loader.
type BabelConfig struct {
	Presets []BabelItem
	Plugins []BabelItem
}

// Browsers is the browser list shared by the transpiler and autoprefixer.
var Browsers = []string{"last 2 versions", "IE >= 11"}

// Babel returns the transpiler configuration for mode. Development and test
// builds get the JSX debugging plugins and the react hot reload preset.
func Babel(mode Mode) BabelConfig {
	cfg := BabelConfig{
		Presets: []BabelItem{
			{Name: "env", Options: map[string]any{
				"targets": map[string]any{
					"node":     "current",
					"browsers": append([]string(nil), Browsers...),
				},
			}},
			{Name: "react"},
		},
		Plugins: []BabelItem{
			{Name: "transform-class-properties"},
			{Name: "transform-object-rest-spread", Options: map[string]any{"useBuiltIns": true}},
			{Name: "transform-react-jsx", Options: map[string]any{"useBuiltIns": true}},
			{Name: "transform-runtime", Options: map[string]any{
				"helpers":     false,
				"polyfill":    false,
				"regenerator": true,
			}},
			{Name: "transform-decorators-legacy"},
			{Name: "transform-async-to-generator"},
			{Name: "transform-regenerator", Options: map[string]any{"async": false}},
			{Name: "syntax-dynamic-import"},
			{Name: "lodash"},
		},
	}

	switch mode {
	case ModeDevelopment, ModeTest:
		cfg.Plugins = append(cfg.Plugins,
			BabelItem{Name: BabelPluginJSXSource},
			BabelItem{Name: BabelPluginJSXSelf},
		)
		cfg.Presets = append(cfg.Presets, BabelItem{Name: "react-hmre"})
	}

	return cfg
}

const (
	BabelPluginJSXSource = "transform-react-jsx-source"
	BabelPluginJSXSelf   = "transform-react-jsx-self"
)

// HasPlugin reports whether the named plugin is configured.
func (c BabelConfig) HasPlugin(name string) bool {
	for _, p := range c.Plugins {
		if p.Name == name {
			return true
		}
	}
	return false
}

// LoaderOptions renders the configuration as babel-loader options.
func (c BabelConfig) LoaderOptions() map[string]any {
	presets := make([]any, 0, len(c.Presets))
	for _, p := range c.Presets {
		presets = append(presets, p.value())
	}
	plugins := make([]any, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		plugins = append(plugins, p.value())
	}
	return map[string]any{
		"cacheDirectory": true,
		"presets":        presets,
		"plugins":        plugins,
	}
}

// PostCSSConfig is the style post-processing configuration.
type PostCSSConfig struct {
	Ident   string
	Syntax  string
	Map     string
	Plugins []BabelItem
}

func PostCSS() PostCSSConfig {
	return PostCSSConfig{
		Ident:  "postcss",
		Syntax: "postcss-scss",
		Map:    "inline",
		Plugins: []BabelItem{
			{Name: "precss"},
			{Name: "autoprefixer", Options: map[string]any{
				"browsers": []string{">1%", "last 4 versions", "Firefox ESR", "not ie < 9"},
			}},
		},
	}
}

// LoaderOptions renders the configuration as postcss-loader options.
func (c PostCSSConfig) LoaderOptions() map[string]any {
	plugins := make([]any, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		plugins = append(plugins, p.value())
	}
	return map[string]any{
		"ident":   c.Ident,
		"syntax":  c.Syntax,
		"map":     c.Map,
		"plugins": plugins,
	}
}

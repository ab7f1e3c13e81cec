package assets

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

const (
	entryNamespace   = "devbundle-entry"
	hotNamespace     = "devbundle-hot"
	provideNamespace = "devbundle-provide"

	provideModule = provideNamespace + ":globals"
)

//go:embed hotclient.js
var hotClientSource string

// entryPlugin turns every entry group into a virtual module importing the
// group's modules in order.
func entryPlugin(config Config) api.Plugin {
	groups := make(map[string][]string, len(config.Entries))
	for _, g := range config.Entries {
		groups[g.Name] = g.Modules
	}

	return api.Plugin{
		Name: "devbundle-entries",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + entryNamespace + ":"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, entryNamespace+":"),
						Namespace: entryNamespace,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: entryNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					modules, ok := groups[args.Path]
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("unknown entry group %q", args.Path)
					}
					contents := entrySource(modules)
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: config.Cwd,
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

func entrySource(modules []string) string {
	var b strings.Builder
	for _, m := range modules {
		b.WriteString("import ")
		b.WriteString(strconv.Quote(m))
		b.WriteString(";\n")
	}
	return b.String()
}

// hotClientPlugin serves the embedded hot client for webpack.HotClientModule.
func hotClientPlugin() api.Plugin {
	contents := strings.ReplaceAll(hotClientSource, "__DEVBUNDLE_HOT_PATH__", strconv.Quote(HotPath))

	return api.Plugin{
		Name: "devbundle-hot-client",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(webpack.HotClientModule) + "$"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: "hot-client", Namespace: hotNamespace}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: hotNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}

// provideGlobals builds the module injected into every file for the provide
// plugin, along with defines for dotted names such as window.jQuery which
// cannot be exported directly.
func provideGlobals(provide map[string]string) (string, map[string]string) {
	byModule := make(map[string][]string)
	for name, module := range provide {
		byModule[module] = append(byModule[module], name)
	}

	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	defines := make(map[string]string)
	var b strings.Builder
	for i, module := range modules {
		names := byModule[module]
		sort.Strings(names)

		var idents, dotted []string
		for _, n := range names {
			if isIdentifier(n) {
				idents = append(idents, n)
			} else {
				dotted = append(dotted, n)
			}
		}
		if len(idents) == 0 {
			idents = []string{fmt.Sprintf("__devbundle_provide_%d", i)}
		}

		fmt.Fprintf(&b, "import * as __m%d from %s;\n", i, strconv.Quote(module))
		fmt.Fprintf(&b, "const __v%d = __m%d.default !== undefined ? __m%d.default : __m%d;\n", i, i, i, i)
		exports := make([]string, 0, len(idents))
		for _, id := range idents {
			exports = append(exports, fmt.Sprintf("__v%d as %s", i, id))
		}
		fmt.Fprintf(&b, "export { %s };\n", strings.Join(exports, ", "))

		for _, d := range dotted {
			defines[d] = idents[0]
		}
	}

	return b.String(), defines
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func isIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func providePlugin(config Config, contents string) api.Plugin {
	return api.Plugin{
		Name: "devbundle-provide",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(provideModule) + "$"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: "globals", Namespace: provideNamespace}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: provideNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: config.Cwd,
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

// inlinePlugin inlines url loader files strictly smaller than their limit as
// data URLs and emits the rest as files.
func inlinePlugin(limits map[string]int64) api.Plugin {
	exts := make([]string, 0, len(limits))
	for ext := range limits {
		exts = append(exts, regexp.QuoteMeta(strings.TrimPrefix(ext, ".")))
	}
	slices.Sort(exts)
	filter := `\.(` + strings.Join(exts, "|") + `)$`

	return api.Plugin{
		Name: "devbundle-inline",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: filter, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					data, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents := string(data)
					loader := api.LoaderFile
					if int64(len(data)) < limits[extension(args.Path)] {
						loader = api.LoaderDataURL
					}
					return api.OnLoadResult{Contents: &contents, Loader: loader}, nil
				})
		},
	}
}

func extension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

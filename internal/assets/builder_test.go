package assets

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/devbundle/internal/webpack"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

func testConfig(cwd string) Config {
	return Config{
		Cwd: cwd,
		Entries: webpack.EntryMap{
			{Name: webpack.VendorGroup, Modules: []string{webpack.HotClientModule}},
			{Name: webpack.AppGroup, Modules: []string{"./src/index.js"}},
		},
		OutputDir:    filepath.Join(cwd, "static"),
		PublicPath:   "/static/",
		EntryNames:   "[name].bundle",
		AssetNames:   "[name]-[hash]",
		KeepLastGood: true,
		Define:       map[string]string{"process.env.NODE_ENV": `"development"`},
	}
}

func newPipeline(t *testing.T, config Config) *Pipeline {
	t.Helper()
	p, err := New(config, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_Build(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, cwd, "src/index.js", `import { greet } from "./greet";
console.log(greet(process.env.NODE_ENV));
`)
	writeFile(t, cwd, "src/greet.js", `export function greet(name) { return "hello " + name; }`)

	p := newPipeline(t, testConfig(cwd))

	results := make(chan BuildResult, 1)
	unsubscribe := p.Subscribe(func(res BuildResult) { results <- res })
	defer unsubscribe()

	require.NoError(t, p.Build())

	select {
	case res := <-results:
		require.True(t, res.OK())
		require.NotEmpty(t, res.Hash)
	case <-time.After(5 * time.Second):
		t.Fatal("no build result delivered")
	}

	app, ok := p.File("app.bundle.js")
	require.True(t, ok)
	require.Contains(t, string(app), "hello ")
	require.Contains(t, string(app), `"development"`)

	vendor, ok := p.File("vendor.bundle.js")
	require.True(t, ok)
	require.Contains(t, string(vendor), HotPath)

	scripts, entry, err := p.LoadScripts(webpack.AppGroup)
	require.NoError(t, err)
	require.Equal(t, "/static/app.bundle.js", entry)
	require.Equal(t, []string{"/static/app.bundle.js"}, scripts)

	_, _, err = p.LoadScripts("missing")
	require.Error(t, err)
}

func TestPipeline_BuildErrorKeepsLastGood(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, cwd, "src/index.js", `console.log("first");`)

	p := newPipeline(t, testConfig(cwd))
	require.NoError(t, p.Build())

	good, ok := p.Last()
	require.True(t, ok)
	require.True(t, good.OK())

	writeFile(t, cwd, "src/index.js", `import "./missing";`)
	err := p.Build()
	require.ErrorIs(t, err, ErrBuildFailed)

	bad, _ := p.Last()
	require.False(t, bad.OK())
	require.Equal(t, good.Hash, bad.Hash)

	app, ok := p.File("app.bundle.js")
	require.True(t, ok)
	require.Contains(t, string(app), "first")
}

func TestPipeline_BuildErrorWithoutKeepLastGood(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, cwd, "src/index.js", `import "./missing";`)

	config := testConfig(cwd)
	config.KeepLastGood = false
	p := newPipeline(t, config)

	require.ErrorIs(t, p.Build(), ErrBuildFailed)
	res, ok := p.Last()
	require.True(t, ok)
	require.NotEmpty(t, res.Errors)
	require.Contains(t, res.Errors[0], "missing")
}

func TestPipeline_Provide(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, cwd, "node_modules/jquery/package.json", `{"name":"jquery","main":"index.js"}`)
	writeFile(t, cwd, "node_modules/jquery/index.js", `module.exports = function jq() { return "JQUERY_MARKER"; };`)
	writeFile(t, cwd, "src/index.js", `console.log($(), window.jQuery());`)

	config := testConfig(cwd)
	config.Provide = map[string]string{"$": "jquery", "window.jQuery": "jquery"}
	p := newPipeline(t, config)

	require.NoError(t, p.Build())
	app, ok := p.File("app.bundle.js")
	require.True(t, ok)
	require.Contains(t, string(app), "JQUERY_MARKER")
}

func TestNew_requiresEntries(t *testing.T) {
	_, err := New(Config{Cwd: t.TempDir()}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNoEntryPoints)
}

func TestPipeline_LoadScriptsBeforeBuild(t *testing.T) {
	p := &Pipeline{}
	_, _, err := p.LoadScripts(webpack.AppGroup)
	require.ErrorIs(t, err, ErrNotBuilt)
}

func TestHashFiles(t *testing.T) {
	a := hashFiles(map[string][]byte{"a.js": []byte("1"), "b.js": []byte("2")})
	b := hashFiles(map[string][]byte{"b.js": []byte("2"), "a.js": []byte("1")})
	c := hashFiles(map[string][]byte{"a.js": []byte("1"), "b.js": []byte("3")})

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestProvideGlobals(t *testing.T) {
	contents, defines := provideGlobals(map[string]string{
		"$":             "jquery",
		"jQuery":        "jquery",
		"window.jQuery": "jquery",
		"window._":      "lodash",
	})

	require.Contains(t, contents, `from "jquery"`)
	require.Contains(t, contents, `from "lodash"`)
	require.Contains(t, contents, "__v0 as $, __v0 as jQuery")
	require.Equal(t, map[string]string{
		"window.jQuery": "$",
		"window._":      "__devbundle_provide_1",
	}, defines)
}

func TestEntrySource(t *testing.T) {
	require.Equal(t, "import \"a\";\nimport \"./b\";\n", entrySource([]string{"a", "./b"}))
}

func TestEntryAndAssetNames(t *testing.T) {
	require.Equal(t, "[name]", entryNames(""))
	require.Equal(t, "[name].bundle", entryNames("[name].bundle.js"))
	require.Equal(t, "[name]-[hash]", entryNames("[name]-[contenthash].js"))
	require.Equal(t, "static/media/[name].[hash]", assetNames(webpack.MediaFilename))
}

func TestHandler(t *testing.T) {
	p := &Pipeline{
		config: Config{PublicPath: "/static/"},
		files: map[string][]byte{
			"app.bundle.js": []byte(strings.Repeat("console.log(1);", 200)),
		},
		ready: make(chan struct{}),
	}
	close(p.ready)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := p.Handler(next)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"serves output", http.MethodGet, "/static/app.bundle.js", http.StatusOK},
		{"head output", http.MethodHead, "/static/app.bundle.js", http.StatusOK},
		{"unknown output", http.MethodGet, "/static/other.js", http.StatusTeapot},
		{"outside public path", http.MethodGet, "/app.bundle.js", http.StatusTeapot},
		{"post passes through", http.MethodPost, "/static/app.bundle.js", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("gzip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/static/app.bundle.js", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	})
}

func TestHandler_waitsForFirstBuild(t *testing.T) {
	p := &Pipeline{
		config: Config{PublicPath: "/"},
		files:  map[string][]byte{},
		ready:  make(chan struct{}),
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		p.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.js", nil))
		done <- rec.Code
	}()

	select {
	case <-done:
		t.Fatal("request finished before the first build")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.ready)
	require.Equal(t, http.StatusNoContent, <-done)
}

func TestPipeline_outputNamesFollowEntryNames(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, cwd, "src/index.js", `console.log("names");`)

	p := newPipeline(t, testConfig(cwd))
	require.NoError(t, p.Build())

	p.mu.RLock()
	names := sortedKeys(p.files)
	p.mu.RUnlock()
	require.Equal(t, []string{"app.bundle.js", "vendor.bundle.js"}, names)

	res, ok := p.Last()
	require.True(t, ok)
	require.Equal(t, map[string][]string{
		webpack.VendorGroup: {"/static/vendor.bundle.js"},
		webpack.AppGroup:    {"/static/app.bundle.js"},
	}, res.Scripts)
}

func TestPipeline_inlineLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		inlined bool
	}{
		{"small file is inlined", 100, true},
		{"file at the limit is emitted", 10000, false},
		{"file over the limit is emitted", 10001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, cwd, "src/clip.png", strings.Repeat("x", tt.size))
			writeFile(t, cwd, "src/index.js", `import clip from "./clip.png";
console.log(clip);
`)

			config := testConfig(cwd)
			config.Entries = webpack.EntryMap{{Name: webpack.AppGroup, Modules: []string{"./src/index.js"}}}
			config.Loaders = map[string]api.Loader{".png": api.LoaderFile}
			config.InlineLimits = map[string]int64{".png": 10000}
			p := newPipeline(t, config)
			require.NoError(t, p.Build())

			app, ok := p.File("app.bundle.js")
			require.True(t, ok)

			p.mu.RLock()
			names := sortedKeys(p.files)
			p.mu.RUnlock()

			if tt.inlined {
				require.Contains(t, string(app), "data:image/png")
				require.Equal(t, []string{"app.bundle.js"}, names)
				return
			}
			require.NotContains(t, string(app), "data:image/png")
			require.Contains(t, string(app), "/static/clip-")
			require.Len(t, names, 2)
		})
	}
}

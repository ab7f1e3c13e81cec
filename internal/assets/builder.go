package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// New creates an esbuild context for config. Nothing is built until Build or
// Watch is called.
func New(config Config, logger zerolog.Logger) (*Pipeline, error) {
	p := &Pipeline{
		config:      config,
		log:         logger.With().Str("component", "assets").Logger(),
		files:       make(map[string][]byte),
		ready:       make(chan struct{}),
		subscribers: make(map[int]func(BuildResult)),
	}

	if len(config.Entries) == 0 {
		return nil, ErrNoEntryPoints
	}
	if len(config.Ignored) > 0 {
		p.log.Debug().Strs("plugins", config.Ignored).Msg("Plugins have no esbuild equivalent, skipping")
	}
	if len(config.Shadowed) > 0 {
		p.log.Debug().Strs("keys", config.Shadowed).Msg("Overrides do not fit their field, building with the defaults")
	}

	opts, err := p.buildOptions()
	if err != nil {
		return nil, err
	}

	ctx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return nil, fmt.Errorf("failed to create build context: %s", strings.Join(formatMessages(ctxErr.Errors), "; "))
	}
	p.ctx = ctx

	return p, nil
}

// Config returns the translated configuration the pipeline was created with.
func (p *Pipeline) Config() Config {
	return p.config
}

func (p *Pipeline) buildOptions() (api.BuildOptions, error) {
	cwd, err := filepath.Abs(p.config.Cwd)
	if err != nil {
		return api.BuildOptions{}, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	p.config.Cwd = cwd
	if !filepath.IsAbs(p.config.OutputDir) {
		p.config.OutputDir = filepath.Join(cwd, p.config.OutputDir)
	}

	entries := make([]api.EntryPoint, 0, len(p.config.Entries))
	for _, g := range p.config.Entries {
		// esbuild fills [name] in EntryNames from OutputPath
		entries = append(entries, api.EntryPoint{InputPath: entryNamespace + ":" + g.Name, OutputPath: g.Name})
	}

	define := maps.Clone(p.config.Define)
	plugins := []api.Plugin{entryPlugin(p.config), hotClientPlugin()}

	var inject []string
	if len(p.config.Provide) > 0 {
		contents, dotted := provideGlobals(p.config.Provide)
		maps.Copy(define, dotted)
		inject = append(inject, provideModule)
		plugins = append(plugins, providePlugin(p.config, contents))
	}
	if len(p.config.InlineLimits) > 0 {
		plugins = append(plugins, inlinePlugin(p.config.InlineLimits))
	}
	plugins = append(plugins, p.lifecyclePlugin())

	return api.BuildOptions{
		AbsWorkingDir:       cwd,
		EntryPointsAdvanced: entries,
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Outdir:              p.config.OutputDir,
		EntryNames:          p.config.EntryNames,
		AssetNames:          p.config.AssetNames,
		PublicPath:          p.config.PublicPath,
		Loader:              p.config.Loaders,
		ResolveExtensions:   cond(len(p.config.Extensions) > 0, p.config.Extensions, nil),
		Define:              define,
		Inject:              inject,
		JSX:                 api.JSXAutomatic,
		JSXDev:              p.config.JSXDev,
		Format:              api.FormatIIFE,
		Platform:            api.PlatformBrowser,
		MinifyWhitespace:    p.config.Minify,
		MinifyIdentifiers:   p.config.Minify,
		MinifySyntax:        p.config.Minify,
		TreeShaking:         cond(p.config.Minify, api.TreeShakingTrue, api.TreeShakingDefault),
		Sourcemap:           cond(p.config.SourceMap, api.SourceMapLinked, api.SourceMapNone),
		LogLevel:            api.LogLevelSilent,
		Plugins:             plugins,
	}, nil
}

// lifecyclePlugin records every build, including those triggered by Watch.
func (p *Pipeline) lifecyclePlugin() api.Plugin {
	return api.Plugin{
		Name: "devbundle-lifecycle",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				_, span := telemetry.Tracer().Start(context.Background(), "devbundle.build")
				p.mu.Lock()
				p.started = time.Now()
				p.span = span
				p.mu.Unlock()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				p.finish(result)
				return api.OnEndResult{}, nil
			})
		},
	}
}

func (p *Pipeline) finish(result *api.BuildResult) {
	p.mu.Lock()

	res := BuildResult{
		Duration: time.Since(p.started),
		Errors:   formatMessages(result.Errors),
		Warnings: formatMessages(result.Warnings),
	}

	switch {
	case !res.OK() && p.config.KeepLastGood && p.built:
		p.log.Warn().Int("errors", len(res.Errors)).Msg("Build failed, keeping previous output")
	default:
		if err := p.store(result); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	res.Hash = hashFiles(p.files)
	res.Scripts = p.entryScripts()

	p.last = res
	if !p.built {
		p.built = true
		close(p.ready)
	}
	span := p.span
	p.span = nil
	p.mu.Unlock()

	p.record(res, span)

	p.subMu.Lock()
	subscribers := make([]func(BuildResult), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subscribers = append(subscribers, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subscribers {
		fn(res)
	}
}

// store replaces the served output. Must be called with p.mu held.
func (p *Pipeline) store(result *api.BuildResult) error {
	files := make(map[string][]byte, len(result.OutputFiles))
	for _, file := range result.OutputFiles {
		rel, err := filepath.Rel(p.config.OutputDir, file.Path)
		if err != nil {
			return fmt.Errorf("output %s is outside %s: %w", file.Path, p.config.OutputDir, err)
		}
		files[filepath.ToSlash(rel)] = file.Contents
		p.log.Debug().Str("file", rel).Int("size", len(file.Contents)).Msg("Built file")
	}
	p.files = files

	if result.Metafile == "" {
		p.metadata = nil
		return nil
	}

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return fmt.Errorf("failed to parse metafile: %w", err)
	}
	p.metadata = &metadata
	return nil
}

func (p *Pipeline) record(res BuildResult, span trace.Span) {
	ctx := context.Background()
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.Bool("ok", res.OK()))
	m.BuildsTotal.Add(ctx, 1, attrs)
	m.BuildDuration.Record(ctx, float64(res.Duration.Microseconds())/1000, attrs)
	if !res.OK() {
		m.BuildErrorsTotal.Add(ctx, int64(len(res.Errors)))
	}

	if span != nil {
		span.SetAttributes(
			attribute.String("build.hash", res.Hash),
			attribute.Int("build.errors", len(res.Errors)),
			attribute.Int("build.warnings", len(res.Warnings)),
		)
		if !res.OK() {
			span.SetStatus(codes.Error, res.Errors[0])
		}
		span.End()
	}

	event := p.log.Info()
	if !res.OK() {
		event = p.log.Error().Strs("errors", res.Errors)
	}
	for _, name := range sortedKeys(res.Scripts) {
		p.log.Debug().Str("group", name).Strs("scripts", res.Scripts[name]).Msg("Entry scripts")
	}

	event.
		Str("hash", res.Hash).
		Dur("duration", res.Duration).
		Int("warnings", len(res.Warnings)).
		Msg("Build finished")
}

// Build runs one build and waits for it to finish.
func (p *Pipeline) Build() error {
	result := p.ctx.Rebuild()
	if len(result.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrBuildFailed, strings.Join(formatMessages(result.Errors), "; "))
	}
	return nil
}

// Watch builds and rebuilds whenever an input changes. It returns once
// watching has started.
func (p *Pipeline) Watch() error {
	if err := p.ctx.Watch(api.WatchOptions{}); err != nil {
		return fmt.Errorf("failed to watch: %w", err)
	}
	return nil
}

// Close stops watching and releases the esbuild context.
func (p *Pipeline) Close() {
	p.ctx.Dispose()
}

// Subscribe registers fn to be called after every build. The returned func
// removes it.
func (p *Pipeline) Subscribe(fn func(BuildResult)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subscribers, id)
	}
}

// Last returns the most recent build result.
func (p *Pipeline) Last() (BuildResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.built
}

// Wait blocks until the first build has finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// File returns a built output by its path relative to the output directory.
func (p *Pipeline) File(name string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.files[strings.TrimPrefix(path.Clean("/"+name), "/")]
	return data, ok
}

// LoadScripts returns the ordered list of script URLs needed for the given
// entry group and the URL of the group's own output.
func (p *Pipeline) LoadScripts(group string) ([]string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadScripts(group)
}

// entryScripts resolves the script URLs of every entry group against the
// current metadata. Must be called with p.mu held.
func (p *Pipeline) entryScripts() map[string][]string {
	if p.metadata == nil {
		return nil
	}
	scripts := make(map[string][]string, len(p.config.Entries))
	for _, name := range p.config.Entries.Names() {
		if urls, _, err := p.loadScripts(name); err == nil {
			scripts[name] = urls
		}
	}
	return scripts
}

func (p *Pipeline) loadScripts(group string) ([]string, string, error) {
	if p.metadata == nil {
		return nil, "", ErrNotBuilt
	}

	entryPointPath := entryNamespace + ":" + group
	scripts := []string{}
	visited := make(map[string]bool)

	for _, outputPath := range sortedKeys(p.metadata.Outputs) {
		info := p.metadata.Outputs[outputPath]
		if info.EntryPoint != entryPointPath || !strings.HasSuffix(outputPath, ".js") {
			continue
		}
		entrypoint := p.publicURL(outputPath)
		scripts = append(scripts, entrypoint)
		visited[outputPath] = true
		p.addDependencies(info, &scripts, visited)
		return scripts, entrypoint, nil
	}

	return nil, "", fmt.Errorf("entry group %q not found in metadata", group)
}

func (p *Pipeline) addDependencies(output OutputInfo, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if !visited[imp.Path] {
			visited[imp.Path] = true
			*scripts = append(*scripts, p.publicURL(imp.Path))

			if chunkInfo, exists := p.metadata.Outputs[imp.Path]; exists {
				p.addDependencies(chunkInfo, scripts, visited)
			}
		}
	}
}

// publicURL maps a metafile output path, relative to the working directory,
// to the URL it is served from.
func (p *Pipeline) publicURL(outputPath string) string {
	abs := filepath.Join(p.config.Cwd, filepath.FromSlash(outputPath))
	rel, err := filepath.Rel(p.config.OutputDir, abs)
	if err != nil {
		rel = outputPath
	}
	return p.config.PublicPath + filepath.ToSlash(rel)
}

// hashFiles identifies a set of outputs with a base58 crc64 over names and
// contents in name order.
func hashFiles(files map[string][]byte) string {
	h := crc64nvme.New()
	for _, name := range sortedKeys(files) {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(files[name])
	}
	return base58.Encode(h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatMessages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location == nil {
			out = append(out, msg.Text)
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
	}
	return out
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}

package assets

import (
	"errors"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// HotPath is where the hot middleware streams build events and where the
// embedded hot client connects.
const HotPath = "/__webpack_hmr"

var (
	ErrNoEntryPoints = errors.New("no entry points configured")
	ErrNotBuilt      = errors.New("assets not built yet, call Build() first")
	ErrBuildFailed   = errors.New("build failed with errors")
)

type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
}

// BuildResult summarises one build for subscribers.
type BuildResult struct {
	// Hash identifies the served output, it only changes when the output does
	Hash     string
	Duration time.Duration
	Errors   []string
	Warnings []string
	// Scripts lists the URLs each entry group loads, its own output first
	Scripts map[string][]string
}

// OK reports whether the build finished without errors.
func (r BuildResult) OK() bool {
	return len(r.Errors) == 0
}

// Pipeline wraps an esbuild context. Outputs are kept in memory and served by
// Handler, every build is announced to subscribers.
type Pipeline struct {
	config Config
	log    zerolog.Logger
	ctx    api.BuildContext

	mu       sync.RWMutex
	files    map[string][]byte // relative to OutputDir, slash separated
	metadata *BuildMetadata
	last     BuildResult
	built    bool
	ready    chan struct{}
	started  time.Time
	span     trace.Span

	subMu       sync.Mutex
	subscribers map[int]func(BuildResult)
	nextID      int
}

package devserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"
)

var ErrProxyConfig = errors.New("invalid proxy config")

type proxyKind int

const (
	proxyNone proxyKind = iota
	proxyTarget
	proxyRules
)

// ProxySpec is the proxy configuration as written by the user: a target URL,
// a list of rules or a single rule. The zero value proxies nothing.
type ProxySpec struct {
	kind   proxyKind
	target string
	rules  []map[string]any
}

// ProxyTarget forwards every request to target.
func ProxyTarget(target string) ProxySpec {
	return ProxySpec{kind: proxyTarget, target: target}
}

// ProxyRules forwards requests matching each rule's context.
func ProxyRules(rules ...map[string]any) ProxySpec {
	return ProxySpec{kind: proxyRules, rules: rules}
}

// ProxyMap is ProxyRules with one rule.
func ProxyMap(rule map[string]any) ProxySpec {
	return ProxyRules(rule)
}

// IsZero reports whether no proxy is configured.
func (s ProxySpec) IsZero() bool {
	return s.kind == proxyNone
}

// UnmarshalYAML accepts a string, a sequence of rules or a single rule.
func (s *ProxySpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var target string
		if err := node.Decode(&target); err != nil {
			return err
		}
		*s = ProxyTarget(target)
	case yaml.SequenceNode:
		var rules []map[string]any
		if err := node.Decode(&rules); err != nil {
			return err
		}
		*s = ProxyRules(rules...)
	case yaml.MappingNode:
		var rule map[string]any
		if err := node.Decode(&rule); err != nil {
			return err
		}
		*s = ProxyMap(rule)
	default:
		return fmt.Errorf("%w: unsupported yaml node at line %d", ErrProxyConfig, node.Line)
	}
	return nil
}

// ProxyOptions configures where and how matching requests are forwarded.
type ProxyOptions struct {
	Target       string            `mapstructure:"target"`
	ChangeOrigin bool              `mapstructure:"changeOrigin"`
	PathRewrite  map[string]string `mapstructure:"pathRewrite"`
	Headers      map[string]string `mapstructure:"headers"`
	// Secure false skips TLS verification of the target
	Secure *bool `mapstructure:"secure"`
	// Cache responses in memory, or on disk under CacheDir
	Cache    bool   `mapstructure:"cache"`
	CacheDir string `mapstructure:"cacheDir"`
	// Options with no meaning here, kept for callers
	Extra map[string]any `mapstructure:",remain"`
}

// ProxyRule forwards requests whose path starts with one of Context.
type ProxyRule struct {
	Context []string
	Options ProxyOptions
}

// Matches reports whether path falls under the rule's context.
func (r ProxyRule) Matches(path string) bool {
	for _, c := range r.Context {
		if strings.HasPrefix(path, c) {
			return true
		}
	}
	return false
}

// NormalizeProxy turns any form of proxy configuration into rules.
func NormalizeProxy(spec ProxySpec) ([]ProxyRule, error) {
	switch spec.kind {
	case proxyNone:
		return nil, nil
	case proxyTarget:
		if spec.target == "" {
			return nil, fmt.Errorf("%w: empty target", ErrProxyConfig)
		}
		return []ProxyRule{{Context: []string{"/"}, Options: ProxyOptions{Target: spec.target}}}, nil
	}

	rules := make([]ProxyRule, 0, len(spec.rules))
	for i, raw := range spec.rules {
		rule, err := normalizeRule(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func normalizeRule(raw map[string]any) (ProxyRule, error) {
	var contextValue any
	var found bool
	for _, key := range []string{"context", "path"} {
		if v, ok := raw[key]; ok {
			contextValue, found = v, true
			break
		}
	}
	if !found {
		return ProxyRule{}, fmt.Errorf("%w: rule needs a context or path", ErrProxyConfig)
	}

	contexts, err := contextList(contextValue)
	if err != nil {
		return ProxyRule{}, err
	}

	rest := maps.Clone(raw)
	delete(rest, "context")
	delete(rest, "path")

	var opts ProxyOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ProxyRule{}, err
	}
	if err := decoder.Decode(rest); err != nil {
		return ProxyRule{}, fmt.Errorf("%w: %w", ErrProxyConfig, err)
	}
	if opts.Target == "" {
		return ProxyRule{}, fmt.Errorf("%w: rule for %v has no target", ErrProxyConfig, contexts)
	}

	return ProxyRule{Context: contexts, Options: opts}, nil
}

func contextList(v any) ([]string, error) {
	switch c := v.(type) {
	case string:
		if c == "" {
			return nil, fmt.Errorf("%w: empty context", ErrProxyConfig)
		}
		return []string{c}, nil
	case []string:
		if len(c) == 0 {
			return nil, fmt.Errorf("%w: empty context", ErrProxyConfig)
		}
		return c, nil
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%w: context entries must be strings", ErrProxyConfig)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: empty context", ErrProxyConfig)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: context must be a string or list, got %T", ErrProxyConfig, v)
	}
}

type proxyRoute struct {
	rule  ProxyRule
	proxy *httputil.ReverseProxy
}

// Proxy forwards requests matching a rule to its target. Rules are tried in
// order, unmatched requests go to next.
func Proxy(rules []ProxyRule) (func(http.Handler) http.Handler, error) {
	routes := make([]proxyRoute, 0, len(rules))
	for _, rule := range rules {
		proxy, err := newReverseProxy(rule.Options)
		if err != nil {
			return nil, err
		}
		routes = append(routes, proxyRoute{rule: rule, proxy: proxy})
	}

	return func(next http.Handler) http.Handler {
		if len(routes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, route := range routes {
				if !route.rule.Matches(r.URL.Path) {
					continue
				}

				telemetry.GetMetrics().ProxyRequestsTotal.Add(r.Context(), 1,
					metric.WithAttributes(attribute.String("target", route.rule.Options.Target)))

				ctx, span := telemetry.Tracer().Start(r.Context(), "devbundle.proxy")
				span.SetAttributes(attribute.String("target", route.rule.Options.Target))
				route.proxy.ServeHTTP(w, r.WithContext(ctx))
				span.End()
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

type pathRewrite struct {
	pattern *regexp.Regexp
	replace string
}

func newReverseProxy(opts ProxyOptions) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(opts.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: bad target %q", ErrProxyConfig, opts.Target)
	}

	patterns := make([]string, 0, len(opts.PathRewrite))
	for p := range opts.PathRewrite {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	rewrites := make([]pathRewrite, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad path rewrite %q: %w", ErrProxyConfig, p, err)
		}
		rewrites = append(rewrites, pathRewrite{pattern: re, replace: opts.PathRewrite[p]})
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := pr.In.URL.Path
			for _, rw := range rewrites {
				if rw.pattern.MatchString(path) {
					path = rw.pattern.ReplaceAllString(path, rw.replace)
					break
				}
			}
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""

			pr.SetURL(target)
			pr.SetXForwarded()
			if !opts.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			for k, v := range opts.Headers {
				pr.Out.Header.Set(k, v)
			}
		},
		Transport: proxyTransport(opts),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			zerolog.Ctx(r.Context()).Error().Err(err).Str("target", opts.Target).Msg("proxy request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}

func proxyTransport(opts ProxyOptions) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Secure != nil && !*opts.Secure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	switch {
	case opts.CacheDir != "":
		transport := httpcache.NewTransport(diskcache.New(opts.CacheDir))
		transport.Transport = base
		return transport
	case opts.Cache:
		transport := httpcache.NewTransport(httpcache.NewMemoryCache())
		transport.Transport = base
		return transport
	}
	return base
}

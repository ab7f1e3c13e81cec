package webpack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Top level configuration keys.
const (
	KeyDevtool = "devtool"
	KeyEntry   = "entry"
	KeyOutput  = "output"
	KeyPlugins = "plugins"
	KeyModule  = "module"
	KeyResolve = "resolve"
)

// BuildConfiguration is the bundler configuration produced by MakeConfig or
// loaded from a project config file.
type BuildConfiguration struct {
	Devtool string      `json:"devtool,omitempty" yaml:"devtool,omitempty"`
	Entry   EntryMap    `json:"entry" yaml:"entry"`
	Output  OutputSpec  `json:"output" yaml:"output"`
	Plugins Plugins     `json:"plugins" yaml:"plugins"`
	Module  ModuleSpec  `json:"module" yaml:"module"`
	Resolve ResolveSpec `json:"resolve" yaml:"resolve"`

	// Extra holds top level keys that are not one of the fixed fields above.
	Extra map[string]any `json:"-" yaml:",inline"`
}

// Get returns the top level value stored under key. An Extra entry shadows a
// fixed field of the same name.
func (c BuildConfiguration) Get(key string) (any, bool) {
	if v, ok := c.Extra[key]; ok {
		return v, true
	}
	switch key {
	case KeyDevtool:
		return c.Devtool, true
	case KeyEntry:
		return c.Entry, true
	case KeyOutput:
		return c.Output, true
	case KeyPlugins:
		return c.Plugins, true
	case KeyModule:
		return c.Module, true
	case KeyResolve:
		return c.Resolve, true
	}
	return nil, false
}

var fixedKeys = []string{KeyDevtool, KeyEntry, KeyOutput, KeyPlugins, KeyModule, KeyResolve}

// Shadowed returns, sorted, the Extra keys that hide a fixed field. They come
// from overrides that could not be decoded into that field; Get and JSON
// report them but the bundling engine only reads the fixed fields.
func (c BuildConfiguration) Shadowed() []string {
	var keys []string
	for _, key := range fixedKeys {
		if _, ok := c.Extra[key]; ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

type configAlias BuildConfiguration

// UnmarshalJSON decodes the fixed fields and keeps every other top level key
// in Extra.
func (c *BuildConfiguration) UnmarshalJSON(data []byte) error {
	var base configAlias
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, value := range fields {
		if slices.Contains(fixedKeys, key) {
			continue
		}
		if base.Extra == nil {
			base.Extra = make(map[string]any)
		}
		base.Extra[key] = value
	}
	*c = BuildConfiguration(base)
	return nil
}

// MarshalJSON inlines Extra next to the fixed fields, Extra wins on collision.
func (c BuildConfiguration) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(configAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q: %w", k, err)
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

// EntryGroup is a named set of modules the bundler starts traversal from.
type EntryGroup struct {
	Name    string
	Modules []string
}

// EntryMap is an ordered list of entry groups.
type EntryMap []EntryGroup

// DefaultGroup names the group created for a bare string or list entry in a
// config file.
const DefaultGroup = "main"

// Group returns the modules of the named group.
func (m EntryMap) Group(name string) ([]string, bool) {
	for _, g := range m {
		if g.Name == name {
			return g.Modules, true
		}
	}
	return nil, false
}

// Names returns the group names in order.
func (m EntryMap) Names() []string {
	names := make([]string, 0, len(m))
	for _, g := range m {
		names = append(names, g.Name)
	}
	return names
}

func (m EntryMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(g.Name)
		if err != nil {
			return nil, err
		}
		modules, err := json.Marshal(g.Modules)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(modules)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the same shapes as UnmarshalYAML. Object keys keep
// their document order.
func (m *EntryMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '{' {
		modules, err := entryModules(data)
		if err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		*m = EntryMap{{Name: DefaultGroup, Modules: modules}}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	out := EntryMap{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
		modules, err := entryModules(raw)
		if err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
		out = append(out, EntryGroup{Name: name, Modules: modules})
	}
	*m = out
	return nil
}

func entryModules(raw []byte) ([]string, error) {
	var module string
	if err := json.Unmarshal(raw, &module); err == nil {
		return []string{module}, nil
	}
	var modules []string
	if err := json.Unmarshal(raw, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// UnmarshalYAML accepts a single module, a list of modules or a mapping of
// group names to either.
func (m *EntryMap) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*m = EntryMap{{Name: DefaultGroup, Modules: []string{node.Value}}}
	case yaml.SequenceNode:
		var modules []string
		if err := node.Decode(&modules); err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		*m = EntryMap{{Name: DefaultGroup, Modules: modules}}
	case yaml.MappingNode:
		out := make(EntryMap, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			name, value := node.Content[i].Value, node.Content[i+1]
			var modules []string
			if value.Kind == yaml.ScalarNode {
				modules = []string{value.Value}
			} else if err := value.Decode(&modules); err != nil {
				return fmt.Errorf("entry %q: %w", name, err)
			}
			out = append(out, EntryGroup{Name: name, Modules: modules})
		}
		*m = out
	default:
		return fmt.Errorf("entry: unsupported yaml node at line %d", node.Line)
	}
	return nil
}

type OutputSpec struct {
	Path                          string `json:"path,omitempty" yaml:"path,omitempty"`
	Filename                      string `json:"filename,omitempty" yaml:"filename,omitempty"`
	PublicPath                    string `json:"publicPath,omitempty" yaml:"publicPath,omitempty"`
	DevtoolModuleFilenameTemplate string `json:"devtoolModuleFilenameTemplate,omitempty" yaml:"devtoolModuleFilenameTemplate,omitempty"`
}

// Plugin describes a bundler plugin by name and options.
type Plugin struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

type Plugins []Plugin

// Find returns the first plugin with the given name.
func (p Plugins) Find(name string) (Plugin, bool) {
	for _, plugin := range p {
		if plugin.Name == name {
			return plugin, true
		}
	}
	return Plugin{}, false
}

// Count returns how many plugins carry the given name.
func (p Plugins) Count(name string) int {
	n := 0
	for _, plugin := range p {
		if plugin.Name == name {
			n++
		}
	}
	return n
}

// Names returns the plugin names in order.
func (p Plugins) Names() []string {
	names := make([]string, 0, len(p))
	for _, plugin := range p {
		names = append(names, plugin.Name)
	}
	return names
}

type ModuleSpec struct {
	Rules Rules `json:"rules" yaml:"rules"`
}

// moduleFields also accepts the older "loaders" key, its entries follow any
// "rules".
type moduleFields struct {
	Rules   Rules `json:"rules" yaml:"rules"`
	Loaders Rules `json:"loaders" yaml:"loaders"`
}

func (f moduleFields) spec() ModuleSpec {
	return ModuleSpec{Rules: append(f.Rules, f.Loaders...)}
}

func (m *ModuleSpec) UnmarshalJSON(data []byte) error {
	var f moduleFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = f.spec()
	return nil
}

func (m *ModuleSpec) UnmarshalYAML(node *yaml.Node) error {
	var f moduleFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	*m = f.spec()
	return nil
}

// Loader is one step of a rule's transformation pipeline.
type Loader struct {
	Loader  string         `json:"loader" yaml:"loader"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// UnmarshalYAML accepts the short "name" form as well as a mapping.
func (l *Loader) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = Loader{Loader: node.Value}
		return nil
	}
	type plain Loader
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Loader(p)
	return nil
}

// UnmarshalJSON accepts the short "name" form as well as an object.
func (l *Loader) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*l = Loader{Loader: name}
		return nil
	}
	type plain Loader
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Loader(p)
	return nil
}

// Rule maps a file pattern onto a transformation pipeline. Use lists loaders
// outermost first, so the last loader sees the raw source.
type Rule struct {
	Test string   `json:"test" yaml:"test"`
	Use  []Loader `json:"use" yaml:"use"`
}

// ruleFields also accepts the older "loader" chain ("style-loader!css-loader")
// and "loaders" list in place of "use".
type ruleFields struct {
	Test    string   `json:"test" yaml:"test"`
	Use     []Loader `json:"use" yaml:"use"`
	Loader  string   `json:"loader" yaml:"loader"`
	Loaders []Loader `json:"loaders" yaml:"loaders"`
}

func (f ruleFields) rule() Rule {
	use := f.Use
	if len(use) == 0 {
		use = f.Loaders
	}
	if len(use) == 0 && f.Loader != "" {
		for _, name := range strings.Split(f.Loader, "!") {
			use = append(use, Loader{Loader: name})
		}
	}
	return Rule{Test: f.Test, Use: use}
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var f ruleFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = f.rule()
	return nil
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var f ruleFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	*r = f.rule()
	return nil
}

var patterns sync.Map

// Matches reports whether path matches the rule's pattern. Invalid patterns
// never match.
func (r Rule) Matches(path string) bool {
	if cached, ok := patterns.Load(r.Test); ok {
		re, _ := cached.(*regexp.Regexp)
		return re != nil && re.MatchString(path)
	}
	re, _ := regexp.Compile(r.Test)
	patterns.Store(r.Test, re)
	return re != nil && re.MatchString(path)
}

// Pipeline returns the loaders in the order they are applied to a source file.
func (r Rule) Pipeline() []Loader {
	pipeline := slices.Clone(r.Use)
	slices.Reverse(pipeline)
	return pipeline
}

// Loader returns the named loader from the rule's pipeline.
func (r Rule) Loader(name string) (Loader, bool) {
	for _, l := range r.Use {
		if l.Loader == name {
			return l, true
		}
	}
	return Loader{}, false
}

type Rules []Rule

// Match returns the first rule matching path.
func (rs Rules) Match(path string) (Rule, bool) {
	for _, r := range rs {
		if r.Matches(path) {
			return r, true
		}
	}
	return Rule{}, false
}

// Index returns the position of the first rule matching path, or -1.
func (rs Rules) Index(path string) int {
	for i, r := range rs {
		if r.Matches(path) {
			return i
		}
	}
	return -1
}

type ResolveSpec struct {
	Extensions []string `json:"extensions" yaml:"extensions"`
}

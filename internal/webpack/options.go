package webpack

import "slices"

// Entry is the caller supplied app entry: absent, a single module or an
// ordered list of modules.
type Entry struct {
	paths []string
	set   bool
}

// EntryPath sets the app entry to a single module.
func EntryPath(path string) Entry {
	return Entry{paths: []string{path}, set: true}
}

// EntryPaths sets the app entry to an ordered list of modules, used verbatim.
func EntryPaths(paths ...string) Entry {
	if paths == nil {
		paths = []string{}
	}
	return Entry{paths: slices.Clone(paths), set: true}
}

func (e Entry) IsSet() bool {
	return e.set
}

func (e Entry) Paths() []string {
	return slices.Clone(e.paths)
}

// MergePolicy controls how Overrides are laid over the base configuration.
type MergePolicy int

const (
	// MergeShallow replaces a top level field wholesale.
	MergeShallow MergePolicy = iota
	// MergeDeep merges nested records, non-empty override fields win and
	// lists are replaced.
	MergeDeep
)

func (p MergePolicy) String() string {
	if p == MergeDeep {
		return "deep"
	}
	return "shallow"
}

// BuildOptions is the caller input to MakeConfig. Cwd, Entry and JQuery are
// consumed by the builder; every other key in Overrides is laid over the
// result.
type BuildOptions struct {
	Cwd       string
	Entry     Entry
	JQuery    bool
	Merge     MergePolicy
	Overrides map[string]any
}

// consumedKeys never reach the overlay even when present in Overrides.
var consumedKeys = []string{"cwd", "jquery", "entry"}

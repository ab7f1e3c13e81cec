package webpack

import (
	"maps"
	"reflect"
	"slices"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
)

// overlay lays overrides over base. Keys are applied in sorted order so the
// result never depends on map iteration.
func overlay(base BuildConfiguration, overrides map[string]any, policy MergePolicy) BuildConfiguration {
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		if slices.Contains(consumedKeys, key) {
			continue
		}
		applyOverride(&base, key, overrides[key], policy)
	}
	return base
}

func applyOverride(cfg *BuildConfiguration, key string, value any, policy MergePolicy) {
	var ok bool
	switch key {
	case KeyDevtool:
		ok = assign(&cfg.Devtool, value, policy)
	case KeyOutput:
		ok = assign(&cfg.Output, value, policy)
	case KeyPlugins:
		ok = assign(&cfg.Plugins, value, policy)
	case KeyModule:
		ok = assign(&cfg.Module, value, policy)
	case KeyResolve:
		ok = assign(&cfg.Resolve, value, policy)
	}
	if ok {
		return
	}

	// unknown keys and values that do not fit a fixed field are kept verbatim,
	// a fixed field left untouched this way is reported by Shadowed
	if cfg.Extra == nil {
		cfg.Extra = make(map[string]any)
	}
	cfg.Extra[key] = value
}

func assign[T any](dst *T, value any, policy MergePolicy) bool {
	v, ok := decode[T](value)
	if !ok {
		return false
	}
	if policy == MergeDeep {
		// mergo only merges structs and maps, anything else is replaced
		if err := mergo.Merge(dst, v, mergo.WithOverride); err == nil {
			return true
		}
	}
	*dst = v
	return true
}

func decode[T any](value any) (T, bool) {
	var out T
	switch v := value.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
		return out, false
	case nil:
		return out, false
	}

	target := reflect.TypeOf(out)
	if rv := reflect.ValueOf(value); rv.Type().ConvertibleTo(target) && rv.Kind() == target.Kind() {
		return rv.Convert(target).Interface().(T), true
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &out,
		TagName:     "json",
		ErrorUnused: true,
		DecodeHook:  loaderShorthand,
	})
	if err != nil {
		return out, false
	}
	if err := dec.Decode(value); err != nil {
		return out, false
	}
	return out, true
}

var loaderType = reflect.TypeOf(Loader{})

// loaderShorthand decodes "css-loader" into Loader{Loader: "css-loader"}.
func loaderShorthand(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == loaderType {
		return Loader{Loader: reflect.ValueOf(data).String()}, nil
	}
	return data, nil
}

package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// GoToStarlark converts a configuration value to a Starlark value.
// Supported types: string, int, int64, float64, bool, []string, []any,
// map[string]any and map[string]string.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// VarsToStarlark builds the frozen "vars" struct scripts read configured
// values from, as vars.name.
func VarsToStarlark(vars map[string]any) (starlark.Value, error) {
	members := make(starlark.StringDict, len(vars))
	for k, v := range vars {
		sv, err := GoToStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("vars.%s: %w", k, err)
		}
		members[k] = sv
	}
	s := starlarkstruct.FromStringDict(starlark.String("vars"), members)
	s.Freeze()
	return s, nil
}

// ToText renders a script value as expansion text. Strings are unquoted
// and None is empty.
func ToText(v starlark.Value) string {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(val)
	default:
		return val.String()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

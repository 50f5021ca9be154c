package safety

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
)

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// childPath addresses key inside the object at parent: parent.key, or
// parent["odd key"] when key is not a plain identifier.
func childPath(parent, key string) string {
	if plainKey.MatchString(key) {
		if parent == "" {
			return key
		}
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// Walk visits every string leaf of a decoded JSON tree in a deterministic
// order (object keys sorted, arrays in index order). visit returns false to
// stop the walk; Walk reports whether it ran to completion.
func Walk(v any, path string, visit func(path, s string) bool) bool {
	switch node := v.(type) {
	case string:
		return visit(path, node)
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !Walk(node[k], childPath(path, k), visit) {
				return false
			}
		}
	case map[string]string:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !visit(childPath(path, k), node[k]) {
				return false
			}
		}
	case []any:
		for i, child := range node {
			if !Walk(child, indexPath(path, i), visit) {
				return false
			}
		}
	case []string:
		for i, s := range node {
			if !visit(indexPath(path, i), s) {
				return false
			}
		}
	case nil, bool, float64, float32, int, int64, json.Number:
	}
	return true
}

// Transform returns a deep copy of v with fn applied to every string leaf.
// Non-string scalars are copied as is.
func Transform(v any, fn func(string) string) any {
	switch node := v.(type) {
	case string:
		return fn(node)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = Transform(child, fn)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(node))
		for k, s := range node {
			out[k] = fn(s)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = Transform(child, fn)
		}
		return out
	case []string:
		out := make([]string, len(node))
		for i, s := range node {
			out[i] = fn(s)
		}
		return out
	default:
		return v
	}
}

// transformParams applies fn to every string leaf of a parameter map.
func transformParams(params map[string]any, fn func(string) string) map[string]any {
	if params == nil {
		return nil
	}
	return Transform(params, fn).(map[string]any)
}

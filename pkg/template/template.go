// Package template resolves {{ dotted.path }} placeholders against an execution context.
package template

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Resolve substitutes placeholders inside strings, recursing into maps and lists.
// Other values are returned unchanged. Resolve never mutates its input.
func Resolve(value any, data map[string]any) any {
	switch typed := value.(type) {
	case string:
		return ResolveString(typed, data)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = Resolve(v, data)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = Resolve(v, data)
		}

		return out
	default:
		return value
	}
}

// ResolveMap is Resolve for the common config shape.
func ResolveMap(config map[string]any, data map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	resolved, _ := Resolve(config, data).(map[string]any)

	return resolved
}

// ResolveString replaces every placeholder whose path exists in data with the value
// rendered as text. Placeholders for absent paths are left as written.
func ResolveString(input string, data map[string]any) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, ok := Lookup(data, path)
		if !ok {
			return match
		}

		return Stringify(value)
	})
}

// Lookup walks data along a dot-separated path. Only maps are traversed: a segment
// that lands on a list or a scalar is absent, so list elements are never addressed.
func Lookup(data map[string]any, path string) (any, bool) {
	return LookupSegments(data, strings.Split(path, "."))
}

// LookupSegments is Lookup for an already split path.
func LookupSegments(data map[string]any, segments []string) (any, bool) {
	var current any = data

	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		default:
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a context value the way it appears inside resolved text.
func Stringify(value any) string {
	switch value.(type) {
	case nil:
		return ""
	case map[string]any, []any, map[string]string:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ""
		}

		return string(encoded)
	}

	if s, err := cast.ToStringE(value); err == nil {
		return s
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}

	return string(encoded)
}

// HasPlaceholders reports whether input contains at least one placeholder.
func HasPlaceholders(input string) bool {
	return placeholder.MatchString(input)
}

package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue renders an aggregation key or source value as a
// string. Numbers and booleans are formatted, null and empty input yield "",
// and objects or arrays are returned as raw JSON.
func FlexibleStringValue(raw json.RawMessage) string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return string(raw)
	}
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		return string(raw)
	}
	return scalarString(v)
}

// Lookup walks a dotted path through decoded JSON objects. Path segments may
// contain colons ("properties.cm:title") but not dots.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// OptionalString normalizes a scalar-or-array index value into an optional
// string. Blank strings and empty arrays become nil; arrays are joined with
// newlines after dropping blank entries.
func OptionalString(v any) *string {
	var s string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		s = val
	case []any:
		parts := StringList(val)
		if len(parts) == 0 {
			return nil
		}
		s = strings.Join(parts, "\n")
	default:
		s = scalarString(val)
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// StringList normalizes a scalar-or-array index value into a list of
// non-blank strings. Returns nil when nothing remains.
func StringList(v any) []string {
	var out []string
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range val {
			if item == nil {
				continue
			}
			s := scalarString(item)
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
	default:
		s := scalarString(val)
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

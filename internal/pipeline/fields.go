package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field extraction helpers for the generic JSON objects the archive layer
// produces. Unlike strict extractors, these recover locally: a missing or
// malformed optional field yields a default, and only the coercions the fact
// builder must treat as record-level failures return an error.

// stringField returns the string value of key, or fallback when the key is
// absent or not a string.
func stringField(m map[string]interface{}, key, fallback string) string {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

// coerceFloat converts a JSON scalar to float64. Numeric strings are
// accepted; anything else fails.
func coerceFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("coerceFloat: %q is not numeric", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("coerceFloat: value has type %T, want number", v)
	}
}

// floatOrDefault reads a numeric field, falling back to def when the field
// is absent, null or cannot be coerced.
func floatOrDefault(m map[string]interface{}, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	f, err := coerceFloat(v)
	if err != nil {
		return def
	}
	return f
}

// floatOrSkip reads a numeric field, falling back to def when the field is
// absent or null but failing when a present value cannot be coerced. The
// caller skips the record on error.
func floatOrSkip(m map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := coerceFloat(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return f, nil
}

// intOrDefault reads an integer field, falling back to def when the field is
// absent or cannot be coerced.
func intOrDefault(m map[string]interface{}, key string, def int64) int64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	f, err := coerceFloat(v)
	if err != nil {
		return def
	}
	return int64(f)
}

// stringList reads a field holding a sequence and renders every element as a
// string. A missing or non-sequence value yields an empty list.
func stringList(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, isString := item.(string); isString {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out
}

// objectList reads a field holding a sequence of JSON objects; non-object
// elements are dropped.
func objectList(m map[string]interface{}, key string) []map[string]interface{} {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, isObject := item.(map[string]interface{}); isObject {
			out = append(out, obj)
		}
	}
	return out
}

// naturalKey canonicalizes a loosely-typed natural key into a comparable
// string. JSON numbers lose any integral ".0" suffix so that a numeric
// account_id and its string-typed reference resolve to the same key. The
// second return is false when no usable key is present.
func naturalKey(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// dateString unwraps a raw date value into its string form. Structured
// wrappers of the form {"$date": "..."} are unwrapped one level; an empty
// string counts as no value.
func dateString(v interface{}) (string, bool) {
	if wrapper, isWrapper := v.(map[string]interface{}); isWrapper {
		v = wrapper["$date"]
	}
	s, isString := v.(string)
	if !isString || s == "" {
		return "", false
	}
	return s, true
}

// isoLayouts are the ISO-8601 shapes accepted after the trailing Z marker has
// been stripped, from most to least specific.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseISODate parses an ISO-8601 timestamp, tolerating a trailing literal Z
// timezone marker and a missing time portion.
func parseISODate(raw string) (time.Time, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "Z")
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parseISODate: %q is not an ISO-8601 timestamp", raw)
}

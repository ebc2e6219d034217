package util

import (
	"encoding/json"
	"strings"
)

// Truncate caps a string at max bytes, used before writing into bounded
// error/result columns.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// CanonicalJSON marshals a payload with stable output for storage in
// *_json columns. A payload that cannot marshal degrades to "{}".
func CanonicalJSON(payload map[string]interface{}) string {
	if payload == nil {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ParseJSONMap is the inverse of CanonicalJSON; malformed input yields an
// empty map rather than an error.
func ParseJSONMap(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return map[string]interface{}{}
	}
	return parsed
}

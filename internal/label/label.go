// Package label reads ground-truth labels from request feedback records.
package label

import "github.com/tidwall/gjson"

// DefaultPath locates the verified ISO 3166-1 alpha-3 country code.
const DefaultPath = "_original.country.code3"

// Extract returns the string found at path in the feedback JSON.
// ok is false when the feedback is not valid JSON, the path is missing, or
// the value is not a non-empty string.
func Extract(feedback []byte, path string) (string, bool) {
	if path == "" {
		path = DefaultPath
	}
	if !gjson.ValidBytes(feedback) {
		return "", false
	}
	v := gjson.GetBytes(feedback, path)
	if v.Type != gjson.String {
		return "", false
	}
	if v.Str == "" {
		return "", false
	}
	return v.Str, true
}

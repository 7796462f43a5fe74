// Package sanitize produces bounded, credential-free previews of tool
// inputs and outputs. Previews exist for human inspection only; they are
// never parsed back.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// PreviewLimit bounds the length of a stored preview in bytes.
const PreviewLimit = 500

// Redacted replaces credential-shaped substrings in previews.
const Redacted = "[REDACTED]"

// TruncationSuffix marks a preview that was cut at PreviewLimit.
const TruncationSuffix = "... [truncated]"

// credentialPatterns match key/token/secret/password assignments and
// known provider key prefixes. Case-insensitive where it matters.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|credential)["']?\s*[:=]\s*["']?[^\s"',}]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`gho_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`xox[bpars]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// Preview renders a value as a redacted, bounded string. Maps and slices
// are rendered as JSON; anything unmarshalable falls back to fmt.
func Preview(v any) string {
	if v == nil {
		return ""
	}
	var text string
	switch t := v.(type) {
	case string:
		text = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(b)
		}
	}
	return Truncate(Redact(text))
}

// Redact replaces credential-shaped substrings with the redaction marker.
func Redact(text string) string {
	for _, p := range credentialPatterns {
		text = p.ReplaceAllString(text, Redacted)
	}
	return text
}

// Truncate cuts text at PreviewLimit and appends the truncation suffix.
func Truncate(text string) string {
	if len(text) <= PreviewLimit {
		return text
	}
	return text[:PreviewLimit] + TruncationSuffix
}

// pathFields are the tool-input keys known to carry file paths.
var pathFields = []string{"file_path", "filePath", "path", "notebook_path", "notebookPath"}

// FilePaths extracts candidate file paths from a tool input payload.
func FilePaths(input map[string]any) []string {
	if input == nil {
		return nil
	}
	var paths []string
	for _, key := range pathFields {
		if s, ok := input[key].(string); ok && s != "" {
			paths = append(paths, s)
		}
	}
	return paths
}

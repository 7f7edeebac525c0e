// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redact scrubs sensitive values out of adapter-sourced data
// before it reaches the event store or error details, per spec §4.2.
package redact

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const placeholder = "[REDACTED]"

// defaultKeyPatterns are glob patterns (doublestar syntax, so "**" matches
// across nested key path segments) matched case-insensitively against a
// lowercased key or key path.
var defaultKeyPatterns = []string{
	"*token*",
	"*secret*",
	"*password*",
	"*passwd*",
	"*api_key*",
	"*apikey*",
	"*credential*",
	"*auth*",
	"**.token",
	"**.secret",
}

// textPatterns catch secrets embedded in free text (stdout/stderr,
// error messages) rather than structured keys: bearer tokens and common
// key-prefix shapes.
var textPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`),
	regexp.MustCompile(`\bsk-[a-zA-Z0-9]{10,}\b`),
	regexp.MustCompile(`\bgh[pousr]_[a-zA-Z0-9]{20,}\b`),
}

// Redactor scrubs sensitive data from structured values and free text.
// Construct one with New to get the default pattern set; the zero value
// has no patterns and returns data unchanged.
type Redactor struct {
	keyPatterns  []string
	textPatterns []*regexp.Regexp
}

// New creates a Redactor with the default pattern set, optionally
// extended with caller-supplied glob key patterns.
func New(extraKeyPatterns ...string) *Redactor {
	return &Redactor{
		keyPatterns:  append(append([]string{}, defaultKeyPatterns...), extraKeyPatterns...),
		textPatterns: textPatterns,
	}
}

// Value walks v (as produced by encoding/json.Unmarshal into any: maps,
// slices, scalars) and returns a copy with sensitive map values replaced
// by a placeholder and sensitive substrings scrubbed from strings.
func (r *Redactor) Value(v any) any {
	return r.walk(v, "")
}

func (r *Redactor) walk(v any, path string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if r.keyMatches(k, childPath) {
				out[k] = placeholder
				continue
			}
			out[k] = r.walk(child, childPath)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = r.walk(elem, path)
		}
		return out
	case string:
		return r.Text(val)
	default:
		return val
	}
}

// keyMatches reports whether key or the dotted path built from the root
// matches a sensitive glob pattern.
func (r *Redactor) keyMatches(key, path string) bool {
	lowerKey := strings.ToLower(key)
	lowerPath := strings.ToLower(path)
	for _, pattern := range r.keyPatterns {
		if ok, _ := doublestar.Match(pattern, lowerKey); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, lowerPath); ok {
			return true
		}
	}
	return false
}

// Text scrubs known secret shapes out of free text, leaving the
// surrounding text intact.
func (r *Redactor) Text(s string) string {
	out := s
	for _, pattern := range r.textPatterns {
		out = pattern.ReplaceAllString(out, placeholder)
	}
	return out
}

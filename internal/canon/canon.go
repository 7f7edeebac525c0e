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

// Package canon provides canonical JSON encoding: sorted object keys, no
// insignificant whitespace, stable number formatting. Everything that
// crosses a digest or persistence boundary (events, bundles, payloads)
// must be encoded this way for the resulting bytes to be portable across
// platforms and Go map-iteration order.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v into canonical JSON bytes.
func Marshal(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return encode(normalized)
}

// normalize round-trips v through encoding/json to obtain a value built
// only from the types json.Unmarshal produces (map[string]any, []any,
// float64, string, bool, nil) so that struct field tags, omitempty, and
// custom MarshalJSON methods are honored before canonicalization.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("canon: unmarshal for normalization: %w", err)
	}
	return out, nil
}

// encode writes v as canonical JSON, sorting map keys at every level and
// using encoding/json's own number formatting for consistency with
// standard parsers reading the bundle back.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return writeObject(buf, val)
	case []any:
		return writeArray(buf, val)
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canon: marshal leaf value: %w", err)
		}
		buf.Write(enc)
		return nil
	}
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("canon: marshal key %q: %w", k, err)
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

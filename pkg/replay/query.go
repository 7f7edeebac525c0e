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

package replay

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query runs a jq expression over a reconstructed View (spec §4.6 is
// silent on ad hoc inspection; this supplements it in the teacher's
// idiom for operators poking at a replayed run without writing Go).
// The view is round-tripped through JSON first so the expression sees
// plain maps/slices rather than Go struct values. Query takes no
// Checker state; it hangs off Checker so callers reach it the same way
// they reach Replay, as spec §4.6 describes it.
func (c *Checker) Query(view View, expression string) (any, error) {
	if expression == "" {
		return nil, fmt.Errorf("replay: empty jq expression")
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("replay: marshaling view: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("replay: unmarshaling view: %w", err)
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("replay: parsing jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("replay: compiling jq expression: %w", err)
	}

	iter := code.Run(data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if errVal, isErr := v.(error); isErr {
			return nil, fmt.Errorf("replay: running jq expression: %w", errVal)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Copyright 2025 Antfly, Inc.
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

package spans

import (
	"fmt"
	"maps"

	"github.com/bytedance/sonic"
)

// Meta is the envelope metadata. Fields other than version and notes are
// annotator telemetry (latencies, vocabulary hit counts) and pass through
// unchanged.
type Meta struct {
	Version string
	Notes   string
	Extra   map[string]any
}

// Clone returns a copy that does not share Extra with m.
func (m Meta) Clone() Meta {
	m.Extra = maps.Clone(m.Extra)
	return m
}

// MarshalJSON flattens Extra next to version and notes. Keys are sorted so
// output is stable.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	maps.Copy(out, m.Extra)
	out["version"] = m.Version
	out["notes"] = m.Notes
	return sonic.ConfigStd.Marshal(out)
}

// UnmarshalJSON splits version and notes from the passthrough fields.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding meta: %w", err)
	}
	*m = Meta{}
	if v, ok := raw["version"].(string); ok {
		m.Version = v
		delete(raw, "version")
	}
	if n, ok := raw["notes"].(string); ok {
		m.Notes = n
		delete(raw, "notes")
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

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

package taxonomy

import (
	"slices"
	"strings"
	"unicode"
)

// structuralLabels are section names that prompt writers use as headings but
// that are not role names themselves.
var structuralLabels = []string{
	"technical specs",
	"technical specifications",
	"specs",
	"setting",
	"scene",
	"mood",
	"atmosphere",
	"color palette",
	"composition",
	"framing",
	"visual style",
	"camera work",
	"music",
	"sound",
	"prompt",
	"description",
	"notes",
	"variations",
	"alternative approaches",
}

var (
	labels = map[string]struct{}{}
	// wordLabels are the one-word labels other than parent names.
	wordLabels = map[string]struct{}{}
)

// Built from hierarchy rather than all: this init runs before the one in
// taxonomy.go fills the role tables.
func init() {
	var parentNames []string
	for _, h := range hierarchy {
		parent := string(h.parent)
		parentNames = append(parentNames, parent)
		labels[parent] = struct{}{}
		for _, r := range h.attributes {
			words := strings.Join(splitCamel(r.Attribute()), " ")
			labels[words] = struct{}{}
			labels[parent+" "+words] = struct{}{}
		}
	}
	for _, l := range structuralLabels {
		labels[l] = struct{}{}
	}
	for l := range labels {
		if !strings.Contains(l, " ") && !slices.Contains(parentNames, l) {
			wordLabels[l] = struct{}{}
		}
	}
}

// IsLabel reports whether s (case-insensitive, surrounding whitespace and a
// trailing colon ignored) is a bare category or section label such as
// "Camera", "aspect ratio:" or "Lighting Quality".
func IsLabel(s string) bool {
	_, ok := labels[normalizeLabel(s)]
	return ok
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ":")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IsWordLabel reports whether s is a one-word label that is not a parent
// category. These words ("music", "mood", "lens") are also ordinary scene
// content, so they only mark structure where they are written as a heading.
func IsWordLabel(s string) bool {
	_, ok := wordLabels[normalizeLabel(s)]
	return ok
}

// Labels returns the known label names in no particular order.
func Labels() []string {
	out := make([]string, 0, len(labels))
	for l := range labels {
		out = append(out, l)
	}
	return out
}

// splitCamel turns "timeOfDay" into ["time", "of", "day"].
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, c := range s {
		if i > 0 && unicode.IsUpper(c) {
			words = append(words, strings.ToLower(s[start:i]))
			start = i
		}
	}
	return append(words, strings.ToLower(s[start:]))
}

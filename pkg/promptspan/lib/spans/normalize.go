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
	"strings"
	"unicode/utf8"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
)

// NormalizeResult is the output of NormalizeAndCorrect.
type NormalizeResult struct {
	Sanitized []Span
	// Errors is only populated in Strict mode.
	Errors []string
	Notes  []string
}

// leadingEdgeWords are articles and prepositions that annotators tend to drag
// into the front of a span.
var leadingEdgeWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "with": {}, "by": {}, "for": {},
	"to": {}, "from": {}, "and": {}, "or": {}, "into": {}, "onto": {},
	"over": {}, "under": {},
}

// trailingEdgeWords omits particles that finish camera moves ("push in",
// "fly over").
var trailingEdgeWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"of": {}, "at": {}, "with": {}, "by": {}, "for": {},
	"to": {}, "from": {}, "and": {}, "or": {}, "into": {}, "onto": {},
}

const edgePunct = ",.;:!?*-_•…" + quoteChars

// NormalizeAndCorrect turns raw annotator spans into positioned, role-checked
// spans over source. Output order follows input order minus dropped spans.
func NormalizeAndCorrect(raw []RawSpan, source string, policy Policy, mode Mode) NormalizeResult {
	var res NormalizeResult
	loc := newLocator(source)
	digest := SourceDigest(source)

	reject := func(i int, format string, args ...any) {
		msg := fmt.Sprintf("span %d: ", i) + fmt.Sprintf(format, args...)
		if mode == Strict {
			res.Errors = append(res.Errors, msg)
			return
		}
		res.Notes = append(res.Notes, "dropped "+msg)
	}

	for i, r := range raw {
		if strings.TrimSpace(r.Text) == "" {
			reject(i, "missing text")
			continue
		}

		rng, ok := position(loc, r, source)
		if !ok {
			reject(i, "%q not found in source", r.Text)
			continue
		}
		if note := adjustedNote(r, rng); note != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("span %d %q: %s", i, r.Text, note))
		}

		start, end := refineBoundaries(source, rng.Start, rng.End)
		if start != rng.Start || end != rng.End {
			res.Notes = append(res.Notes, fmt.Sprintf("span %d: trimmed %q to %q",
				i, source[rng.Start:rng.End], source[start:end]))
		}
		text := source[start:end]

		role, note := resolveRole(r.RoleName())
		if note != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("span %d %q: %s", i, text, note))
		}

		conf := clampConfidence(r.Confidence)
		if c := r.Confidence; c != nil && (*c < 0 || *c > 1) {
			res.Notes = append(res.Notes, fmt.Sprintf("span %d %q: confidence %v clamped to %v", i, text, *r.Confidence, conf))
		}

		if limit := policy.NonTechnicalWordLimit; limit > 0 && !role.IsTechnical() {
			if n := WordCount(text); n > limit {
				reject(i, "%q exceeds non-technical word limit (%d > %d)", text, n, limit)
				continue
			}
		}

		loc.claim(rng)
		res.Sanitized = append(res.Sanitized, Span{
			ID:         SpanID(digest, start, end, role),
			Text:       text,
			Start:      start,
			End:        end,
			Role:       role,
			Confidence: conf,
		})
	}
	return res
}

// position accepts the annotator's offsets when they already cut r.Text out of
// source, and otherwise relocates the text.
func position(loc *locator, r RawSpan, source string) (Range, bool) {
	if r.Start != nil && r.End != nil {
		s, e := *r.Start, *r.End
		if s >= 0 && s < e && e <= len(source) && source[s:e] == r.Text {
			return Range{s, e}, true
		}
	}
	preferred := NoPreference
	if r.Start != nil && *r.Start >= 0 {
		preferred = *r.Start
	}
	return loc.find(r.Text, preferred)
}

// adjustedNote describes how the supplied offsets of r moved to rng, if any
// were supplied and they moved.
func adjustedNote(r RawSpan, rng Range) string {
	switch {
	case r.Start == nil:
		return ""
	case r.End != nil && (rng.Start != *r.Start || rng.End != *r.End):
		return fmt.Sprintf("indices adjusted from [%d,%d) to [%d,%d)", *r.Start, *r.End, rng.Start, rng.End)
	case r.End == nil && rng.Start != *r.Start:
		return fmt.Sprintf("indices adjusted from start %d to [%d,%d)", *r.Start, rng.Start, rng.End)
	}
	return ""
}

// resolveRole maps a loose role name onto the taxonomy. Unknown attributes fall
// back to their parent and unknown parents to subject.
func resolveRole(name string) (taxonomy.Role, string) {
	if role, ok := taxonomy.Parse(name); ok {
		return role, ""
	}
	if parent, ok := taxonomy.ParseParent(name); ok {
		return parent, fmt.Sprintf("unknown role %q, using %q", name, parent)
	}
	return taxonomy.Subject, fmt.Sprintf("unknown role %q, defaulting to %q", name, taxonomy.Subject)
}

// refineBoundaries shrinks [start,end) past edge punctuation, whitespace and
// leading or trailing articles and prepositions. It never returns an empty
// range.
func refineBoundaries(source string, start, end int) (int, int) {
	s, e := start, end
	for {
		ps, pe := s, e
		s, e = trimEdges(source, s, e)
		if s >= e {
			return start, end
		}
		s, e = trimEdgeWords(source, s, e)
		if s == ps && e == pe {
			return s, e
		}
	}
}

func trimEdges(source string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(source[s:e])
		if !isEdgeRune(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(source[s:e])
		if !isEdgeRune(r) {
			break
		}
		e -= size
	}
	return s, e
}

func isEdgeRune(r rune) bool {
	return isSpace(r) || strings.ContainsRune(edgePunct, r)
}

// trimEdgeWords drops one leading and one trailing edge word when the span has
// more than one word.
func trimEdgeWords(source string, s, e int) (int, int) {
	text := source[s:e]
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return s, e
	}
	if _, ok := leadingEdgeWords[strings.ToLower(fields[0])]; ok {
		s += strings.Index(text, fields[0]) + len(fields[0])
		text = source[s:e]
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return s, e
	}
	last := fields[len(fields)-1]
	if _, ok := trailingEdgeWords[strings.ToLower(last)]; ok {
		e = s + strings.LastIndex(text, last)
	}
	return s, e
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', 0x85, 0xA0:
		return true
	}
	return false
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

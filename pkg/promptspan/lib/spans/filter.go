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
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
)

var (
	markdownHeadingRe = regexp.MustCompile(`^#{1,6}(\s|$)`)
	boldHeadingRe     = regexp.MustCompile(`^(\*\*[^*]+\*\*|__[^_]+__):?$`)
	listMarkerRe      = regexp.MustCompile(`^([-*+•]|\d+[.)]|[a-zA-Z][.)])$`)
	variationHeaderRe = regexp.MustCompile(`(?i)^(variation|alternative|alternate|option|version|take)\s*#?\d+\s*(\([^)]*\))?\s*:?$`)
	metaMarkerRe      = regexp.MustCompile(`(?i)^(variation|alternative|alternate|option|version|take)\s*#?\d+$`)
)

// metaMarkers are words that, placed before a label, describe prompt
// structure rather than the scene ("main subject", "primary lighting").
var metaMarkers = map[string]struct{}{
	"main": {}, "primary": {}, "secondary": {}, "key": {}, "overall": {},
	"alternate": {}, "alternative": {}, "additional": {},
}

// styleReferences precede names of artists, directors or brands.
var styleReferences = []string{
	"in the style of",
	"style of",
	"inspired by",
	"reminiscent of",
	"in the manner of",
	"in the vein of",
	"homage to",
	"directed by",
	"shot by",
	"a la ",
	"à la ",
}

// proper-noun connectors that may appear lower-cased inside a name.
var nameConnectors = map[string]struct{}{
	"of": {}, "the": {}, "and": {}, "de": {}, "da": {}, "del": {}, "van": {}, "von": {}, "la": {}, "le": {},
}

const styleReferenceWindow = 40

// FilterHeaders drops spans whose text is document structure: markdown
// headings, bare labels, bold headings, list markers, shouted phrases and
// fragments shorter than two characters. One-word labels that double as
// content ("music", "mood") only count where source writes them as a heading.
func FilterHeaders(spans []Span, source string) StageResult {
	var res StageResult
	res.Spans = make([]Span, 0, len(spans))
	for _, s := range spans {
		if reason := headerReason(s, source); reason != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("removed %s span %q [%d,%d) role=%s", reason, s.Text, s.Start, s.End, s.Role))
			continue
		}
		res.Spans = append(res.Spans, s)
	}
	return res
}

func headerReason(s Span, source string) string {
	t := strings.TrimSpace(s.Text)
	switch {
	case utf8.RuneCountInString(t) < 2:
		return "too short"
	case markdownHeadingRe.MatchString(t):
		return "markdown heading"
	case boldHeadingRe.MatchString(t):
		return "bold heading"
	case listMarkerRe.MatchString(t):
		return "list marker"
	case isBareLabel(t, s, source):
		return "label"
	case isShouted(t):
		return "all-caps heading"
	}
	return ""
}

// isBareLabel reports whether t, the text of s, is a label used as structure.
func isBareLabel(t string, s Span, source string) bool {
	if !taxonomy.IsLabel(t) {
		return false
	}
	return !taxonomy.IsWordLabel(t) || isHeadingPosition(s, source)
}

// isHeadingPosition reports whether s is written as a heading: only markup or
// a list marker before it on its line, and nothing or a colon after it.
func isHeadingPosition(s Span, source string) bool {
	if s.Start < 0 || s.Start > s.End || s.End > len(source) {
		return false
	}
	lineStart := strings.LastIndexByte(source[:s.Start], '\n') + 1
	lineEnd := len(source)
	if i := strings.IndexByte(source[s.End:], '\n'); i >= 0 {
		lineEnd = s.End + i
	}
	before := strings.TrimLeft(source[lineStart:s.Start], " \t#*_>-•+0123456789.)")
	after := strings.TrimLeft(source[s.End:lineEnd], " \t*_")
	return before == "" && (strings.TrimSpace(after) == "" || strings.HasPrefix(after, ":"))
}

// isShouted reports whether t is two to five all-caps alphabetic words. Single
// tokens like HDR or IMAX and words with digits like 4K are content.
func isShouted(t string) bool {
	words := strings.Fields(strings.TrimSuffix(t, ":"))
	if len(words) < 2 || len(words) > 5 {
		return false
	}
	for _, w := range words {
		letters := 0
		for _, r := range w {
			switch {
			case unicode.IsLetter(r):
				if !unicode.IsUpper(r) {
					return false
				}
				letters++
			case unicode.IsDigit(r):
				return false
			}
		}
		if letters == 0 {
			return false
		}
	}
	return true
}

// FilterNonVisual drops spans that do not describe what is on screen:
// variation headers and meta text in an "Alternative approaches" section,
// meta text anywhere, and artist or brand names that follow style-reference
// language.
func FilterNonVisual(spans []Span, source string) StageResult {
	sections := alternativeSections(source)
	var res StageResult
	res.Spans = make([]Span, 0, len(spans))
	for _, s := range spans {
		reason := ""
		inSection := slices.ContainsFunc(sections, func(r Range) bool {
			return s.Start >= r.Start && s.Start < r.End
		})
		switch {
		case inSection && variationHeaderRe.MatchString(strings.TrimSpace(s.Text)):
			reason = "variation header"
		case isMetaText(s, source):
			reason = "meta text"
		case !inSection && !s.Role.IsFilmStock() && isStyleReference(s, source):
			reason = "style reference"
		}
		if reason != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("removed non-visual span %q [%d,%d): %s", s.Text, s.Start, s.End, reason))
			continue
		}
		res.Spans = append(res.Spans, s)
	}
	return res
}

// alternativeSections returns the byte ranges of "Alternative approaches"
// sections. A section opened by a heading ends at the next heading of the
// same or higher level; one opened by a plain line ends at the next heading.
func alternativeSections(source string) []Range {
	type line struct {
		start, level int
		text         string
	}
	var lines []line
	for off := 0; off < len(source); {
		end := strings.IndexByte(source[off:], '\n')
		if end < 0 {
			end = len(source)
		} else {
			end += off
		}
		text := source[off:end]
		lines = append(lines, line{start: off, level: headingLevel(text), text: text})
		off = end + 1
	}

	var sections []Range
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if !strings.Contains(strings.ToLower(l.text), "alternative approaches") {
			continue
		}
		limit := l.level
		if limit == 0 {
			limit = 6
		}
		end := len(source)
		j := i + 1
		for ; j < len(lines); j++ {
			if lv := lines[j].level; lv > 0 && lv <= limit {
				end = lines[j].start
				break
			}
		}
		sections = append(sections, Range{Start: l.start, End: end})
		i = j - 1
	}
	return sections
}

func headingLevel(line string) int {
	t := strings.TrimSpace(line)
	n := 0
	for n < len(t) && t[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || (n < len(t) && t[n] != ' ' && t[n] != '\t') {
		return 0
	}
	return n
}

// isMetaText reports whether text describes the prompt's own structure: a
// bare label, a meta marker followed by a label, or a bare variation marker.
func isMetaText(s Span, source string) bool {
	t := strings.TrimSuffix(strings.TrimSpace(s.Text), ":")
	if isBareLabel(t, s, source) || metaMarkerRe.MatchString(t) {
		return true
	}
	first, rest, ok := strings.Cut(t, " ")
	if !ok {
		return false
	}
	if _, marker := metaMarkers[strings.ToLower(first)]; marker {
		return taxonomy.IsLabel(rest)
	}
	return false
}

func isStyleReference(s Span, source string) bool {
	text := strings.TrimSpace(s.Text)
	lower := strings.ToLower(text)
	for _, ref := range styleReferences {
		if rest, ok := strings.CutPrefix(lower, ref); ok && rest != "" && len(lower) == len(text) {
			return isProperNoun(strings.TrimSpace(text[len(text)-len(rest):]))
		}
	}
	if !isProperNoun(text) {
		return false
	}
	window := strings.ToLower(source[max(0, s.Start-styleReferenceWindow):s.Start])
	// Only the current sentence counts.
	if i := strings.LastIndexAny(window, ".!?;\n"); i >= 0 {
		window = window[i+1:]
	}
	for _, ref := range styleReferences {
		if strings.Contains(window, ref) {
			return true
		}
	}
	return false
}

// isProperNoun reports whether every word of t, other than name connectors,
// starts with an upper-case letter.
func isProperNoun(t string) bool {
	words := strings.Fields(t)
	if len(words) == 0 {
		return false
	}
	capitalized := 0
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(r) {
			capitalized++
			continue
		}
		if _, ok := nameConnectors[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return capitalized > 0
}

// FilterByConfidence keeps spans with Confidence >= minConfidence.
func FilterByConfidence(spans []Span, minConfidence float64) StageResult {
	var res StageResult
	res.Spans = make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Confidence < minConfidence {
			res.Notes = append(res.Notes, fmt.Sprintf("removed low-confidence span %q [%d,%d): %.2f < %.2f",
				s.Text, s.Start, s.End, s.Confidence, minConfidence))
			continue
		}
		res.Spans = append(res.Spans, s)
	}
	return res
}

// TruncateToMaxSpans keeps the maxSpans most confident spans (earlier start
// wins ties) and returns them in position order. maxSpans <= 0 disables the
// bound.
func TruncateToMaxSpans(spans []Span, maxSpans int) StageResult {
	if maxSpans <= 0 || len(spans) <= maxSpans {
		return StageResult{Spans: slices.Clone(spans)}
	}
	ranked := slices.Clone(spans)
	slices.SortStableFunc(ranked, func(a, b Span) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	kept := ranked[:maxSpans]
	SortByPosition(kept)
	return StageResult{
		Spans: kept,
		Notes: []string{fmt.Sprintf("truncated %d spans to respect max of %d", len(spans)-maxSpans, maxSpans)},
	}
}

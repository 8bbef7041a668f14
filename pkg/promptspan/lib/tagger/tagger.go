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

// Package tagger is a dictionary-driven span annotator for video prompts. It
// matches lexicon phrases greedily (longest first), recognizes numeric
// technical specs with patterns, and tags leftover gerunds as actions.
package tagger

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"go.uber.org/zap"
)

const (
	// PatternConfidence is assigned to numeric technical matches.
	PatternConfidence = 0.95
	// GerundConfidence is assigned to unmatched -ing words.
	GerundConfidence = 0.55

	minGerundRunes = 5
)

type pattern struct {
	role taxonomy.Role
	re   *regexp.Regexp
}

// patterns run in order; an earlier match claims its bytes.
var patterns = []pattern{
	{taxonomy.TechnicalAspectRatio, regexp.MustCompile(`\b(?:\d{1,2}(?:\.\d{1,2})?:1|16:9|9:16|4:3|3:4|3:2|2:3|21:9|4:5|5:4)\b`)},
	{taxonomy.TechnicalFrameRate, regexp.MustCompile(`(?i)\b\d{2,3}(?:\.\d+)?\s?fps\b`)},
	{taxonomy.TechnicalResolution, regexp.MustCompile(`(?i)\b(?:\d{3,4}p|[248]k|uhd|full hd)\b`)},
	{taxonomy.CameraLens, regexp.MustCompile(`(?i)\b\d{2,3}\s?mm(?:\s+(?:lens|prime))?\b`)},
	{taxonomy.CameraLens, regexp.MustCompile(`(?i)\bf/\d{1,2}(?:\.\d)?\b`)},
	{taxonomy.TechnicalDuration, regexp.MustCompile(`(?i)\b\d{1,3}(?:\.\d+)?\s?(?:seconds?|secs?|minutes?|mins?)\b`)},
	{taxonomy.LightingColorTemp, regexp.MustCompile(`(?i)\b\d{4,5}\s?k\b`)},
}

// nonGerunds end in -ing but are not actions.
var nonGerunds = map[string]struct{}{
	"morning": {}, "evening": {}, "ceiling": {}, "building": {}, "clothing": {}, "painting": {},
	"something": {}, "nothing": {}, "anything": {}, "everything": {}, "string": {}, "lighting": {},
	"spring": {}, "during": {}, "thing": {}, "wedding": {}, "ending": {}, "setting": {},
	"feeling": {}, "opening": {}, "landing": {}, "railing": {}, "awning": {}, "framing": {},
}

// Result is the output of Tag.
type Result struct {
	Spans         []spans.RawSpan
	LexiconHits   int
	PatternHits   int
	HeuristicHits int
}

// Tagger annotates text with the lexicon. It is safe for concurrent use.
type Tagger struct {
	lexicon *Lexicon
	logger  *zap.Logger
}

// New returns a Tagger over lex, or over the built-in lexicon when lex is nil.
func New(lex *Lexicon, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Tagger{lexicon: lex, logger: logger}
}

// Lexicon returns the tagger's lexicon.
func (t *Tagger) Lexicon() *Lexicon {
	return t.lexicon
}

// Tag returns positioned spans for text, ordered by start offset.
func (t *Tagger) Tag(text string) Result {
	var res Result
	tokens := Tokenize(text)
	covered := make([]bool, len(tokens))
	var taken []spans.Range

	emit := func(start, end int, role taxonomy.Role, conf float64) {
		s, e, c := start, end, conf
		res.Spans = append(res.Spans, spans.RawSpan{
			Text:       text[s:e],
			Role:       string(role),
			Start:      &s,
			End:        &e,
			Confidence: &c,
		})
		taken = append(taken, spans.Range{Start: start, End: end})
	}

	for i := 0; i < len(tokens); {
		n, entry, ok := t.longestMatch(tokens, covered, i)
		if !ok {
			i++
			continue
		}
		first := i
		if p := entry.Role.Parent(); p == taxonomy.Subject || p == taxonomy.Environment {
			for first > 0 && !tokens[first].Break && !covered[first-1] && t.lexicon.isModifier(tokens[first-1]) {
				first--
			}
		}
		last := i + n - 1
		for k := first; k <= last; k++ {
			covered[k] = true
		}
		emit(tokens[first].Start, tokens[last].End, entry.Role, entry.Confidence)
		res.LexiconHits++
		i = last + 1
	}

	for _, p := range patterns {
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			if overlapsAny(taken, m[0], m[1]) {
				continue
			}
			emit(m[0], m[1], p.role, PatternConfidence)
			res.PatternHits++
		}
	}

	for i, tok := range tokens {
		if covered[i] || !isGerund(tok.Text) || overlapsAny(taken, tok.Start, tok.End) {
			continue
		}
		emit(tok.Start, tok.End, taxonomy.Action, GerundConfidence)
		res.HeuristicHits++
	}

	sortRaw(res.Spans)
	t.logger.Debug("Tagged text",
		zap.Int("tokens", len(tokens)),
		zap.Int("spans", len(res.Spans)),
		zap.Int("lexiconHits", res.LexiconHits),
		zap.Int("patternHits", res.PatternHits),
		zap.Int("heuristicHits", res.HeuristicHits))
	return res
}

// longestMatch finds the longest lexicon phrase starting at token i that
// stays within one clause and covers no claimed token.
func (t *Tagger) longestMatch(tokens []Token, covered []bool, i int) (int, Entry, bool) {
	if covered[i] {
		return 0, Entry{}, false
	}
	limit := 1
	for limit < t.lexicon.MaxWords() && i+limit < len(tokens) {
		next := i + limit
		if tokens[next].Break || covered[next] {
			break
		}
		limit++
	}
	for n := limit; n > 0; n-- {
		if e, ok := t.lexicon.lookup(tokens[i : i+n]); ok {
			return n, e, true
		}
	}
	return 0, Entry{}, false
}

func overlapsAny(ranges []spans.Range, start, end int) bool {
	for _, r := range ranges {
		if start < r.End && r.Start < end {
			return true
		}
	}
	return false
}

func isGerund(word string) bool {
	if utf8.RuneCountInString(word) < minGerundRunes || !strings.HasSuffix(word, "ing") {
		return false
	}
	for _, r := range word {
		if !unicode.IsLower(r) {
			return false
		}
	}
	_, skip := nonGerunds[word]
	return !skip
}

func sortRaw(raw []spans.RawSpan) {
	// Every span emitted by Tag is positioned.
	slices.SortStableFunc(raw, func(a, b spans.RawSpan) int {
		if *a.Start != *b.Start {
			return *a.Start - *b.Start
		}
		return *a.End - *b.End
	})
}

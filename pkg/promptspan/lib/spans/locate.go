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
	"strings"
	"unicode/utf8"
)

// Range is a half-open byte range into the source text.
type Range struct {
	Start int
	End   int
}

// NoPreference tells Locate that the annotator gave no start offset.
const NoPreference = -1

const quoteChars = "\"'`“”‘’"

// Locate finds text in source, case-insensitively, and returns the byte range
// of the occurrence closest to preferredStart (the first one when
// preferredStart is NoPreference). Surrounding whitespace and quote
// characters on text are tolerated.
func Locate(text, source string, preferredStart int) (Range, bool) {
	return newLocator(source).find(text, preferredStart)
}

// locator memoizes occurrence lists for one validation call and tracks which
// occurrences earlier spans of the same call have already claimed.
type locator struct {
	source  string
	memo    map[string][]int
	claimed map[Range]struct{}
}

func newLocator(source string) *locator {
	return &locator{
		source:  source,
		memo:    make(map[string][]int),
		claimed: make(map[Range]struct{}),
	}
}

func (l *locator) claim(r Range) {
	l.claimed[r] = struct{}{}
}

func (l *locator) find(text string, preferredStart int) (Range, bool) {
	for _, needle := range needles(text) {
		starts := l.occurrences(needle)
		if len(starts) == 0 {
			continue
		}
		n := len(needle)
		free := make([]int, 0, len(starts))
		for _, s := range starts {
			if _, taken := l.claimed[Range{s, s + n}]; !taken {
				free = append(free, s)
			}
		}
		if len(free) == 0 {
			free = starts
		}
		s := closest(free, preferredStart)
		return Range{Start: s, End: s + n}, true
	}
	return Range{}, false
}

// occurrences returns every start offset where needle matches source under
// Unicode case folding.
func (l *locator) occurrences(needle string) []int {
	if starts, ok := l.memo[needle]; ok {
		return starts
	}
	var starts []int
	n := len(needle)
	for i := 0; i+n <= len(l.source); i++ {
		if !utf8.RuneStart(l.source[i]) {
			continue
		}
		if strings.EqualFold(l.source[i:i+n], needle) {
			starts = append(starts, i)
		}
	}
	l.memo[needle] = starts
	return starts
}

// needles lists the spellings to try, most literal first.
func needles(text string) []string {
	out := make([]string, 0, 3)
	add := func(s string) {
		if s == "" {
			return
		}
		for _, o := range out {
			if o == s {
				return
			}
		}
		out = append(out, s)
	}
	add(text)
	trimmed := strings.TrimSpace(text)
	add(trimmed)
	add(strings.TrimSpace(strings.Trim(trimmed, quoteChars)))
	return out
}

// closest picks the start nearest to preferred; ties go to the earlier one.
// starts must be ascending.
func closest(starts []int, preferred int) int {
	if preferred < 0 {
		return starts[0]
	}
	best := starts[0]
	bestDist := absInt(best - preferred)
	for _, s := range starts[1:] {
		if d := absInt(s - preferred); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

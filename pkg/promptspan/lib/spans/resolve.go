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
	"slices"
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
)

// Deduplicate drops every span whose (Start, End, Text) was already seen.
func Deduplicate(spans []Span) StageResult {
	type key struct {
		start, end int
		text       string
	}
	seen := make(map[key]struct{}, len(spans))
	var res StageResult
	res.Spans = make([]Span, 0, len(spans))
	for _, s := range spans {
		k := key{s.Start, s.End, s.Text}
		if _, dup := seen[k]; dup {
			res.Notes = append(res.Notes, fmt.Sprintf("removed duplicate span %q [%d,%d)", s.Text, s.Start, s.End))
			continue
		}
		seen[k] = struct{}{}
		res.Spans = append(res.Spans, s)
	}
	return res
}

// ResolveOverlaps keeps one winner among overlapping spans of the same parent
// category. Spans of different parents may overlap freely. Input must be
// sorted by position.
//
// Winner order: deeper role, then higher confidence, then longer text, then
// earlier start. A full tie keeps the span that was already resolved.
func ResolveOverlaps(sorted []Span, allowOverlap bool) StageResult {
	if allowOverlap {
		return StageResult{Spans: slices.Clone(sorted)}
	}

	var res StageResult
	resolved := make([]Span, 0, len(sorted))
	for _, incoming := range sorted {
		var conflicts []int
		for i, r := range resolved {
			if r.Role.Parent() == incoming.Role.Parent() && r.Overlaps(incoming) {
				conflicts = append(conflicts, i)
			}
		}
		if len(conflicts) == 0 {
			resolved = append(resolved, incoming)
			continue
		}

		best := conflicts[0]
		for _, i := range conflicts[1:] {
			if outranks(resolved[i], resolved[best]) {
				best = i
			}
		}
		winner := resolved[best]
		incomingWins := outranks(incoming, winner)
		if incomingWins {
			winner = incoming
		}

		parent := incoming.Role.Parent()
		kept := make([]Span, 0, len(resolved)+1)
		for i, r := range resolved {
			if !slices.Contains(conflicts, i) || (!incomingWins && i == best) {
				kept = append(kept, r)
				continue
			}
			res.Notes = append(res.Notes, overlapNote(parent, winner, r))
		}
		if incomingWins {
			kept = append(kept, incoming)
		} else {
			res.Notes = append(res.Notes, overlapNote(parent, winner, incoming))
		}
		resolved = kept
	}
	SortByPosition(resolved)
	res.Spans = resolved
	return res
}

// outranks reports whether a strictly beats b.
func outranks(a, b Span) bool {
	if da, db := a.Role.Depth(), b.Role.Depth(); da != db {
		return da > db
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	return a.Start < b.Start
}

func overlapNote(parent taxonomy.Role, winner, loser Span) string {
	return fmt.Sprintf("overlap in %s: kept %s over %s", parent, winner.describe(), loser.describe())
}

// MergeOptions bounds adjacent-span merging.
type MergeOptions struct {
	MaxMergedWords int
	// NonTechnicalWordLimit keeps merged spans within the normalizer's word
	// policy so that validated output validates again unchanged.
	NonTechnicalWordLimit int
}

// DefaultMergeOptions returns the default merge bounds.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{MaxMergedWords: 8}
}

const maxMergeGap = 3

// MergeAdjacent fuses runs of same-parent spans separated only by a short gap
// of whitespace, commas, hyphens or underscores. Spans of other parents lying
// between two candidates do not block the merge, so later filters removing
// them cannot change the result of a second pass. Input must be sorted by
// position.
func MergeAdjacent(spans []Span, source string, opts MergeOptions) StageResult {
	var res StageResult
	res.Spans = make([]Span, 0, len(spans))
	consumed := make([]bool, len(spans))
	var digest uint64
	digested := false

	for i := range spans {
		if consumed[i] {
			continue
		}
		cur := spans[i]
		parts := 1
		for j := i + 1; j < len(spans); j++ {
			next := spans[j]
			if consumed[j] || next.Role.Parent() != cur.Role.Parent() {
				continue
			}
			if !canMerge(cur, next, source, opts) {
				break
			}
			role := cur.Role
			if next.Role.Depth() > role.Depth() {
				role = next.Role
			}
			cur = Span{
				Text:       source[cur.Start:next.End],
				Start:      cur.Start,
				End:        next.End,
				Role:       role,
				Confidence: (cur.Confidence + next.Confidence) / 2,
			}
			consumed[j] = true
			parts++
		}
		if parts > 1 {
			if !digested {
				digest, digested = SourceDigest(source), true
			}
			cur.ID = SpanID(digest, cur.Start, cur.End, cur.Role)
			res.Notes = append(res.Notes, fmt.Sprintf("merged %d adjacent %s spans into %q", parts, cur.Role.Parent(), cur.Text))
		}
		res.Spans = append(res.Spans, cur)
	}
	SortByPosition(res.Spans)
	return res
}

func canMerge(cur, next Span, source string, opts MergeOptions) bool {
	if cur.Role.Parent() != next.Role.Parent() {
		return false
	}
	if next.Start < cur.End || next.Start-cur.End > maxMergeGap || next.End > len(source) {
		return false
	}
	if !isMergeableGap(source[cur.End:next.Start]) {
		return false
	}
	words := WordCount(source[cur.Start:next.End])
	if opts.MaxMergedWords > 0 && words > opts.MaxMergedWords {
		return false
	}
	if opts.NonTechnicalWordLimit > 0 && !cur.Role.IsTechnical() && words > opts.NonTechnicalWordLimit {
		return false
	}
	return true
}

func isMergeableGap(gap string) bool {
	return strings.Trim(gap, " \t\r\n,-_") == ""
}

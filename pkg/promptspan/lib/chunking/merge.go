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

package chunking

import (
	"cmp"
	"slices"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
)

// ChunkResult is the annotation of one chunk, with offsets relative to the
// chunk.
type ChunkResult struct {
	Spans       []spans.RawSpan
	ChunkOffset int
}

// MergeChunkedSpans shifts every positioned span by its chunk's offset, drops
// repeats of (start, end, role) and returns the spans ordered by start, then
// end. Spans without both offsets are kept, after the positioned ones, for the
// normalizer to locate; a lone start is shifted too.
func MergeChunkedSpans(results []ChunkResult) []spans.RawSpan {
	type key struct {
		start, end int
		role       string
	}
	seen := make(map[key]struct{})
	var positioned, unpositioned []spans.RawSpan

	for _, r := range results {
		for _, s := range r.Spans {
			if s.Start == nil || s.End == nil {
				// A lone start is still a chunk-relative hint for the locator.
				if s.Start != nil {
					start := *s.Start + r.ChunkOffset
					s.Start = &start
				}
				unpositioned = append(unpositioned, s)
				continue
			}
			start, end := *s.Start+r.ChunkOffset, *s.End+r.ChunkOffset
			k := key{start, end, s.RoleName()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			s.Start, s.End = &start, &end
			positioned = append(positioned, s)
		}
	}

	slices.SortStableFunc(positioned, func(a, b spans.RawSpan) int {
		if c := cmp.Compare(*a.Start, *b.Start); c != 0 {
			return c
		}
		return cmp.Compare(*a.End, *b.End)
	})
	return append(positioned, unpositioned...)
}

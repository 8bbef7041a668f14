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
	"testing"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spanOf builds a span for the first occurrence of text in source.
func spanOf(t *testing.T, source, text string, role taxonomy.Role, conf float64) Span {
	t.Helper()
	i := strings.Index(source, text)
	require.GreaterOrEqual(t, i, 0, "%q not in %q", text, source)
	return Span{Text: text, Start: i, End: i + len(text), Role: role, Confidence: conf}
}

func texts(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

func TestDeduplicate(t *testing.T) {
	source := "cat runs"
	cat := spanOf(t, source, "cat", taxonomy.Subject, 0.7)
	runs := spanOf(t, source, "runs", taxonomy.Action, 0.7)
	recast := cat
	recast.Role = taxonomy.SubjectIdentity

	res := Deduplicate([]Span{cat, runs, cat, recast})
	assert.Equal(t, []Span{cat, runs}, res.Spans)
	assert.Len(t, res.Notes, 2)
}

func TestResolveOverlaps(t *testing.T) {
	source := "red fox"
	tests := []struct {
		name string
		in   []Span
		want []string
	}{
		{
			name: "deeper role wins",
			in: []Span{
				spanOf(t, source, "red fox", taxonomy.Subject, 0.9),
				spanOf(t, source, "fox", taxonomy.SubjectIdentity, 0.5),
			},
			want: []string{"fox"},
		},
		{
			name: "higher confidence wins",
			in: []Span{
				spanOf(t, source, "red fox", taxonomy.Subject, 0.6),
				spanOf(t, source, "fox", taxonomy.Subject, 0.9),
			},
			want: []string{"fox"},
		},
		{
			name: "longer span wins",
			in: []Span{
				spanOf(t, source, "red fox", taxonomy.Subject, 0.8),
				spanOf(t, source, "fox", taxonomy.Subject, 0.8),
			},
			want: []string{"red fox"},
		},
		{
			name: "earlier start wins",
			in: []Span{
				spanOf(t, source, "red f", taxonomy.Subject, 0.8),
				spanOf(t, source, "d fox", taxonomy.Subject, 0.8),
			},
			want: []string{"red f"},
		},
		{
			name: "different parents coexist",
			in: []Span{
				spanOf(t, source, "red fox", taxonomy.Subject, 0.8),
				spanOf(t, source, "red", taxonomy.StyleColorGrade, 0.9),
			},
			want: []string{"red fox", "red"},
		},
		{
			name: "incoming beats several",
			in: []Span{
				spanOf(t, source, "red", taxonomy.Subject, 0.6),
				spanOf(t, source, "red fox", taxonomy.Subject, 0.9),
				spanOf(t, source, "fox", taxonomy.Subject, 0.6),
			},
			want: []string{"red fox"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]Span(nil), tt.in...)
			SortByPosition(in)
			res := ResolveOverlaps(in, false)
			assert.ElementsMatch(t, tt.want, texts(res.Spans))
			assert.Len(t, res.Notes, len(tt.in)-len(tt.want))
			for _, n := range res.Notes {
				assert.Contains(t, n, "overlap in ")
			}
		})
	}
}

func TestResolveOverlapsAllowed(t *testing.T) {
	source := "red fox"
	in := []Span{
		spanOf(t, source, "red fox", taxonomy.Subject, 0.9),
		spanOf(t, source, "fox", taxonomy.Subject, 0.5),
	}
	res := ResolveOverlaps(in, true)
	assert.Equal(t, in, res.Spans)
	assert.Empty(t, res.Notes)
}

func TestMergeAdjacent(t *testing.T) {
	source := "red, fluffy fox"
	in := []Span{
		spanOf(t, source, "red", taxonomy.SubjectAppearance, 0.8),
		spanOf(t, source, "fluffy", taxonomy.SubjectAppearance, 0.6),
		spanOf(t, source, "fox", taxonomy.Subject, 0.9),
	}

	res := MergeAdjacent(in, source, DefaultMergeOptions())
	require.Len(t, res.Spans, 1)
	m := res.Spans[0]
	assert.Equal(t, "red, fluffy fox", m.Text)
	assert.Equal(t, 0, m.Start)
	assert.Equal(t, len(source), m.End)
	assert.Equal(t, taxonomy.SubjectAppearance, m.Role)
	assert.InDelta(t, 0.8, m.Confidence, 1e-9)
	assert.Equal(t, SpanID(SourceDigest(source), 0, len(source), taxonomy.SubjectAppearance), m.ID)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "subject")
}

func TestMergeAdjacentKeepsMoreSpecificRole(t *testing.T) {
	source := "fox cub"
	in := []Span{
		spanOf(t, source, "fox", taxonomy.Subject, 0.8),
		spanOf(t, source, "cub", taxonomy.SubjectIdentity, 0.8),
	}
	res := MergeAdjacent(in, source, DefaultMergeOptions())
	require.Len(t, res.Spans, 1)
	assert.Equal(t, taxonomy.SubjectIdentity, res.Spans[0].Role)
}

func TestMergeAdjacentRefuses(t *testing.T) {
	tests := []struct {
		name   string
		source string
		a, b   string
		roleB  taxonomy.Role
		opts   MergeOptions
	}{
		{name: "different parent", source: "fox runs", a: "fox", b: "runs", roleB: taxonomy.Action, opts: DefaultMergeOptions()},
		{name: "sentence break", source: "fox. owl", a: "fox", b: "owl", roleB: taxonomy.Subject, opts: DefaultMergeOptions()},
		{name: "wide gap", source: "fox    owl", a: "fox", b: "owl", roleB: taxonomy.Subject, opts: DefaultMergeOptions()},
		{name: "word cap", source: "red fox, grey owl", a: "red fox", b: "grey owl", roleB: taxonomy.Subject, opts: MergeOptions{MaxMergedWords: 3}},
		{name: "word policy", source: "red fox, grey owl", a: "red fox", b: "grey owl", roleB: taxonomy.Subject, opts: MergeOptions{MaxMergedWords: 8, NonTechnicalWordLimit: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []Span{
				spanOf(t, tt.source, tt.a, taxonomy.Subject, 0.8),
				spanOf(t, tt.source, tt.b, tt.roleB, 0.8),
			}
			res := MergeAdjacent(in, tt.source, tt.opts)
			assert.Equal(t, in, res.Spans)
			assert.Empty(t, res.Notes)
		})
	}
}

func TestMergeAdjacentSkipsOtherParents(t *testing.T) {
	source := "red fox, owl"
	redFox := spanOf(t, source, "red fox", taxonomy.Subject, 0.9)
	fox := Span{Text: "fox", Start: 4, End: 7, Role: taxonomy.Lighting, Confidence: 0.3}
	owl := spanOf(t, source, "owl", taxonomy.Subject, 0.9)

	res := MergeAdjacent([]Span{redFox, fox, owl}, source, DefaultMergeOptions())
	require.Len(t, res.Spans, 2)
	assert.Equal(t, "red fox, owl", res.Spans[0].Text)
	assert.Equal(t, taxonomy.Subject, res.Spans[0].Role)
	assert.Equal(t, fox, res.Spans[1])
	require.Len(t, res.Notes, 1)

	// A same-parent span that cannot merge still ends the run.
	source = "fox runs owl"
	in := []Span{
		spanOf(t, source, "fox", taxonomy.Subject, 0.8),
		spanOf(t, source, "runs", taxonomy.Action, 0.8),
		spanOf(t, source, "owl", taxonomy.Subject, 0.8),
	}
	res = MergeAdjacent(in, source, DefaultMergeOptions())
	assert.Equal(t, in, res.Spans)
	assert.Empty(t, res.Notes)
}

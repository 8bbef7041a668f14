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

package tagger

import (
	"strings"
	"testing"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagged struct {
	text string
	role taxonomy.Role
}

func summarize(res Result) []tagged {
	out := make([]tagged, len(res.Spans))
	for i, s := range res.Spans {
		out[i] = tagged{s.Text, taxonomy.Role(s.Role)}
	}
	return out
}

func TestTokenize(t *testing.T) {
	toks := Tokenize("close-up of a bird's-eye view, f/2.8 at 16:9.")
	var texts []string
	var breaks []bool
	for _, tok := range toks {
		texts = append(texts, tok.Text)
		breaks = append(breaks, tok.Break)
	}
	assert.Equal(t, []string{"close-up", "of", "a", "bird's-eye", "view", "f/2.8", "at", "16:9"}, texts)
	assert.Equal(t, []bool{true, false, false, false, false, true, false, false}, breaks)

	for _, tok := range toks {
		assert.Equal(t, tok.Text, "close-up of a bird's-eye view, f/2.8 at 16:9."[tok.Start:tok.End])
	}
}

func TestTokenize_LineBreak(t *testing.T) {
	toks := Tokenize("golden\nhour")
	require.Len(t, toks, 2)
	assert.True(t, toks[1].Break)
}

func TestTag_Scene(t *testing.T) {
	tg := New(nil, nil)
	res := tg.Tag("A red fox running through a snowy forest at golden hour, 35mm film, 16:9.")

	assert.Equal(t, []tagged{
		{"red fox", taxonomy.SubjectIdentity},
		{"running", taxonomy.ActionMovement},
		{"snowy forest", taxonomy.EnvironmentLocation},
		{"golden hour", taxonomy.LightingTimeOfDay},
		{"35mm film", taxonomy.StyleFilmStock},
		{"16:9", taxonomy.TechnicalAspectRatio},
	}, summarize(res))
	assert.Equal(t, 5, res.LexiconHits)
	assert.Equal(t, 1, res.PatternHits)
	assert.Equal(t, 0, res.HeuristicHits)
}

func TestTag_TechnicalPatterns(t *testing.T) {
	tg := New(nil, nil)
	res := tg.Tag("Shot at 24fps in 4K with a 50mm lens, f/1.8, 10 seconds, 5600K.")

	assert.Equal(t, []tagged{
		{"24fps", taxonomy.TechnicalFrameRate},
		{"4K", taxonomy.TechnicalResolution},
		{"50mm lens", taxonomy.CameraLens},
		{"f/1.8", taxonomy.CameraLens},
		{"10 seconds", taxonomy.TechnicalDuration},
		{"5600K", taxonomy.LightingColorTemp},
	}, summarize(res))
	for _, s := range res.Spans {
		require.NotNil(t, s.Confidence)
		assert.InDelta(t, PatternConfidence, *s.Confidence, 1e-9)
	}
}

func TestTag_PhrasesStayWithinClause(t *testing.T) {
	tg := New(nil, nil)

	res := tg.Tag("heavy, rain over a snowy, forest")
	assert.Equal(t, []tagged{
		{"rain", taxonomy.EnvironmentWeather},
		{"forest", taxonomy.EnvironmentLocation},
	}, summarize(res))
}

func TestTag_Gerunds(t *testing.T) {
	tg := New(nil, nil)
	res := tg.Tag("A dog glistening under the lighting")

	assert.Equal(t, []tagged{
		{"dog", taxonomy.SubjectIdentity},
		{"glistening", taxonomy.Action},
	}, summarize(res))
	assert.Equal(t, 1, res.HeuristicHits)
	assert.InDelta(t, GerundConfidence, *res.Spans[1].Confidence, 1e-9)
}

func TestTag_OffsetsMatchSource(t *testing.T) {
	tg := New(nil, nil)
	prompts := []string{
		"Close-up of an elderly man smiling, soft light, shallow depth of field, kodak portra.",
		"Wide shot: a lone astronaut walks through a vast desert at dusk. Slow dolly in. 2.39:1, 24fps.",
		"Drone shot over a café in heavy rain; neon lights, teal and orange, orchestral score.",
	}
	for _, p := range prompts {
		res := tg.Tag(p)
		require.NotEmpty(t, res.Spans, p)
		prev := -1
		for _, s := range res.Spans {
			require.NotNil(t, s.Start)
			require.NotNil(t, s.End)
			assert.Equal(t, s.Text, p[*s.Start:*s.End])
			assert.True(t, taxonomy.Valid(taxonomy.Role(s.Role)), s.Role)
			assert.GreaterOrEqual(t, *s.Start, prev)
			prev = *s.Start
		}

		out := spans.Validate(spans.Request{
			Spans:       res.Spans,
			Source:      p,
			Policy:      spans.DefaultPolicy(),
			Options:     spans.DefaultOptions(),
			Performance: spans.DefaultPerformance(),
			Attempt:     1,
		})
		assert.True(t, out.OK, "%s: %v", p, out.Errors)
	}
}

func TestLexicon_Lookup(t *testing.T) {
	lex := DefaultLexicon()
	assert.Equal(t, "builtin-1", lex.Version)
	assert.Greater(t, lex.Len(), 200)
	assert.Equal(t, 4, lex.MaxWords())

	e, ok := lex.Lookup("Bird’s-Eye View")
	require.True(t, ok)
	assert.Equal(t, taxonomy.CameraAngle, e.Role)

	e, ok = lex.Lookup("GOLDEN HOUR")
	require.True(t, ok)
	assert.Equal(t, taxonomy.LightingTimeOfDay, e.Role)
	assert.InDelta(t, 0.85, e.Confidence, 1e-9)

	_, ok = lex.Lookup("purple elephant")
	assert.False(t, ok)
}

func TestLexicon_LoadAndMerge(t *testing.T) {
	custom, err := LoadLexicon(strings.NewReader(`
version = "studio"
modifiers = ["chrome"]

[[group]]
role = "camera movement"
phrases = ["snorricam", "barrel roll"]
`))
	require.NoError(t, err)
	assert.Equal(t, 2, custom.Len())

	e, ok := custom.Lookup("SnorriCam")
	require.True(t, ok)
	assert.Equal(t, taxonomy.CameraMovement, e.Role)
	assert.InDelta(t, DefaultGroupConfidence, e.Confidence, 1e-9)

	lex := DefaultLexicon()
	before := lex.Len()
	lex.Merge(custom)
	assert.Equal(t, before+2, lex.Len())
	assert.Equal(t, "builtin-1+studio", lex.Version)

	res := New(lex, nil).Tag("Barrel roll past a chrome robot")
	assert.Equal(t, []tagged{
		{"Barrel roll", taxonomy.CameraMovement},
		{"chrome robot", taxonomy.SubjectIdentity},
	}, summarize(res))
}

func TestLexicon_Errors(t *testing.T) {
	_, err := LoadLexicon(strings.NewReader("[[group]]\nrole = \"sound.design\"\nphrases = [\"whoosh\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")

	_, err = LoadLexicon(strings.NewReader("version = ["))
	require.Error(t, err)

	_, err = LoadLexiconFile("/nonexistent/lexicon.toml")
	require.Error(t, err)
}

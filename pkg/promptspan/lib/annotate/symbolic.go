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

package annotate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/schema"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/tagger"
	"go.uber.org/zap"
)

// injectionMarkers are phrases that try to steer the annotator instead of
// describing a video.
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous",
	"ignore the above",
	"disregard previous instructions",
	"disregard the above",
	"reveal your system prompt",
	"you are now",
}

// SymbolicAnnotator annotates with the lexicon tagger. It needs no model and
// is deterministic.
type SymbolicAnnotator struct {
	tagger *tagger.Tagger
	logger *zap.Logger
}

// NewSymbolicAnnotator wraps t. A nil tagger uses the built-in lexicon.
func NewSymbolicAnnotator(t *tagger.Tagger, logger *zap.Logger) *SymbolicAnnotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t == nil {
		t = tagger.New(nil, logger.Named("tagger"))
	}
	return &SymbolicAnnotator{tagger: t, logger: logger}
}

// Version identifies the annotator and its lexicon.
func (a *SymbolicAnnotator) Version() string {
	return "symbolic-" + a.tagger.Lexicon().Version
}

// Annotate tags text and reports vocabulary hits in the envelope meta.
func (a *SymbolicAnnotator) Annotate(ctx context.Context, text string) (schema.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return schema.Envelope{}, err
	}
	start := time.Now()
	res := a.tagger.Tag(text)
	elapsed := time.Since(start)

	trace := fmt.Sprintf("symbolic tagger matched %d lexicon phrases, %d technical patterns and %d gerunds",
		res.LexiconHits, res.PatternHits, res.HeuristicHits)
	env := schema.Envelope{
		AnalysisTrace: &trace,
		Spans:         res.Spans,
		IsAdversarial: isInjection(text),
		Meta: spans.Meta{
			Version: a.Version(),
			Extra: map[string]any{
				"annotator":      "symbolic",
				"lexicon_hits":   res.LexiconHits,
				"pattern_hits":   res.PatternHits,
				"heuristic_hits": res.HeuristicHits,
				"latency_ms":     float64(elapsed.Microseconds()) / 1000,
			},
		},
	}
	if env.Spans == nil {
		env.Spans = []spans.RawSpan{}
	}
	a.logger.Debug("Annotated text",
		zap.Int("textLength", len(text)),
		zap.Int("spans", len(env.Spans)),
		zap.Bool("adversarial", env.IsAdversarial),
		zap.Duration("elapsed", elapsed))
	return env, nil
}

func isInjection(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range injectionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

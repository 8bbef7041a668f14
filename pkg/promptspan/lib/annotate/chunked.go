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
	"maps"
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/chunking"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/schema"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChunkedAnnotator splits long prompts into sentence-aligned chunks, annotates
// them with bounded concurrency and merges the results back into source
// coordinates.
type ChunkedAnnotator struct {
	inner   Annotator
	chunker *chunking.Chunker
	logger  *zap.Logger
}

// NewChunkedAnnotator wraps inner. A nil chunker uses the default config.
func NewChunkedAnnotator(inner Annotator, chunker *chunking.Chunker, logger *zap.Logger) *ChunkedAnnotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = chunking.NewChunker(chunking.DefaultConfig(), nil, logger.Named("chunker"))
	}
	return &ChunkedAnnotator{inner: inner, chunker: chunker, logger: logger}
}

// Annotate annotates text in one pass when it is short enough, and chunk by
// chunk otherwise. Any chunk failure fails the whole call.
func (a *ChunkedAnnotator) Annotate(ctx context.Context, text string) (schema.Envelope, error) {
	if a.inner == nil {
		return schema.Envelope{}, ErrNoAnnotator
	}
	if !a.chunker.NeedsChunking(text) {
		return a.inner.Annotate(ctx, text)
	}

	chunks := a.chunker.Chunk(text)
	cfg := a.chunker.Config()
	limit := 1
	if cfg.Parallel {
		limit = cfg.Concurrency
	}

	envs := make([]schema.Envelope, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range chunks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			env, err := a.inner.Annotate(gctx, c.Text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			envs[i] = env
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return schema.Envelope{}, fmt.Errorf("annotating chunks: %w", err)
	}

	merged := mergeEnvelopes(chunks, envs)
	a.logger.Debug("Annotated chunked text",
		zap.Int("textLength", len(text)),
		zap.Int("chunks", len(chunks)),
		zap.Int("concurrency", limit),
		zap.Int("spans", len(merged.Spans)))
	return merged, nil
}

// mergeEnvelopes combines per-chunk envelopes. Version and telemetry come
// from the first chunk; notes and traces are concatenated in chunk order.
func mergeEnvelopes(chunks []chunking.Chunk, envs []schema.Envelope) schema.Envelope {
	results := make([]chunking.ChunkResult, len(envs))
	var notes, traces []string
	var out schema.Envelope
	for i, env := range envs {
		results[i] = chunking.ChunkResult{Spans: env.Spans, ChunkOffset: chunks[i].StartOffset}
		if n := strings.TrimSpace(env.Meta.Notes); n != "" {
			notes = append(notes, n)
		}
		if env.AnalysisTrace != nil && *env.AnalysisTrace != "" {
			traces = append(traces, *env.AnalysisTrace)
		}
		out.IsAdversarial = out.IsAdversarial || env.Adversarial()
	}

	out.Spans = chunking.MergeChunkedSpans(results)
	if out.Spans == nil {
		out.Spans = []spans.RawSpan{}
	}
	if len(envs) > 0 {
		out.Meta.Version = envs[0].Meta.Version
		out.Meta.Extra = maps.Clone(envs[0].Meta.Extra)
	}
	if out.Meta.Extra == nil {
		out.Meta.Extra = make(map[string]any)
	}
	out.Meta.Extra["chunks"] = len(chunks)
	out.Meta.Notes = strings.Join(notes, spans.NoteSeparator)
	if len(traces) > 0 {
		trace := strings.Join(traces, "\n")
		out.AnalysisTrace = &trace
	}
	return out
}

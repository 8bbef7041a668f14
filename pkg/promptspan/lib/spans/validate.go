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
	"slices"
	"strings"
)

// NoteSeparator joins notes in Meta.Notes.
const NoteSeparator = " | "

// AdversarialNote is appended when the annotator flags the input.
const AdversarialNote = "adversarial input flagged by annotator"

// Request is one validation call.
type Request struct {
	Spans  []RawSpan
	Source string
	// Meta carries the annotator's version, notes and telemetry through.
	Meta          Meta
	IsAdversarial bool
	AnalysisTrace *string

	Policy      Policy
	Options     Options
	Performance Performance
	// Attempt selects the mode; see ModeForAttempt.
	Attempt int
}

// ValidationResult is the validated span set.
type ValidationResult struct {
	Spans         []Span  `json:"spans"`
	Meta          Meta    `json:"meta"`
	IsAdversarial bool    `json:"isAdversarial,omitempty"`
	AnalysisTrace *string `json:"analysis_trace,omitempty"`
}

// StageStat records how many spans entered and left a stage.
type StageStat struct {
	Stage string `json:"stage"`
	In    int    `json:"in"`
	Out   int    `json:"out"`
}

// Dropped returns the number of spans the stage removed.
func (s StageStat) Dropped() int {
	return s.In - s.Out
}

// Outcome is the result of Validate. OK is false exactly when Errors is
// non-empty, in which case Result carries no spans.
type Outcome struct {
	OK     bool             `json:"ok"`
	Result ValidationResult `json:"result"`
	Errors []string         `json:"errors,omitempty"`
	Mode   Mode             `json:"-"`
	Stats  []StageStat      `json:"-"`
}

// stageContext is the read-only input shared by every stage of one call.
type stageContext struct {
	source  string
	policy  Policy
	options Options
	maxSpan int
}

type stage struct {
	name string
	run  func([]Span, stageContext) StageResult
	skip func(stageContext) bool
}

// pipeline is the fixed stage order after normalization.
var pipeline = []stage{
	{name: "sort", run: func(s []Span, _ stageContext) StageResult {
		out := slices.Clone(s)
		SortByPosition(out)
		return StageResult{Spans: out}
	}},
	{name: "dedupe", run: func(s []Span, _ stageContext) StageResult {
		return Deduplicate(s)
	}},
	{name: "overlap", run: func(s []Span, c stageContext) StageResult {
		return ResolveOverlaps(s, c.policy.AllowOverlap)
	}, skip: func(c stageContext) bool { return c.policy.AllowOverlap }},
	{name: "merge", run: func(s []Span, c stageContext) StageResult {
		opts := DefaultMergeOptions()
		opts.NonTechnicalWordLimit = c.policy.NonTechnicalWordLimit
		return MergeAdjacent(s, c.source, opts)
	}},
	{name: "headers", run: func(s []Span, c stageContext) StageResult {
		return FilterHeaders(s, c.source)
	}},
	{name: "visual", run: func(s []Span, c stageContext) StageResult {
		return FilterNonVisual(s, c.source)
	}},
	{name: "confidence", run: func(s []Span, c stageContext) StageResult {
		return FilterByConfidence(s, c.options.MinConfidence)
	}},
	{name: "truncate", run: func(s []Span, c stageContext) StageResult {
		return TruncateToMaxSpans(s, c.maxSpan)
	}},
}

// Validate runs the full correction pipeline over req. The first attempt runs
// in Strict mode and fails on any per-span error; later attempts drop invalid
// spans with notes instead.
func Validate(req Request) Outcome {
	mode := ModeForAttempt(req.Attempt)
	out := Outcome{Mode: mode}

	var notes []string
	if n := strings.TrimSpace(req.Meta.Notes); n != "" {
		notes = append(notes, n)
	}

	norm := NormalizeAndCorrect(req.Spans, req.Source, req.Policy, mode)
	notes = append(notes, norm.Notes...)
	out.Stats = append(out.Stats, StageStat{Stage: "normalize", In: len(req.Spans), Out: len(norm.Sanitized)})

	current := norm.Sanitized
	if len(norm.Errors) > 0 {
		out.Errors = norm.Errors
		current = nil
	} else {
		ctx := stageContext{
			source:  req.Source,
			policy:  req.Policy,
			options: req.Options,
			maxSpan: spanCap(req.Options, req.Performance),
		}
		for _, st := range pipeline {
			if st.skip != nil && st.skip(ctx) {
				continue
			}
			r := st.run(current, ctx)
			out.Stats = append(out.Stats, StageStat{Stage: st.name, In: len(current), Out: len(r.Spans)})
			notes = append(notes, r.Notes...)
			current = r.Spans
		}
	}

	if req.IsAdversarial {
		notes = append(notes, AdversarialNote)
	}

	meta := req.Meta.Clone()
	if meta.Version == "" {
		meta.Version = req.Options.TemplateVersion
	}
	meta.Notes = strings.Join(notes, NoteSeparator)

	if current == nil {
		current = []Span{}
	}
	out.Result = ValidationResult{
		Spans:         current,
		Meta:          meta,
		IsAdversarial: req.IsAdversarial,
		AnalysisTrace: req.AnalysisTrace,
	}
	out.OK = len(out.Errors) == 0
	return out
}

// spanCap is min(MaxSpans, MaxSpansAbsoluteLimit), ignoring unset limits.
func spanCap(o Options, p Performance) int {
	switch {
	case o.MaxSpans <= 0:
		return p.MaxSpansAbsoluteLimit
	case p.MaxSpansAbsoluteLimit <= 0:
		return o.MaxSpans
	default:
		return min(o.MaxSpans, p.MaxSpansAbsoluteLimit)
	}
}

// Revalidate feeds a validated result back through Validate with the same
// settings. A validated result is a fixed point.
func Revalidate(res ValidationResult, source string, policy Policy, opts Options, perf Performance) Outcome {
	raw := make([]RawSpan, len(res.Spans))
	for i, s := range res.Spans {
		raw[i] = s.Raw()
	}
	return Validate(Request{
		Spans:       raw,
		Source:      source,
		Meta:        Meta{Version: res.Meta.Version, Extra: res.Meta.Extra},
		Policy:      policy,
		Options:     opts,
		Performance: perf,
		Attempt:     1,
	})
}

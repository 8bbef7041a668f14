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

// Package spans turns untrusted span annotations into a trustworthy,
// self-consistent span set over an immutable source text.
//
// Every stage is a pure function over ([]Span, source, settings) returning
// a StageResult; Validate composes them in a fixed order.
package spans

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/cespare/xxhash/v2"
)

// DefaultConfidence is assigned when an annotator omits confidence or sends
// a non-finite value.
const DefaultConfidence = 0.7

// Span is a labeled substring of the source text.
type Span struct {
	// ID is derived from the source digest, offsets and role.
	ID string `json:"id,omitempty"`
	// Text equals source[Start:End].
	Text string `json:"text"`
	// Start is the byte offset where the span begins.
	Start int `json:"start"`
	// End is the byte offset where the span ends (exclusive).
	End int `json:"end"`
	// Role is always a member of the taxonomy after normalization.
	Role taxonomy.Role `json:"role"`
	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether the half-open ranges of s and o intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) describe() string {
	return fmt.Sprintf("%q [%d,%d) conf=%.2f", s.Text, s.Start, s.End, s.Confidence)
}

// RawSpan is a span as proposed by an annotator. Offsets and confidence are
// optional on the wire.
type RawSpan struct {
	Text       string   `json:"text"`
	Role       string   `json:"role,omitempty"`
	Category   string   `json:"category,omitempty"`
	Start      *int     `json:"start,omitempty"`
	End        *int     `json:"end,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// RoleName returns Role, falling back to Category.
func (r RawSpan) RoleName() string {
	if r.Role != "" {
		return r.Role
	}
	return r.Category
}

// Raw converts a validated span back to its wire shape.
func (s Span) Raw() RawSpan {
	start, end, conf := s.Start, s.End, s.Confidence
	return RawSpan{
		Text:       s.Text,
		Role:       string(s.Role),
		Start:      &start,
		End:        &end,
		Confidence: &conf,
	}
}

// Policy holds per-request validation rules.
type Policy struct {
	// NonTechnicalWordLimit caps the word count of spans outside the
	// technical branch. Zero or less disables the cap.
	NonTechnicalWordLimit int `json:"non_technical_word_limit" mapstructure:"non_technical_word_limit"`
	// AllowOverlap skips overlap resolution entirely.
	AllowOverlap bool `json:"allow_overlap" mapstructure:"allow_overlap"`
}

// DefaultPolicy returns the default validation policy.
func DefaultPolicy() Policy {
	return Policy{
		NonTechnicalWordLimit: 6,
		AllowOverlap:          false,
	}
}

// Options holds per-request output shaping.
type Options struct {
	MaxSpans      int     `json:"max_spans" mapstructure:"max_spans"`
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`
	// TemplateVersion is a provenance tag copied into the result meta.
	TemplateVersion string `json:"template_version" mapstructure:"template_version"`
}

// DefaultOptions returns the default processing options.
func DefaultOptions() Options {
	return Options{
		MaxSpans:        60,
		MinConfidence:   0.5,
		TemplateVersion: "v1",
	}
}

// Performance holds hard limits that requests cannot override.
type Performance struct {
	MaxSpansAbsoluteLimit int `json:"max_spans_absolute_limit" mapstructure:"max_spans_absolute_limit"`
	// CharsPerToken is the fallback token estimate when no tokenizer is available.
	CharsPerToken int `json:"chars_per_token" mapstructure:"chars_per_token"`
	// MaxTokensPerPass bounds a single annotation pass.
	MaxTokensPerPass int `json:"max_tokens_per_pass" mapstructure:"max_tokens_per_pass"`
}

// DefaultPerformance returns the default hard limits.
func DefaultPerformance() Performance {
	return Performance{
		MaxSpansAbsoluteLimit: 80,
		CharsPerToken:         4,
		MaxTokensPerPass:      2000,
	}
}

// Mode selects how per-span errors are handled.
type Mode int

const (
	// Strict records per-span errors and fails the call.
	Strict Mode = iota
	// Lenient drops invalid spans with a note and succeeds.
	Lenient
)

// ModeForAttempt returns Strict for the first attempt and Lenient after.
func ModeForAttempt(attempt int) Mode {
	if attempt <= 1 {
		return Strict
	}
	return Lenient
}

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// StageResult is the output of one pipeline stage.
type StageResult struct {
	Spans []Span
	Notes []string
}

// SpanID derives a stable identifier from the source digest, offsets and role.
func SpanID(sourceDigest uint64, start, end int, role taxonomy.Role) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], sourceDigest)
	binary.BigEndian.PutUint64(buf[8:16], uint64(start))
	binary.BigEndian.PutUint64(buf[16:24], uint64(end))

	h := xxhash.New()
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(string(role))
	return fmt.Sprintf("span_%016x", h.Sum64())
}

// SourceDigest hashes the source text for use in span ids and cache keys.
func SourceDigest(source string) uint64 {
	return xxhash.Sum64String(source)
}

// clampConfidence maps absent or non-finite values to DefaultConfidence and
// clamps the rest to [0,1].
func clampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) || math.IsInf(*c, 0) {
		return DefaultConfidence
	}
	return min(max(*c, 0), 1)
}

// comparePosition orders spans by start, then end.
func comparePosition(a, b Span) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.End, b.End)
}

// SortByPosition sorts spans in place by (Start, End), keeping the original
// order of equal keys.
func SortByPosition(spans []Span) {
	slices.SortStableFunc(spans, comparePosition)
}

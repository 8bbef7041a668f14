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

// Package annotate defines the boundary to annotation sources: anything that
// turns prompt text into a span envelope for validation.
package annotate

import (
	"context"
	"errors"
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/schema"
)

// ErrNoAnnotator is returned when a wrapper has no annotator to delegate to.
var ErrNoAnnotator = errors.New("no annotator configured")

// Annotator labels spans in text.
type Annotator interface {
	Annotate(ctx context.Context, text string) (schema.Envelope, error)
}

// AnnotatorFunc adapts a function to the Annotator interface.
type AnnotatorFunc func(ctx context.Context, text string) (schema.Envelope, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(ctx context.Context, text string) (schema.Envelope, error) {
	return f(ctx, text)
}

// ParseEnvelope decodes a model's text response. The JSON may be bare, inside
// a markdown code fence, or surrounded by prose.
func ParseEnvelope(text string) (schema.Envelope, error) {
	env, err := schema.Decode([]byte(text))
	if err == nil {
		return env, nil
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start || (start == 0 && end == len(text)-1) {
		return env, err
	}
	if inner, innerErr := schema.Decode([]byte(text[start : end+1])); innerErr == nil {
		return inner, nil
	}
	return env, err
}

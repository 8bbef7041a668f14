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

package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/bytedance/sonic"
)

// Envelope is the annotation wire shape.
type Envelope struct {
	AnalysisTrace      *string         `json:"analysis_trace"`
	Spans              []spans.RawSpan `json:"spans"`
	Meta               spans.Meta      `json:"meta"`
	IsAdversarial      bool            `json:"isAdversarial,omitempty"`
	IsAdversarialSnake bool            `json:"is_adversarial,omitempty"`
}

// Adversarial reports whether either spelling of the flag is set.
func (e Envelope) Adversarial() bool {
	return e.IsAdversarial || e.IsAdversarialSnake
}

// Request builds a validation request for source from the envelope.
func (e Envelope) Request(source string, attempt int) spans.Request {
	return spans.Request{
		Spans:         e.Spans,
		Source:        source,
		Meta:          e.Meta,
		IsAdversarial: e.Adversarial(),
		AnalysisTrace: e.AnalysisTrace,
		Policy:        spans.DefaultPolicy(),
		Options:       spans.DefaultOptions(),
		Performance:   spans.DefaultPerformance(),
		Attempt:       attempt,
	}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Unfence returns the JSON inside the first markdown code fence of content,
// or content itself when there is none.
func Unfence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[") {
		return content
	}
	if m := fencedJSON.FindStringSubmatch(content); len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return content
}

// Decode parses body, tolerating a surrounding markdown code fence, checks
// its structure and returns the typed envelope.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	text := Unfence(string(body))

	var generic any
	if err := sonic.UnmarshalString(text, &generic); err != nil {
		return env, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidEnvelope, err)
	}
	if err := Validate(generic); err != nil {
		return env, err
	}
	if err := sonic.UnmarshalString(text, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

// Encode renders env as JSON.
func Encode(env Envelope) ([]byte, error) {
	if env.Spans == nil {
		env.Spans = []spans.RawSpan{}
	}
	return sonic.Marshal(env)
}

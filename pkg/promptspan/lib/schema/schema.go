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

// Package schema checks the structure of annotation envelopes before any span
// correction happens. Structural problems are reported, never repaired.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidEnvelope is wrapped by every structural validation failure.
var ErrInvalidEnvelope = errors.New("invalid annotation envelope")

// FieldError is one structural problem at a JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Validator validates decoded envelopes and remembers the errors of its last
// call. A Validator is not safe for concurrent use.
type Validator struct {
	errs []FieldError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports whether data, a generic JSON value as produced by decoding
// into any, is a well-formed envelope.
func (v *Validator) Validate(data any) bool {
	v.errs = v.errs[:0]

	obj, ok := data.(map[string]any)
	if !ok {
		v.fail("", "must be an object, got %s", kind(data))
		return false
	}

	switch trace, present := obj["analysis_trace"]; {
	case !present:
		v.fail("analysis_trace", "required")
	case trace == nil:
	default:
		if _, ok := trace.(string); !ok {
			v.fail("analysis_trace", "must be a string, got %s", kind(trace))
		}
	}

	v.validateSpans(obj)
	v.validateMeta(obj)

	for _, key := range []string{"isAdversarial", "is_adversarial"} {
		if val, present := obj[key]; present {
			if _, ok := val.(bool); !ok {
				v.fail(key, "must be a boolean, got %s", kind(val))
			}
		}
	}
	return len(v.errs) == 0
}

func (v *Validator) validateSpans(obj map[string]any) {
	raw, present := obj["spans"]
	if !present {
		v.fail("spans", "required")
		return
	}
	list, ok := raw.([]any)
	if !ok {
		v.fail("spans", "must be an array, got %s", kind(raw))
		return
	}
	for i, item := range list {
		path := fmt.Sprintf("spans[%d]", i)
		span, ok := item.(map[string]any)
		if !ok {
			v.fail(path, "must be an object, got %s", kind(item))
			continue
		}
		v.requireString(span, path, "text")

		_, hasRole := span["role"]
		_, hasCategory := span["category"]
		switch {
		case hasRole:
			v.requireString(span, path, "role")
		case hasCategory:
			v.requireString(span, path, "category")
		default:
			v.fail(path+".role", "required")
		}

		for _, key := range []string{"start", "end"} {
			if val, present := span[key]; present {
				if n, ok := integer(val); !ok || n < 0 {
					v.fail(path+"."+key, "must be a non-negative integer, got %v", val)
				}
			}
		}
		if val, present := span["confidence"]; present {
			if f, ok := number(val); !ok || f < 0 || f > 1 {
				v.fail(path+".confidence", "must be a number in [0,1], got %v", val)
			}
		}
	}
}

func (v *Validator) validateMeta(obj map[string]any) {
	raw, present := obj["meta"]
	if !present {
		v.fail("meta", "required")
		return
	}
	meta, ok := raw.(map[string]any)
	if !ok {
		v.fail("meta", "must be an object, got %s", kind(raw))
		return
	}
	v.requireString(meta, "meta", "version")
	v.requireString(meta, "meta", "notes")
}

func (v *Validator) requireString(obj map[string]any, path, key string) {
	val, present := obj[key]
	if !present {
		v.fail(path+"."+key, "required")
		return
	}
	if _, ok := val.(string); !ok {
		v.fail(path+"."+key, "must be a string, got %s", kind(val))
	}
}

func (v *Validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Errors returns the problems found by the last Validate call.
func (v *Validator) Errors() []FieldError {
	return append([]FieldError(nil), v.errs...)
}

// FormatErrors renders the last call's problems on one line.
func (v *Validator) FormatErrors() string {
	parts := make([]string, len(v.errs))
	for i, e := range v.errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// ValidateOrError is Validate returning an error wrapping ErrInvalidEnvelope.
func (v *Validator) ValidateOrError(data any) error {
	if v.Validate(data) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, v.FormatErrors())
}

// Validate checks data with a fresh Validator.
func Validate(data any) error {
	return NewValidator().ValidateOrError(data)
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func integer(v any) (int64, bool) {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

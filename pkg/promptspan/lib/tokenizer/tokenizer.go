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

// Package tokenizer estimates how many model tokens a prompt will cost, which
// decides whether it must be annotated in chunks.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

type Tokenizer interface {
	// CountTokens returns the number of tokens in the text.
	CountTokens(text string) int
}

type BPETokenizer struct {
	tiktoken *tiktoken.Tiktoken
}

func init() {
	// Set the offline loader for tiktoken to avoid network requests
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	tk, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %q: %w", encoding, err)
	}

	return &BPETokenizer{tiktoken: tk}, nil
}

func (t *BPETokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.tiktoken.Encode(text, nil, nil))
}

// Estimator approximates token counts as characters divided by CharsPerToken.
type Estimator struct {
	CharsPerToken int
}

func (e Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}

// New returns a BPE tokenizer for encoding, or an Estimator when the encoding
// cannot be loaded.
func New(encoding string, charsPerToken int, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tk, err := NewBPETokenizer(encoding)
	if err != nil {
		logger.Warn("Falling back to character-based token estimate",
			zap.String("encoding", encoding),
			zap.Int("charsPerToken", charsPerToken),
			zap.Error(err))
		return Estimator{CharsPerToken: charsPerToken}
	}
	return tk
}

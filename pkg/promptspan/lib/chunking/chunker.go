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

// Package chunking splits long prompts into sentence-aligned slices for
// separate annotation passes and folds the per-chunk spans back together.
package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/tokenizer"
	"go.uber.org/zap"
)

// Config contains configuration for chunked annotation.
type Config struct {
	// MaxWordsPerChunk caps the words in a chunk unless a single sentence is
	// longer.
	MaxWordsPerChunk int `json:"max_words_per_chunk" mapstructure:"max_words_per_chunk"`

	// OverlapWords repeats the last N words of a chunk at the start of the next.
	OverlapWords int `json:"overlap_words" mapstructure:"overlap_words"`

	// Concurrency bounds parallel per-chunk annotation.
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// Parallel enables concurrent per-chunk annotation.
	Parallel bool `json:"parallel" mapstructure:"parallel"`

	// MaxTokensPerPass forces chunking when the estimated token count is higher.
	MaxTokensPerPass int `json:"max_tokens_per_pass" mapstructure:"max_tokens_per_pass"`
}

// DefaultConfig returns sensible defaults for chunked annotation.
func DefaultConfig() Config {
	return Config{
		MaxWordsPerChunk: 400,
		OverlapWords:     0,
		Concurrency:      3,
		Parallel:         true,
		MaxTokensPerPass: 2000,
	}
}

// Chunk is a contiguous slice of the source: Text == source[StartOffset:EndOffset].
type Chunk struct {
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	WordCount   int    `json:"word_count"`
}

// Chunker applies a Config. It is safe for concurrent use.
type Chunker struct {
	config    Config
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewChunker creates a chunker. A nil tokenizer falls back to a four
// characters per token estimate.
func NewChunker(config Config, tk tokenizer.Tokenizer, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tk == nil {
		tk = tokenizer.Estimator{CharsPerToken: 4}
	}
	defaults := DefaultConfig()
	if config.MaxWordsPerChunk <= 0 {
		config.MaxWordsPerChunk = defaults.MaxWordsPerChunk
	}
	if config.MaxTokensPerPass <= 0 {
		config.MaxTokensPerPass = defaults.MaxTokensPerPass
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Chunker{config: config, tokenizer: tk, logger: logger}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// NeedsChunking reports whether text is too long for one annotation pass.
func (c *Chunker) NeedsChunking(text string) bool {
	if words := len(strings.Fields(text)); words > c.config.MaxWordsPerChunk {
		return true
	}
	return c.tokenizer.CountTokens(text) > c.config.MaxTokensPerPass
}

// Chunk splits text using the configured word limit and overlap.
func (c *Chunker) Chunk(text string) []Chunk {
	chunks := ChunkWithOverlap(text, c.config.MaxWordsPerChunk, c.config.OverlapWords)
	c.logger.Debug("Chunked text",
		zap.Int("textLength", len(text)),
		zap.Int("chunks", len(chunks)),
		zap.Int("maxWords", c.config.MaxWordsPerChunk))
	return chunks
}

// Chunk splits text into sentence-aligned chunks of at most maxWords words.
func Chunk(text string, maxWords int) []Chunk {
	return ChunkWithOverlap(text, maxWords, 0)
}

// ChunkWithOverlap is Chunk where every chunk after the first also starts with
// up to overlap words from the end of the previous one. The overlap shrinks so
// that it plus the next sentence fits in maxWords; a sentence that alone
// fills maxWords starts its chunk with no overlap.
func ChunkWithOverlap(text string, maxWords, overlap int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultConfig().MaxWordsPerChunk
	}
	overlap = max(0, min(overlap, maxWords-1))

	units := segment(text)
	if len(units) == 0 {
		return []Chunk{}
	}

	var chunks []Chunk
	start, end, words := units[0].start, units[0].end, units[0].words
	for _, u := range units[1:] {
		if words+u.words > maxWords {
			chunks = append(chunks, newChunk(text, start, end))
			if n := min(overlap, maxWords-u.words); n > 0 {
				start = lastWordsStart(text, start, end, n)
			} else {
				start = u.start
			}
			words = len(strings.Fields(text[start:u.start]))
		}
		end = u.end
		words += u.words
	}
	return append(chunks, newChunk(text, start, end))
}

func newChunk(text string, start, end int) Chunk {
	return Chunk{
		Text:        text[start:end],
		StartOffset: start,
		EndOffset:   end,
		WordCount:   len(strings.Fields(text[start:end])),
	}
}

type unit struct {
	start, end, words int
}

var (
	headingLine = regexp.MustCompile(`^#{1,6}(\s|$)`)
	bulletLine  = regexp.MustCompile(`^([-*+•]|\d+[.)])\s`)
)

// segment splits text into sentence-like units. Headings and bullet lines are
// single units; other lines break after '.', '!' or '?' followed by
// whitespace or the end of the line.
func segment(text string) []unit {
	var units []unit
	add := func(s, e int) {
		s, e = trimSpace(text, s, e)
		if s < e {
			units = append(units, unit{start: s, end: e, words: len(strings.Fields(text[s:e]))})
		}
	}

	for off := 0; off < len(text); {
		lineEnd := strings.IndexByte(text[off:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += off
		}
		ls, le := trimSpace(text, off, lineEnd)
		line := text[ls:le]

		if headingLine.MatchString(line) || bulletLine.MatchString(line) {
			add(ls, le)
		} else {
			s := ls
			for i := ls; i < le; i++ {
				switch text[i] {
				case '.', '!', '?':
					if i+1 == le || isSpaceByte(text[i+1]) {
						add(s, i+1)
						s = i + 1
					}
				}
			}
			add(s, le)
		}
		off = lineEnd + 1
	}
	return units
}

// lastWordsStart returns the offset of the n-th word from the end of
// text[start:end].
func lastWordsStart(text string, start, end, n int) int {
	pos := end
	for n > 0 && pos > start {
		for pos > start {
			r, size := utf8.DecodeLastRuneInString(text[start:pos])
			if !unicode.IsSpace(r) {
				break
			}
			pos -= size
		}
		for pos > start {
			r, size := utf8.DecodeLastRuneInString(text[start:pos])
			if unicode.IsSpace(r) {
				break
			}
			pos -= size
		}
		n--
	}
	return pos
}

func trimSpace(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\v' || b == '\f'
}

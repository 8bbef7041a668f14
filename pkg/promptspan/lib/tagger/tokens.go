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
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Token is a word with its byte range in the source.
type Token struct {
	Text  string
	Start int
	End   int
	// Break is set when punctuation or a line break separates the token from
	// the previous one; phrases never span a break.
	Break bool
}

// Tokenize splits text into words. Hyphens, apostrophes, colons, slashes and
// periods stay inside a word when letters or digits follow them, so
// "close-up", "bird's-eye", "16:9" and "f/2.8" are single tokens.
func Tokenize(text string) []Token {
	var tokens []Token
	gapHasPunct := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(r) {
			if !unicode.IsSpace(r) || r == '\n' {
				gapHasPunct = true
			}
			i += size
			continue
		}

		start := i
		i += size
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if isWordRune(r) {
				i += size
				continue
			}
			if isConnector(r) && i+size < len(text) {
				next, _ := utf8.DecodeRuneInString(text[i+size:])
				if isWordRune(next) {
					i += size
					continue
				}
			}
			break
		}
		tokens = append(tokens, Token{
			Text:  text[start:i],
			Start: start,
			End:   i,
			Break: gapHasPunct || len(tokens) == 0,
		})
		gapHasPunct = false
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isConnector(r rune) bool {
	switch r {
	case '-', '\'', '’', ':', '/', '.':
		return true
	}
	return false
}

// phraseKey folds tokens into a lookup key. A Caser is stateful, so each call
// gets its own.
func phraseKey(tokens []Token) string {
	folder := cases.Fold()
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = folder.String(strings.ReplaceAll(t.Text, "’", "'"))
	}
	return strings.Join(parts, " ")
}

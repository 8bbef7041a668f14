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
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/pelletier/go-toml/v2"
)

//go:embed lexicon.toml
var builtinLexicon []byte

// DefaultGroupConfidence applies to lexicon groups that set no confidence.
const DefaultGroupConfidence = 0.75

// Entry is one lexicon phrase.
type Entry struct {
	Phrase     string
	Role       taxonomy.Role
	Confidence float64
}

// Lexicon maps folded phrases to roles. It is read-only after loading and
// safe for concurrent use.
type Lexicon struct {
	Version   string
	entries   map[string]Entry
	modifiers map[string]struct{}
	maxWords  int
}

type lexiconFile struct {
	Version   string   `toml:"version"`
	Modifiers []string `toml:"modifiers"`
	Groups    []struct {
		Role       string   `toml:"role"`
		Confidence float64  `toml:"confidence"`
		Phrases    []string `toml:"phrases"`
	} `toml:"group"`
}

// NewLexicon returns an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{
		entries:   make(map[string]Entry),
		modifiers: make(map[string]struct{}),
	}
}

// DefaultLexicon returns a fresh copy of the built-in lexicon.
func DefaultLexicon() *Lexicon {
	l, err := ParseLexicon(builtinLexicon)
	if err != nil {
		panic(fmt.Sprintf("built-in lexicon: %v", err))
	}
	return l
}

// ParseLexicon decodes a TOML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var f lexiconFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing lexicon: %w", err)
	}

	l := NewLexicon()
	l.Version = f.Version
	for _, m := range f.Modifiers {
		if toks := Tokenize(m); len(toks) == 1 {
			l.modifiers[phraseKey(toks)] = struct{}{}
		}
	}
	for i, g := range f.Groups {
		role, ok := taxonomy.Parse(g.Role)
		if !ok {
			return nil, fmt.Errorf("lexicon group %d: unknown role %q", i, g.Role)
		}
		conf := g.Confidence
		if conf <= 0 || conf > 1 {
			conf = DefaultGroupConfidence
		}
		for _, p := range g.Phrases {
			l.Add(p, role, conf)
		}
	}
	return l, nil
}

// LoadLexicon reads a TOML lexicon from r.
func LoadLexicon(r io.Reader) (*Lexicon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// LoadLexiconFile reads a TOML lexicon from path.
func LoadLexiconFile(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lexicon: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadLexicon(f)
}

// Add registers phrase under role. Later additions replace earlier ones.
func (l *Lexicon) Add(phrase string, role taxonomy.Role, confidence float64) {
	toks := Tokenize(phrase)
	if len(toks) == 0 {
		return
	}
	l.entries[phraseKey(toks)] = Entry{Phrase: phrase, Role: role, Confidence: confidence}
	l.maxWords = max(l.maxWords, len(toks))
}

// Merge copies every entry and modifier of other into l.
func (l *Lexicon) Merge(other *Lexicon) {
	for k, e := range other.entries {
		l.entries[k] = e
	}
	for k := range other.modifiers {
		l.modifiers[k] = struct{}{}
	}
	l.maxWords = max(l.maxWords, other.maxWords)
	if other.Version != "" {
		l.Version = l.Version + "+" + other.Version
	}
}

// Lookup finds the entry for phrase.
func (l *Lexicon) Lookup(phrase string) (Entry, bool) {
	return l.lookup(Tokenize(phrase))
}

func (l *Lexicon) lookup(tokens []Token) (Entry, bool) {
	e, ok := l.entries[phraseKey(tokens)]
	return e, ok
}

func (l *Lexicon) isModifier(t Token) bool {
	_, ok := l.modifiers[phraseKey([]Token{t})]
	return ok
}

// Len returns the number of phrases.
func (l *Lexicon) Len() int {
	return len(l.entries)
}

// MaxWords returns the token length of the longest phrase.
func (l *Lexicon) MaxWords() int {
	return l.maxWords
}

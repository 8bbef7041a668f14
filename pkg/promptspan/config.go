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

package promptspan

import (
	"fmt"
	"time"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/chunking"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/tokenizer"
)

// Config is the node configuration.
type Config struct {
	// ApiUrl is the address the HTTP API listens on.
	ApiUrl string `json:"api_url" mapstructure:"api_url"`

	// RequestTimeout bounds how long a request may wait for a queue slot.
	// Empty or "0" disables the bound.
	RequestTimeout string `json:"request_timeout,omitempty" mapstructure:"request_timeout"`

	// MaxConcurrentRequests is the number of requests processed at once.
	// Zero disables queueing.
	MaxConcurrentRequests int `json:"max_concurrent_requests,omitempty" mapstructure:"max_concurrent_requests"`

	// MaxQueueSize is the number of requests allowed to wait for a slot.
	MaxQueueSize int `json:"max_queue_size,omitempty" mapstructure:"max_queue_size"`

	// LexiconPath is an optional TOML lexicon merged over the built-in one.
	LexiconPath string `json:"lexicon_path,omitempty" mapstructure:"lexicon_path"`

	// CacheTTL is how long annotations are cached. Empty uses the default.
	CacheTTL string `json:"cache_ttl,omitempty" mapstructure:"cache_ttl"`

	// Encoding is the tiktoken encoding used to estimate prompt size.
	Encoding string `json:"encoding,omitempty" mapstructure:"encoding"`

	Policy      spans.Policy      `json:"policy" mapstructure:"policy"`
	Options     spans.Options     `json:"options" mapstructure:"options"`
	Performance spans.Performance `json:"performance" mapstructure:"performance"`
	Chunking    chunking.Config   `json:"chunking" mapstructure:"chunking"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ApiUrl:                "http://localhost:11435",
		RequestTimeout:        "30s",
		MaxConcurrentRequests: 16,
		MaxQueueSize:          128,
		CacheTTL:              AnnotationCacheTTL.String(),
		Encoding:              tokenizer.DefaultEncoding,
		Policy:                spans.DefaultPolicy(),
		Options:               spans.DefaultOptions(),
		Performance:           spans.DefaultPerformance(),
		Chunking:              chunking.DefaultConfig(),
	}
}

// parseDuration parses an optional duration setting. Empty and "0" mean zero.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}

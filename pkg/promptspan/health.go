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
	"net/http"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status         string         `json:"status"`
	Annotator      string         `json:"annotator,omitempty"`
	LexiconPhrases int            `json:"lexicon_phrases"`
	Queue          QueueStats     `json:"queue"`
	Cache          map[string]any `json:"cache,omitempty"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once an annotator with a non-empty lexicon is
// available (readiness check)
func (n *Node) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:    "ready",
		Annotator: n.annotatorName,
	}
	if n.tagger != nil {
		resp.LexiconPhrases = n.tagger.Lexicon().Len()
	}
	if n.requestQueue != nil {
		resp.Queue = n.requestQueue.Stats()
	}
	if n.annotationCache != nil {
		resp.Cache = n.annotationCache.Stats()
	}

	if n.annotator == nil || resp.LexiconPhrases == 0 {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const foxSource = "A red fox running through a snowy forest."

const foxAnnotation = `{
  "analysis_trace": "checked subjects and places",
  "spans": [
    {"text": "red fox", "role": "subject.identity", "confidence": 0.9},
    {"text": "snowy forest", "role": "environment.location", "confidence": 0.8}
  ],
  "meta": {"version": "v1", "notes": ""}
}`

func newTestNode(t *testing.T) (*Node, http.Handler) {
	t.Helper()
	node, err := NewNode(DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(node.Close)
	return node, node.Handler()
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeValidate(t *testing.T, w *httptest.ResponseRecorder) ValidateResponse {
	t.Helper()
	var resp ValidateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandleApiValidate(t *testing.T) {
	_, h := newTestNode(t)

	w := post(t, h, "/api/validate", map[string]any{
		"source":     foxSource,
		"annotation": json.RawMessage(foxAnnotation),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	resp := decodeValidate(t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, "strict", resp.Mode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, w.Header().Get(RequestIDHeader), resp.RequestID)
	require.Len(t, resp.Result.Spans, 2)
	assert.Equal(t, "red fox", resp.Result.Spans[0].Text)
	assert.Equal(t, 2, resp.Result.Spans[0].Start)
	assert.Equal(t, taxonomy.EnvironmentLocation, resp.Result.Spans[1].Role)
	assert.Equal(t, "v1", resp.Result.Meta.Version)
	require.NotNil(t, resp.Result.AnalysisTrace)
	assert.Equal(t, "checked subjects and places", *resp.Result.AnalysisTrace)
	assert.NotEmpty(t, resp.Stats)
}

func TestHandleApiValidate_KeepsCallerRequestID(t *testing.T) {
	_, h := newTestNode(t)

	data, err := json.Marshal(map[string]any{"source": foxSource, "annotation": json.RawMessage(foxAnnotation)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/validate", bytes.NewReader(data))
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", decodeValidate(t, w).RequestID)
}

func TestHandleApiValidate_StrictThenLenient(t *testing.T) {
	_, h := newTestNode(t)
	annotation := json.RawMessage(`{"analysis_trace": null, "spans": [{"text": "purple elephant", "role": "subject"}], "meta": {"version": "v1", "notes": ""}}`)

	w := post(t, h, "/api/validate", map[string]any{"source": foxSource, "annotation": annotation})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeValidate(t, w)
	assert.False(t, resp.OK)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "not found in source")
	assert.NotNil(t, resp.Result.Spans)
	assert.Empty(t, resp.Result.Spans)

	w = post(t, h, "/api/validate", map[string]any{"source": foxSource, "annotation": annotation, "attempt": 2})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeValidate(t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, "lenient", resp.Mode)
	assert.Empty(t, resp.Result.Spans)
	assert.Contains(t, resp.Result.Meta.Notes, "dropped span 0")
}

func TestHandleApiValidate_ModelResponse(t *testing.T) {
	_, h := newTestNode(t)

	w := post(t, h, "/api/validate", map[string]any{
		"source":   foxSource,
		"response": "Here you go:\n```json\n" + foxAnnotation + "\n```",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decodeValidate(t, w).Result.Spans, 2)
}

func TestHandleApiValidate_Overrides(t *testing.T) {
	_, h := newTestNode(t)

	w := post(t, h, "/api/validate", map[string]any{
		"source":     foxSource,
		"annotation": json.RawMessage(foxAnnotation),
		"options":    map[string]any{"min_confidence": 0.85, "template_version": "v9"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeValidate(t, w)
	require.Len(t, resp.Result.Spans, 1)
	assert.Equal(t, "red fox", resp.Result.Spans[0].Text)
	assert.Contains(t, resp.Result.Meta.Notes, "low-confidence")
	assert.Equal(t, "v1", resp.Result.Meta.Version)
}

func TestHandleApiValidate_BadRequests(t *testing.T) {
	_, h := newTestNode(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"source": `, "decoding request"},
		{"missing source", `{"annotation": ` + foxAnnotation + `}`, "source is required"},
		{"missing annotation", `{"source": "a fox"}`, "annotation or response is required"},
		{"envelope without meta", `{"source": "a fox", "annotation": {"analysis_trace": null, "spans": []}}`, "invalid annotation envelope"},
		{"unparseable response", `{"source": "a fox", "response": "no json at all"}`, "invalid annotation envelope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/validate", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Contains(t, resp.Error, tt.message)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestHandleApiExtract(t *testing.T) {
	node, h := newTestNode(t)
	text := "A red fox running through a snowy forest at golden hour, 16:9."

	w := post(t, h, "/api/extract", map[string]any{"text": text})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeValidate(t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "symbolic-builtin-1", resp.Result.Meta.Version)

	var got []string
	for _, s := range resp.Result.Spans {
		assert.Equal(t, s.Text, text[s.Start:s.End])
		got = append(got, s.Text)
	}
	assert.Equal(t, []string{"red fox", "running", "snowy forest", "golden hour", "16:9"}, got)

	w = post(t, h, "/api/extract", map[string]any{"text": text})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeValidate(t, w).Result.Spans, 5)

	cached, ok := node.annotator.(*CachedAnnotator)
	require.True(t, ok)
	stats := cached.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestHandleApiExtract_Lenient(t *testing.T) {
	_, h := newTestNode(t)

	w := post(t, h, "/api/extract", map[string]any{"text": "A dog waits.", "lenient": true})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeValidate(t, w)
	assert.Equal(t, "lenient", resp.Mode)
	assert.Equal(t, 1, resp.Attempts)
}

func TestHandleApiExtract_EmptyText(t *testing.T) {
	_, h := newTestNode(t)
	w := post(t, h, "/api/extract", map[string]any{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "text is required")
}

func TestHandleApiChunk(t *testing.T) {
	_, h := newTestNode(t)
	text := "A fox runs. A fox sleeps. A fox waits."

	w := post(t, h, "/api/chunk", ChunkRequest{Text: text, MaxWords: 3})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChunkResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Chunks, 3)
	assert.Equal(t, "A fox sleeps.", resp.Chunks[1].Text)
	assert.Equal(t, 9, resp.WordCount)
	assert.Positive(t, resp.TokenCount)
	assert.False(t, resp.NeedsChunking)

	w = post(t, h, "/api/chunk", ChunkRequest{Text: text, MaxWords: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleApiTaxonomy(t *testing.T) {
	_, h := newTestNode(t)
	req := httptest.NewRequest(http.MethodGet, "/api/taxonomy", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp TaxonomyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Parents, len(taxonomy.Parents()))
	assert.Len(t, resp.Roles, len(taxonomy.All()))
	assert.Contains(t, resp.Roles, RoleInfo{
		Role:      "technical.frameRate",
		Parent:    "technical",
		Attribute: "frameRate",
		Depth:     2,
		Technical: true,
	})
}

func TestHealthAndVersion(t *testing.T) {
	_, h := newTestNode(t)

	for _, path := range []string{"/healthz", "/readyz", "/api/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var ready ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "symbolic-builtin-1", ready.Annotator)
	assert.Positive(t, ready.LexiconPhrases)

	req = httptest.NewRequest(http.MethodGet, "/api/version", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var version VersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&version))
	assert.Equal(t, Version, version.Version)
	assert.Equal(t, "v1", version.TemplateVersion)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestNode(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/validate", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewNode_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTTL = "soon"
	_, err := NewNode(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_ttl")

	cfg = DefaultConfig()
	cfg.LexiconPath = "/nonexistent/lexicon.toml"
	_, err = NewNode(cfg, nil)
	require.Error(t, err)
}

func TestNode_ExtractRetriesLeniently(t *testing.T) {
	node, _ := newTestNode(t)
	limit := 1

	out, attempts, err := node.Extract(t.Context(), foxSource, false, &PolicyOverride{NonTechnicalWordLimit: &limit}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, out.OK)
	assert.Equal(t, "lenient", out.Mode.String())

	var texts []string
	for _, s := range out.Result.Spans {
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"running"}, texts)
	assert.Contains(t, out.Result.Meta.Notes, "exceeds non-technical word limit")
}

func TestNode_Chunk(t *testing.T) {
	node, _ := newTestNode(t)

	resp := node.Chunk("A fox runs. A fox sleeps.", 0, 0)
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, 6, resp.WordCount)
	assert.Empty(t, resp.RequestID)

	resp = node.Chunk("A fox runs. A fox sleeps.", 3, 0)
	assert.Len(t, resp.Chunks, 2)
}

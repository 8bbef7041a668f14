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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/annotate"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/chunking"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/schema"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/taxonomy"
	"github.com/bytedance/sonic/decoder"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxRequestBytes bounds request bodies.
const maxRequestBytes = 4 << 20

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// PolicyOverride replaces individual policy fields for one request.
type PolicyOverride struct {
	NonTechnicalWordLimit *int  `json:"non_technical_word_limit,omitempty"`
	AllowOverlap          *bool `json:"allow_overlap,omitempty"`
}

// OptionsOverride replaces individual option fields for one request.
type OptionsOverride struct {
	MaxSpans        *int     `json:"max_spans,omitempty"`
	MinConfidence   *float64 `json:"min_confidence,omitempty"`
	TemplateVersion *string  `json:"template_version,omitempty"`
}

// ValidateRequest validates an annotation against its source prompt. Either
// Annotation (the envelope as JSON) or Response (a model's raw text reply,
// possibly fenced) must be set.
type ValidateRequest struct {
	Source     string           `json:"source"`
	Annotation json.RawMessage  `json:"annotation,omitempty"`
	Response   string           `json:"response,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Policy     *PolicyOverride  `json:"policy,omitempty"`
	Options    *OptionsOverride `json:"options,omitempty"`
}

// ExtractRequest annotates and validates a prompt in one call.
type ExtractRequest struct {
	Text string `json:"text"`
	// Lenient skips the strict attempt.
	Lenient bool             `json:"lenient,omitempty"`
	Policy  *PolicyOverride  `json:"policy,omitempty"`
	Options *OptionsOverride `json:"options,omitempty"`
}

// ValidateResponse is returned by validate and extract.
type ValidateResponse struct {
	OK        bool                   `json:"ok"`
	Result    spans.ValidationResult `json:"result"`
	Errors    []string               `json:"errors,omitempty"`
	Mode      string                 `json:"mode"`
	Attempts  int                    `json:"attempts"`
	Stats     []spans.StageStat      `json:"stats"`
	RequestID string                 `json:"request_id"`
}

// ChunkRequest splits a prompt into annotation-sized chunks.
type ChunkRequest struct {
	Text         string `json:"text"`
	MaxWords     int    `json:"max_words,omitempty"`
	OverlapWords int    `json:"overlap_words,omitempty"`
}

// ChunkResponse lists the chunks of a prompt.
type ChunkResponse struct {
	Chunks        []chunking.Chunk `json:"chunks"`
	NeedsChunking bool             `json:"needs_chunking"`
	WordCount     int              `json:"word_count"`
	TokenCount    int              `json:"token_count"`
	RequestID     string           `json:"request_id"`
}

// RoleInfo describes one taxonomy role.
type RoleInfo struct {
	Role      string `json:"role"`
	Parent    string `json:"parent"`
	Attribute string `json:"attribute,omitempty"`
	Depth     int    `json:"depth"`
	Technical bool   `json:"technical"`
}

// TaxonomyResponse lists the span taxonomy.
type TaxonomyResponse struct {
	Parents []string   `json:"parents"`
	Roles   []RoleInfo `json:"roles"`
}

// VersionResponse reports build and pipeline versions.
type VersionResponse struct {
	Version         string `json:"version"`
	GitCommit       string `json:"git_commit"`
	BuildTime       string `json:"build_time"`
	TemplateVersion string `json:"template_version"`
	Annotator       string `json:"annotator"`
}

// handleApiValidate validates a caller-supplied annotation
func (n *Node) handleApiValidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := requestID(w, r)
	defer func() { _ = r.Body.Close() }()

	release, ok := n.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req ValidateRequest
	if err := decodeBody(w, r, &req); err != nil {
		n.fail(w, "validate", start, http.StatusBadRequest, reqID, err)
		return
	}
	if req.Source == "" {
		n.fail(w, "validate", start, http.StatusBadRequest, reqID, errors.New("source is required"))
		return
	}

	env, err := decodeAnnotation(req)
	if err != nil {
		n.fail(w, "validate", start, http.StatusBadRequest, reqID, err)
		return
	}

	out := n.Validate(env, req.Source, req.Attempt, req.Policy, req.Options)
	n.logOutcome("Validated annotation", reqID, out, len(env.Spans))

	status := http.StatusOK
	if !out.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, NewValidateResponse(out, 1, reqID))
	RecordRequestDuration("validate", strconv.Itoa(status), time.Since(start).Seconds())
}

// handleApiExtract annotates text with the symbolic annotator and validates
// the result, retrying leniently when the strict attempt fails
func (n *Node) handleApiExtract(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := requestID(w, r)
	defer func() { _ = r.Body.Close() }()

	release, ok := n.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req ExtractRequest
	if err := decodeBody(w, r, &req); err != nil {
		n.fail(w, "extract", start, http.StatusBadRequest, reqID, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		n.fail(w, "extract", start, http.StatusBadRequest, reqID, errors.New("text is required"))
		return
	}
	out, attempts, err := n.Extract(r.Context(), req.Text, req.Lenient, req.Policy, req.Options)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, annotate.ErrNoAnnotator):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case errors.Is(err, context.Canceled):
			status = http.StatusRequestTimeout
		}
		n.logger.Error("extraction failed", zap.String("requestId", reqID), zap.Error(err))
		n.fail(w, "extract", start, status, reqID, err)
		return
	}
	n.logOutcome("Extracted spans", reqID, out, out.Stats[0].In)

	status := http.StatusOK
	if !out.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, NewValidateResponse(out, attempts, reqID))
	RecordRequestDuration("extract", strconv.Itoa(status), time.Since(start).Seconds())
}

// handleApiChunk splits text into annotation-sized chunks
func (n *Node) handleApiChunk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := requestID(w, r)
	defer func() { _ = r.Body.Close() }()

	release, ok := n.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	var req ChunkRequest
	if err := decodeBody(w, r, &req); err != nil {
		n.fail(w, "chunk", start, http.StatusBadRequest, reqID, err)
		return
	}
	if req.Text == "" {
		n.fail(w, "chunk", start, http.StatusBadRequest, reqID, errors.New("text is required"))
		return
	}
	if req.MaxWords < 0 || req.OverlapWords < 0 {
		n.fail(w, "chunk", start, http.StatusBadRequest, reqID, errors.New("max_words and overlap_words must not be negative"))
		return
	}

	resp := n.Chunk(req.Text, req.MaxWords, req.OverlapWords)
	resp.RequestID = reqID
	writeJSON(w, http.StatusOK, resp)
	RecordRequestDuration("chunk", "200", time.Since(start).Seconds())
}

// Chunk splits text with the node's chunking settings. Positive maxWords or
// overlap replace the configured values.
func (n *Node) Chunk(text string, maxWords, overlap int) ChunkResponse {
	cfg := n.chunker.Config()
	if maxWords <= 0 {
		maxWords = cfg.MaxWordsPerChunk
	}
	if overlap <= 0 {
		overlap = cfg.OverlapWords
	}
	chunks := chunking.ChunkWithOverlap(text, maxWords, overlap)
	RecordChunkCreation(len(chunks))
	return ChunkResponse{
		Chunks:        chunks,
		NeedsChunking: n.chunker.NeedsChunking(text),
		WordCount:     spans.WordCount(text),
		TokenCount:    n.tokenizer.CountTokens(text),
	}
}

// handleApiTaxonomy lists every valid role
func (n *Node) handleApiTaxonomy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildTaxonomyResponse())
}

// BuildTaxonomyResponse describes the taxonomy.
func BuildTaxonomyResponse() TaxonomyResponse {
	var resp TaxonomyResponse
	for _, p := range taxonomy.Parents() {
		resp.Parents = append(resp.Parents, string(p))
	}
	for _, role := range taxonomy.All() {
		resp.Roles = append(resp.Roles, RoleInfo{
			Role:      string(role),
			Parent:    string(role.Parent()),
			Attribute: role.Attribute(),
			Depth:     role.Depth(),
			Technical: role.IsTechnical(),
		})
	}
	return resp
}

// handleApiVersion reports build information
func (n *Node) handleApiVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:         Version,
		GitCommit:       GitCommit,
		BuildTime:       BuildTime,
		TemplateVersion: n.config.Options.TemplateVersion,
		Annotator:       n.annotatorName,
	})
}

// Validate runs the pipeline over env with the node's settings and the
// request overrides.
func (n *Node) Validate(env schema.Envelope, source string, attempt int, p *PolicyOverride, o *OptionsOverride) spans.Outcome {
	out := spans.Validate(n.request(env, source, max(1, attempt), p, o))
	RecordValidation(out, len(env.Spans))
	return out
}

// Extract annotates text and validates the annotation. A failed strict
// attempt is retried leniently; attempts reports how many ran.
func (n *Node) Extract(ctx context.Context, text string, lenient bool, p *PolicyOverride, o *OptionsOverride) (spans.Outcome, int, error) {
	if n.annotator == nil {
		return spans.Outcome{}, 0, annotate.ErrNoAnnotator
	}
	env, err := n.annotator.Annotate(ctx, text)
	if err == nil {
		env, err = checkEnvelope(env)
	}
	if err != nil {
		return spans.Outcome{}, 0, fmt.Errorf("annotating text: %w", err)
	}

	first := 1
	if lenient {
		first = 2
	}
	var out spans.Outcome
	attempts := 0
	for attempt := first; attempt <= 2; attempt++ {
		attempts++
		out = n.Validate(env, text, attempt, p, o)
		if out.OK {
			break
		}
		n.logger.Warn("Strict validation failed, retrying leniently",
			zap.Int("attempt", attempt),
			zap.Strings("errors", out.Errors))
	}
	return out, attempts, nil
}

// acquire applies backpressure via the request queue. It writes the error
// response itself when no slot is available.
func (n *Node) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if n.requestQueue == nil {
		return func() {}, true
	}
	release, err := n.requestQueue.Acquire(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case errors.Is(err, ErrRequestTimeout):
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return nil, false
	}
	UpdateQueueMetrics(n.requestQueue.Stats())
	return release, true
}

// request builds the validation request from node defaults and overrides.
func (n *Node) request(env schema.Envelope, source string, attempt int, p *PolicyOverride, o *OptionsOverride) spans.Request {
	req := env.Request(source, attempt)
	req.Policy = n.config.Policy
	req.Options = n.config.Options
	req.Performance = n.config.Performance
	if p != nil {
		if p.NonTechnicalWordLimit != nil {
			req.Policy.NonTechnicalWordLimit = *p.NonTechnicalWordLimit
		}
		if p.AllowOverlap != nil {
			req.Policy.AllowOverlap = *p.AllowOverlap
		}
	}
	if o != nil {
		if o.MaxSpans != nil {
			req.Options.MaxSpans = *o.MaxSpans
		}
		if o.MinConfidence != nil {
			req.Options.MinConfidence = *o.MinConfidence
		}
		if o.TemplateVersion != nil {
			req.Options.TemplateVersion = *o.TemplateVersion
		}
	}
	return req
}

func (n *Node) logOutcome(msg, reqID string, out spans.Outcome, in int) {
	n.logger.Debug(msg,
		zap.String("requestId", reqID),
		zap.String("mode", out.Mode.String()),
		zap.Bool("ok", out.OK),
		zap.Int("spansIn", in),
		zap.Int("spansOut", len(out.Result.Spans)),
		zap.Int("errors", len(out.Errors)))
}

func (n *Node) fail(w http.ResponseWriter, endpoint string, start time.Time, status int, reqID string, err error) {
	resp := ErrorResponse{Error: err.Error(), RequestID: reqID}
	writeJSON(w, status, resp)
	RecordRequestDuration(endpoint, strconv.Itoa(status), time.Since(start).Seconds())
}

// NewValidateResponse wraps a pipeline outcome for the wire.
func NewValidateResponse(out spans.Outcome, attempts int, reqID string) ValidateResponse {
	return ValidateResponse{
		OK:        out.OK,
		Result:    out.Result,
		Errors:    out.Errors,
		Mode:      out.Mode.String(),
		Attempts:  attempts,
		Stats:     out.Stats,
		RequestID: reqID,
	}
}

// decodeAnnotation checks and decodes the envelope carried by req.
func decodeAnnotation(req ValidateRequest) (schema.Envelope, error) {
	switch {
	case len(req.Annotation) > 0:
		return schema.Decode(req.Annotation)
	case req.Response != "":
		return annotate.ParseEnvelope(req.Response)
	default:
		return schema.Envelope{}, fmt.Errorf("%w: annotation or response is required", schema.ErrInvalidEnvelope)
	}
}

// checkEnvelope round-trips env through the wire schema so annotator output
// gets the same structural checks as caller input.
func checkEnvelope(env schema.Envelope) (schema.Envelope, error) {
	body, err := schema.Encode(env)
	if err != nil {
		return env, fmt.Errorf("encoding envelope: %w", err)
	}
	return schema.Decode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := decoder.NewStreamDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

// requestID returns the caller's request id, or a new one, and echoes it.
func requestID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	return id
}

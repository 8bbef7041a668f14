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

// Package client is a Go client for the promptspan HTTP API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/bytedance/sonic"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("promptspan: %d %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("promptspan: %d %s", e.StatusCode, e.Message)
}

// IsQueueFull reports whether err is the server shedding load.
func IsQueueFull(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

// PromptspanClient is a client for interacting with the promptspan API.
type PromptspanClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewPromptspanClient creates a new client. The baseURL should be the server
// address (e.g., "http://localhost:11435"); the /api prefix is appended.
func NewPromptspanClient(baseURL string, httpClient *http.Client) (*PromptspanClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PromptspanClient{
		httpClient: httpClient,
		baseURL:    u.String() + "/api",
	}, nil
}

// Validate checks an annotation against its source prompt. A response with
// OK false is returned without error; strict failures are data, not faults.
func (c *PromptspanClient) Validate(ctx context.Context, req promptspan.ValidateRequest) (*promptspan.ValidateResponse, error) {
	var resp promptspan.ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/validate", req, &resp, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Extract annotates text on the server and validates the result.
func (c *PromptspanClient) Extract(ctx context.Context, req promptspan.ExtractRequest) (*promptspan.ValidateResponse, error) {
	var resp promptspan.ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/extract", req, &resp, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chunk splits text into annotation-sized chunks.
func (c *PromptspanClient) Chunk(ctx context.Context, req promptspan.ChunkRequest) (*promptspan.ChunkResponse, error) {
	var resp promptspan.ChunkResponse
	if err := c.do(ctx, http.MethodPost, "/chunk", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Taxonomy lists the roles the server accepts.
func (c *PromptspanClient) Taxonomy(ctx context.Context) (*promptspan.TaxonomyResponse, error) {
	var resp promptspan.TaxonomyResponse
	if err := c.do(ctx, http.MethodGet, "/taxonomy", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version reports the server's build and pipeline versions.
func (c *PromptspanClient) Version(ctx context.Context) (*promptspan.VersionResponse, error) {
	var resp promptspan.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends body as JSON and decodes the reply into out. Statuses listed in
// accept decode like 200.
func (c *PromptspanClient) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && !slices.Contains(accept, resp.StatusCode) {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(promptspan.RequestIDHeader),
		}
		var errResp promptspan.ErrorResponse
		if sonic.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

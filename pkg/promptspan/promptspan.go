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

// Package promptspan serves the span validation pipeline over HTTP: raw
// annotations are validated against their source prompt, and prompts can be
// annotated by the built-in symbolic tagger and validated in one call.
package promptspan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/annotate"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/chunking"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/tagger"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/tokenizer"
	"go.uber.org/zap"
)

// Node holds the long-lived collaborators of the HTTP API.
type Node struct {
	logger *zap.Logger
	config Config

	tagger    *tagger.Tagger
	tokenizer tokenizer.Tokenizer
	chunker   *chunking.Chunker

	// annotator is the cached, chunk-aware symbolic annotator.
	annotator     annotate.Annotator
	annotatorName string

	// Request queue for backpressure control
	requestQueue    *RequestQueue
	annotationCache *AnnotationCache
}

// NewNode builds a node from config. Close releases its background work.
func NewNode(config Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lexicon := tagger.DefaultLexicon()
	if config.LexiconPath != "" {
		custom, err := tagger.LoadLexiconFile(config.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("loading lexicon %s: %w", config.LexiconPath, err)
		}
		lexicon.Merge(custom)
		logger.Info("Loaded custom lexicon",
			zap.String("path", config.LexiconPath),
			zap.Int("phrases", custom.Len()))
	}

	cacheTTL, err := parseDuration("cache_ttl", config.CacheTTL)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseDuration("request_timeout", config.RequestTimeout)
	if err != nil {
		return nil, err
	}

	tg := tagger.New(lexicon, logger.Named("tagger"))
	tk := tokenizer.New(config.Encoding, config.Performance.CharsPerToken, logger.Named("tokenizer"))

	chunkConfig := config.Chunking
	if chunkConfig.MaxTokensPerPass <= 0 {
		chunkConfig.MaxTokensPerPass = config.Performance.MaxTokensPerPass
	}
	chunker := chunking.NewChunker(chunkConfig, tk, logger.Named("chunker"))

	symbolic := annotate.NewSymbolicAnnotator(tg, logger.Named("symbolic"))
	chunked := annotate.NewChunkedAnnotator(symbolic, chunker, logger.Named("chunked"))
	annotationCache := NewAnnotationCache(cacheTTL, logger.Named("annotation-cache"))

	return &Node{
		logger:        logger,
		config:        config,
		tagger:        tg,
		tokenizer:     tk,
		chunker:       chunker,
		annotator:     annotationCache.Wrap(chunked, symbolic.Version()),
		annotatorName: symbolic.Version(),
		requestQueue: NewRequestQueue(RequestQueueConfig{
			MaxConcurrentRequests: config.MaxConcurrentRequests,
			MaxQueueSize:          config.MaxQueueSize,
			RequestTimeout:        requestTimeout,
		}, logger.Named("queue")),
		annotationCache: annotationCache,
	}, nil
}

// Close stops the annotation cache.
func (n *Node) Close() {
	if n.annotationCache != nil {
		n.annotationCache.Close()
	}
}

// Handler returns the HTTP API with health endpoints.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	mux.HandleFunc("GET /healthz", n.handleHealthz)
	mux.HandleFunc("GET /readyz", n.handleReadyz)

	mux.HandleFunc("POST /api/validate", n.handleApiValidate)
	mux.HandleFunc("POST /api/extract", n.handleApiExtract)
	mux.HandleFunc("POST /api/chunk", n.handleApiChunk)
	mux.HandleFunc("GET /api/taxonomy", n.handleApiTaxonomy)
	mux.HandleFunc("GET /api/version", n.handleApiVersion)

	return corsMiddleware(mux)
}

// corsMiddleware adds permissive CORS headers for the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsPromptspan serves the API until ctx is cancelled, then shuts down
// gracefully. If readyC is non-nil, it is closed once the server is
// accepting requests.
func RunAsPromptspan(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("promptspan")
	zl.Info("Starting promptspan node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	node, err := NewNode(config, zl)
	if err != nil {
		zl.Fatal("Failed to initialize node", zap.Error(err))
	}
	defer node.Close()

	srv := &http.Server{
		Addr:              u.Host,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Promptspan api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}

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

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Build information, set from main.
var (
	Version   = "dev"
	GitCommit = "none"
	BuildTime = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "promptspan",
	Short: "Span validation for video-generation prompts",
	Long: `promptspan corrects and validates span annotations of video-generation
prompts. Annotations from any annotator are re-anchored to the source text,
mapped onto the span taxonomy, de-overlapped, merged, filtered and capped.

Configuration is read from promptspan.yaml (current directory or
$HOME/.promptspan) and PROMPTSPAN_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		promptspan.Version = Version
		promptspan.GitCommit = GitCommit
		promptspan.BuildTime = BuildTime
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./promptspan.yaml or $HOME/.promptspan/promptspan.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-style", "terminal", "log style (terminal, json, logfmt, noop)")
	rootCmd.PersistentFlags().String("api-url", promptspan.DefaultConfig().ApiUrl, "address the API listens on")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))

	setDefaults(viper.GetViper(), promptspan.DefaultConfig())
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("promptspan")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.promptspan")
		}
	}

	viper.SetEnvPrefix("PROMPTSPAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", viper.ConfigFileUsed(), err)
			os.Exit(1)
		}
	}
}

// setDefaults registers every config key so that environment variables and
// config files can override nested settings individually.
func setDefaults(v *viper.Viper, d promptspan.Config) {
	v.SetDefault("api_url", d.ApiUrl)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("max_concurrent_requests", d.MaxConcurrentRequests)
	v.SetDefault("max_queue_size", d.MaxQueueSize)
	v.SetDefault("lexicon_path", d.LexiconPath)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("encoding", d.Encoding)

	v.SetDefault("policy.non_technical_word_limit", d.Policy.NonTechnicalWordLimit)
	v.SetDefault("policy.allow_overlap", d.Policy.AllowOverlap)

	v.SetDefault("options.max_spans", d.Options.MaxSpans)
	v.SetDefault("options.min_confidence", d.Options.MinConfidence)
	v.SetDefault("options.template_version", d.Options.TemplateVersion)

	v.SetDefault("performance.max_spans_absolute_limit", d.Performance.MaxSpansAbsoluteLimit)
	v.SetDefault("performance.chars_per_token", d.Performance.CharsPerToken)
	v.SetDefault("performance.max_tokens_per_pass", d.Performance.MaxTokensPerPass)

	v.SetDefault("chunking.max_words_per_chunk", d.Chunking.MaxWordsPerChunk)
	v.SetDefault("chunking.overlap_words", d.Chunking.OverlapWords)
	v.SetDefault("chunking.concurrency", d.Chunking.Concurrency)
	v.SetDefault("chunking.parallel", d.Chunking.Parallel)
	v.SetDefault("chunking.max_tokens_per_pass", d.Chunking.MaxTokensPerPass)
}

// loadConfig builds the node config from flags, environment and file.
func loadConfig(v *viper.Viper) (promptspan.Config, error) {
	var cfg promptspan.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

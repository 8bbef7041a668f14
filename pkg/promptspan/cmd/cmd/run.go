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
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the promptspan server",
	Long:  `Start the promptspan server for span validation, extraction and chunking.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&healthPort, "health-port", 4200, "health/metrics server port")
	runCmd.Flags().Int("max-concurrent-requests", promptspan.DefaultConfig().MaxConcurrentRequests, "requests processed at once (0 disables queueing)")
	runCmd.Flags().String("lexicon", "", "TOML lexicon merged over the built-in one")
	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
	mustBindPFlag("max_concurrent_requests", runCmd.Flags().Lookup("max-concurrent-requests"))
	mustBindPFlag("lexicon_path", runCmd.Flags().Lookup("lexicon"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as promptspan")

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	ready := &atomic.Bool{}
	ready.Store(false)
	readyC := make(chan struct{})

	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("Promptspan is ready")
	}()

	promptspan.RunAsPromptspan(ctx, logger, cfg, readyC)
	return nil
}

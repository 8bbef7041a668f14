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
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/antflydb/promptspan/pkg/client"
	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// errValidationFailed makes the process exit non-zero after the report is
// printed.
var errValidationFailed = errors.New("validation failed")

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().String("server", "", "promptspan server URL; empty runs the pipeline in-process")
	mustBindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	mustBindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func outputFormat() (string, error) {
	switch f := strings.ToLower(viper.GetString("output")); f {
	case "table", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", f)
	}
}

// remoteClient returns a client when --server is set.
func remoteClient() (*client.PromptspanClient, error) {
	server := viper.GetString("server")
	if server == "" {
		return nil, nil
	}
	return client.NewPromptspanClient(server, nil)
}

// localNode builds an in-process node from the loaded configuration.
func localNode() (*promptspan.Node, func(), error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()
	node, err := promptspan.NewNode(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return node, func() {
		node.Close()
		_ = logger.Sync()
	}, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-spans", 0, "override options.max_spans")
	cmd.Flags().Float64("min-confidence", 0, "override options.min_confidence")
	cmd.Flags().String("template-version", "", "override options.template_version")
	cmd.Flags().Int("word-limit", 0, "override policy.non_technical_word_limit")
	cmd.Flags().Bool("allow-overlap", false, "override policy.allow_overlap")
	cmd.Flags().Bool("stats", false, "print per-stage span counts")
}

// overridesFromFlags turns explicitly set override flags into request
// overrides. Unset flags leave the configured values alone.
func overridesFromFlags(flags *pflag.FlagSet) (*promptspan.PolicyOverride, *promptspan.OptionsOverride, error) {
	var (
		policy promptspan.PolicyOverride
		opts   promptspan.OptionsOverride
		err    error
	)
	setPolicy, setOpts := false, false
	if flags.Changed("word-limit") {
		v, e := flags.GetInt("word-limit")
		policy.NonTechnicalWordLimit, setPolicy, err = &v, true, errors.Join(err, e)
	}
	if flags.Changed("allow-overlap") {
		v, e := flags.GetBool("allow-overlap")
		policy.AllowOverlap, setPolicy, err = &v, true, errors.Join(err, e)
	}
	if flags.Changed("max-spans") {
		v, e := flags.GetInt("max-spans")
		opts.MaxSpans, setOpts, err = &v, true, errors.Join(err, e)
	}
	if flags.Changed("min-confidence") {
		v, e := flags.GetFloat64("min-confidence")
		if e == nil && (v < 0 || v > 1) {
			e = fmt.Errorf("min-confidence %v outside [0,1]", v)
		}
		opts.MinConfidence, setOpts, err = &v, true, errors.Join(err, e)
	}
	if flags.Changed("template-version") {
		v, e := flags.GetString("template-version")
		opts.TemplateVersion, setOpts, err = &v, true, errors.Join(err, e)
	}
	if err != nil {
		return nil, nil, err
	}

	var p *promptspan.PolicyOverride
	var o *promptspan.OptionsOverride
	if setPolicy {
		p = &policy
	}
	if setOpts {
		o = &opts
	}
	return p, o, nil
}

// printValidation reports resp and returns errValidationFailed when it holds
// strict errors.
func printValidation(w io.Writer, resp *promptspan.ValidateResponse, format string, showStats bool) error {
	if format == "json" {
		if err := writeJSON(w, resp); err != nil {
			return err
		}
	} else {
		printValidationTable(w, resp, showStats)
	}
	if !resp.OK {
		return errValidationFailed
	}
	return nil
}

func printValidationTable(w io.Writer, resp *promptspan.ValidateResponse, showStats bool) {
	rows := make([][]string, 0, len(resp.Result.Spans))
	for i, s := range resp.Result.Spans {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.Text,
			strconv.Itoa(s.Start),
			strconv.Itoa(s.End),
			string(s.Role),
			strconv.FormatFloat(s.Confidence, 'f', 2, 64),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"#", "Text", "Start", "End", "Role", "Confidence"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignRight},
	))

	status := "ok"
	if !resp.OK {
		status = "failed"
	}
	_, _ = fmt.Fprintf(w, "%s: %d spans, mode %s, attempts %d, version %s\n",
		status, len(resp.Result.Spans), resp.Mode, resp.Attempts, resp.Result.Meta.Version)
	if resp.Result.IsAdversarial {
		_, _ = fmt.Fprintln(w, "input flagged as adversarial")
	}

	if len(resp.Errors) > 0 {
		_, _ = fmt.Fprintln(w, "errors:")
		for _, e := range resp.Errors {
			_, _ = fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if notes := resp.Result.Meta.Notes; notes != "" {
		_, _ = fmt.Fprintln(w, "notes:")
		for n := range strings.SplitSeq(notes, spans.NoteSeparator) {
			_, _ = fmt.Fprintf(w, "  - %s\n", n)
		}
	}

	if showStats && len(resp.Stats) > 0 {
		rows := make([][]string, 0, len(resp.Stats))
		for _, st := range resp.Stats {
			rows = append(rows, []string{st.Stage, strconv.Itoa(st.In), strconv.Itoa(st.Out), strconv.Itoa(st.Dropped())})
		}
		_, _ = fmt.Fprintln(w, renderTable(
			[]string{"Stage", "In", "Out", "Dropped"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
		))
	}
}

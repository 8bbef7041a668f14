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

	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/annotate"
	"github.com/spf13/cobra"
)

var (
	validateSource     string
	validateAnnotation string
	validateAttempt    int
	validateLenient    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a span annotation against its prompt",
	Long: `Validate an annotation envelope against the prompt it annotates.

The annotation may be the bare JSON envelope or a model reply that wraps it in
a code fence or prose. The first attempt is strict and fails on any span that
cannot be placed; --lenient (or --attempt 2) drops such spans with a note.

Examples:
  # Validate an annotation file
  promptspan validate --source prompt.txt --annotation spans.json

  # Read the model reply from stdin and drop bad spans
  model-cli ask < prompt.txt | promptspan validate -s prompt.txt -a - --lenient

  # Validate against a running server
  promptspan validate -s prompt.txt -a spans.json --server http://localhost:11435`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateSource, "source", "s", "", "prompt text file (- for stdin)")
	validateCmd.Flags().StringVarP(&validateAnnotation, "annotation", "a", "", "annotation file (- for stdin)")
	validateCmd.Flags().IntVar(&validateAttempt, "attempt", 1, "attempt number; attempts after the first are lenient")
	validateCmd.Flags().BoolVar(&validateLenient, "lenient", false, "drop invalid spans instead of failing")
	addOverrideFlags(validateCmd)
	_ = validateCmd.MarkFlagRequired("source")
	_ = validateCmd.MarkFlagRequired("annotation")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateSource == "-" && validateAnnotation == "-" {
		return errors.New("only one of --source and --annotation can read stdin")
	}
	format, err := outputFormat()
	if err != nil {
		return err
	}
	source, err := readInput(validateSource, cmd.InOrStdin())
	if err != nil {
		return err
	}
	annotation, err := readInput(validateAnnotation, cmd.InOrStdin())
	if err != nil {
		return err
	}
	policy, opts, err := overridesFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	showStats, _ := cmd.Flags().GetBool("stats")

	attempt := max(1, validateAttempt)
	if validateLenient {
		attempt = max(attempt, 2)
	}

	c, err := remoteClient()
	if err != nil {
		return err
	}
	var resp *promptspan.ValidateResponse
	if c != nil {
		resp, err = c.Validate(cmd.Context(), promptspan.ValidateRequest{
			Source:   source,
			Response: annotation,
			Attempt:  attempt,
			Policy:   policy,
			Options:  opts,
		})
		if err != nil {
			return err
		}
	} else {
		env, err := annotate.ParseEnvelope(annotation)
		if err != nil {
			return fmt.Errorf("reading annotation: %w", err)
		}
		node, done, err := localNode()
		if err != nil {
			return err
		}
		defer done()
		r := promptspan.NewValidateResponse(node.Validate(env, source, attempt, policy, opts), 1, "")
		resp = &r
	}
	return printValidation(cmd.OutOrStdout(), resp, format, showStats)
}

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
	"strings"

	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	extractFile    string
	extractLenient bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Tag a prompt with the built-in lexicon and validate the spans",
	Long: `Annotate a prompt with the symbolic tagger and run the result through the
validation pipeline. Long prompts are annotated in chunks.

The prompt is taken from the arguments, --file, or stdin.

Examples:
  promptspan extract "A red fox running through a snowy forest at golden hour"
  promptspan extract -f prompt.txt -o json
  cat prompt.txt | promptspan extract --lexicon studio.toml`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "prompt text file (- for stdin)")
	extractCmd.Flags().BoolVar(&extractLenient, "lenient", false, "skip the strict attempt")
	extractCmd.Flags().String("lexicon", "", "TOML lexicon merged over the built-in one")
	addOverrideFlags(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	text, err := promptText(cmd, args, extractFile)
	if err != nil {
		return err
	}
	policy, opts, err := overridesFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	showStats, _ := cmd.Flags().GetBool("stats")
	if cmd.Flags().Changed("lexicon") {
		lexicon, _ := cmd.Flags().GetString("lexicon")
		viper.Set("lexicon_path", lexicon)
	}

	c, err := remoteClient()
	if err != nil {
		return err
	}
	var resp *promptspan.ValidateResponse
	if c != nil {
		resp, err = c.Extract(cmd.Context(), promptspan.ExtractRequest{
			Text:    text,
			Lenient: extractLenient,
			Policy:  policy,
			Options: opts,
		})
		if err != nil {
			return err
		}
	} else {
		node, done, err := localNode()
		if err != nil {
			return err
		}
		defer done()
		out, attempts, err := node.Extract(cmd.Context(), text, extractLenient, policy, opts)
		if err != nil {
			return err
		}
		r := promptspan.NewValidateResponse(out, attempts, "")
		resp = &r
	}
	return printValidation(cmd.OutOrStdout(), resp, format, showStats)
}

// promptText reads the prompt from args, then file, then stdin.
func promptText(cmd *cobra.Command, args []string, file string) (string, error) {
	var (
		text string
		err  error
	)
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case file != "":
		text, err = readInput(file, cmd.InOrStdin())
	default:
		text, err = readInput("-", cmd.InOrStdin())
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("prompt text is empty")
	}
	return text, nil
}

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
	"strconv"

	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/spf13/cobra"
)

var (
	chunkFile     string
	chunkMaxWords int
	chunkOverlap  int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [text]",
	Short: "Show how a prompt is split for annotation",
	Long: `Split a prompt into sentence-aligned chunks the way long prompts are split
before annotation.

Examples:
  promptspan chunk -f long-prompt.txt
  promptspan chunk --max-words 50 --overlap 5 -f long-prompt.txt -o json`,
	RunE: runChunk,
}

func init() {
	rootCmd.AddCommand(chunkCmd)

	chunkCmd.Flags().StringVarP(&chunkFile, "file", "f", "", "prompt text file (- for stdin)")
	chunkCmd.Flags().IntVar(&chunkMaxWords, "max-words", 0, "words per chunk (default from chunking.max_words_per_chunk)")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", 0, "words repeated between chunks (default from chunking.overlap_words)")
}

func runChunk(cmd *cobra.Command, args []string) error {
	if chunkMaxWords < 0 || chunkOverlap < 0 {
		return errors.New("--max-words and --overlap must not be negative")
	}
	format, err := outputFormat()
	if err != nil {
		return err
	}
	text, err := promptText(cmd, args, chunkFile)
	if err != nil {
		return err
	}

	c, err := remoteClient()
	if err != nil {
		return err
	}
	var resp *promptspan.ChunkResponse
	if c != nil {
		resp, err = c.Chunk(cmd.Context(), promptspan.ChunkRequest{
			Text:         text,
			MaxWords:     chunkMaxWords,
			OverlapWords: chunkOverlap,
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
		r := node.Chunk(text, chunkMaxWords, chunkOverlap)
		resp = &r
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printChunks(cmd.OutOrStdout(), resp)
	return nil
}

func printChunks(w io.Writer, resp *promptspan.ChunkResponse) {
	rows := make([][]string, 0, len(resp.Chunks))
	for i, ch := range resp.Chunks {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(ch.StartOffset),
			strconv.Itoa(ch.EndOffset),
			strconv.Itoa(ch.WordCount),
			ch.Text,
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"#", "Start", "End", "Words", "Text"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	_, _ = fmt.Fprintf(w, "%d words, %d tokens, needs chunking: %t\n", resp.WordCount, resp.TokenCount, resp.NeedsChunking)
}

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
	"fmt"
	"strconv"

	"github.com/antflydb/promptspan/pkg/promptspan"
	"github.com/spf13/cobra"
)

var taxonomyTechnical bool

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "List the span roles",
	Long: `List every role an annotation may use, grouped under its parent category.

Examples:
  promptspan taxonomy
  promptspan taxonomy --technical`,
	Args: cobra.NoArgs,
	RunE: runTaxonomy,
}

func init() {
	rootCmd.AddCommand(taxonomyCmd)
	taxonomyCmd.Flags().BoolVar(&taxonomyTechnical, "technical", false, "only list technical roles")
}

func runTaxonomy(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}

	c, err := remoteClient()
	if err != nil {
		return err
	}
	var resp *promptspan.TaxonomyResponse
	if c != nil {
		if resp, err = c.Taxonomy(cmd.Context()); err != nil {
			return err
		}
	} else {
		r := promptspan.BuildTaxonomyResponse()
		resp = &r
	}

	if taxonomyTechnical {
		roles := resp.Roles[:0:0]
		for _, r := range resp.Roles {
			if r.Technical {
				roles = append(roles, r)
			}
		}
		resp.Roles = roles
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	rows := make([][]string, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		rows = append(rows, []string{r.Role, r.Parent, r.Attribute, strconv.Itoa(r.Depth), strconv.FormatBool(r.Technical)})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Role", "Parent", "Attribute", "Depth", "Technical"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return err
}

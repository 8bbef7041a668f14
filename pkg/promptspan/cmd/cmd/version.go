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

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the client version, and the server version when --server is set.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(w, "promptspan %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)

		c, err := remoteClient()
		if err != nil || c == nil {
			return err
		}
		v, err := c.Version(cmd.Context())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "server %s (commit %s, built %s), annotator %s, template %s\n",
			v.Version, v.GitCommit, v.BuildTime, v.Annotator, v.TemplateVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

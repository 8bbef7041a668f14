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

// Command promptspan validates span annotations of video-generation prompts.
//
// Usage:
//
//	promptspan run                                  # Start the server
//	promptspan extract "A red fox at golden hour"   # Tag and validate a prompt
//	promptspan validate -s prompt.txt -a spans.json # Validate an annotation
//	promptspan chunk -f long-prompt.txt             # Show annotation chunks
//	promptspan taxonomy                             # List span roles
package main

import (
	"github.com/antflydb/promptspan/pkg/promptspan/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.Version = version
	cmd.GitCommit = commit
	cmd.BuildTime = date
	cmd.Execute()
}

// Copyright 2025 Tom Barlow
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/servicenow-mcp/internal/commands/mcpserver"
	"github.com/tombee/servicenow-mcp/internal/commands/shared"
	"github.com/tombee/servicenow-mcp/internal/commands/tools"
	versioncmd "github.com/tombee/servicenow-mcp/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.SetVersion(version, commit, buildDate)

	rootCmd := &cobra.Command{
		Use:   "servicenow-mcp",
		Short: "MCP server for ServiceNow ITSM automation",
		Long: `servicenow-mcp exposes ServiceNow ITSM operations to AI assistants over the
Model Context Protocol: incidents, change requests, users and groups,
knowledge articles, service requests, and generic table access.

Credentials are read from the environment (SERVICENOW_INSTANCE,
SERVICENOW_USERNAME, SERVICENOW_PASSWORD) or from a YAML/JSON file pointed to
by SERVICENOW_CONFIG_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	shared.RegisterGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(mcpserver.NewCommand())
	rootCmd.AddCommand(tools.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

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

package tools

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/servicenow-mcp/internal/commands/shared"
	"github.com/tombee/servicenow-mcp/internal/mcp/server"
)

// NewCommand creates the list-tools command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List the tools exposed by the MCP server",
		Long:  `Display the name and description of every tool the MCP server registers, without connecting to a ServiceNow instance.`,
		RunE:  runListTools,
	}
}

func runListTools(cmd *cobra.Command, args []string) error {
	srv, err := server.NewServer(server.ServerConfig{})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	tools := srv.ListTools()

	if shared.GetJSON() {
		type toolJSON struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		out := make([]toolJSON, 0, len(tools))
		for _, t := range tools {
			out = append(out, toolJSON{Name: t.Name, Description: t.Description})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal tool list: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(shared.Header.Render(fmt.Sprintf("Available tools (%d)", len(tools))))
	for _, t := range tools {
		cmd.Printf("  %s\n", shared.Bold.Render(t.Name))
		cmd.Printf("    %s\n", shared.RenderLabel(t.Description))
	}
	return nil
}

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

package mcpserver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/servicenow-mcp/internal/commands/shared"
	"github.com/tombee/servicenow-mcp/internal/mcp/server"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var (
		logLevel    string
		sse         bool
		host        string
		port        int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ServiceNow MCP server",
		Long: `Start the ServiceNow MCP (Model Context Protocol) server.

The server exposes ServiceNow ITSM operations as tools that AI assistants can
use to manage incidents, change requests, users, knowledge articles, and
service requests, plus generic record access for any table.

The server runs in stdio mode by default, which is suitable for integration
with AI assistants via their MCP configuration:

  {
    "mcpServers": {
      "servicenow": {
        "command": "servicenow-mcp",
        "args": ["serve"],
        "env": {
          "SERVICENOW_INSTANCE": "https://your-instance.service-now.com",
          "SERVICENOW_USERNAME": "api.user",
          "SERVICENOW_PASSWORD": "..."
        }
      }
    }
  }

With --sse the server listens over HTTP (Server-Sent Events) instead, and
--metrics-addr additionally serves Prometheus transport metrics at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(logLevel, sse, fmt.Sprintf("%s:%d", host, port), metricsAddr)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging verbosity (debug, info, warn, error)")
	cmd.Flags().BoolVar(&sse, "sse", false, "Serve over HTTP (SSE) instead of stdio")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Bind address for SSE mode")
	cmd.Flags().IntVar(&port, "port", 8089, "Listen port for SSE mode")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address for SSE mode (e.g. :9090)")

	return cmd
}

func runServer(logLevel string, sse bool, addr, metricsAddr string) error {
	versionStr, _, _ := shared.GetVersion()

	srv, err := server.NewServer(server.ServerConfig{
		Name:     "servicenow-mcp",
		Version:  versionStr,
		LogLevel: logLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Cancel on SIGINT/SIGTERM so the shared client closes and the SSE
	// listener drains before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sse {
		return srv.RunSSE(ctx, addr, metricsAddr)
	}
	return srv.Run(ctx)
}

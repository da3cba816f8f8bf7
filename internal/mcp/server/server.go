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

// Package server implements the MCP server that exposes ServiceNow ITSM
// operations as tools.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/servicenow-mcp/internal/config"
	logpkg "github.com/tombee/servicenow-mcp/internal/log"
	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const serverInstructions = "You are connected to a ServiceNow instance via the ServiceNow MCP " +
	"server. Use the available tools to query, create, and update ServiceNow " +
	"records. Tools are grouped by module (incident, change, problem, table, " +
	"cmdb, catalog, user, knowledge, request). Prefer read-only tools when " +
	"gathering information."

// Server wraps the MCP server and provides ServiceNow tools.
type Server struct {
	mcpServer   *server.MCPServer
	name        string
	version     string
	rateLimiter *RateLimiter
	logger      *slog.Logger
	catalog     []toolInfo
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name (default: "servicenow-mcp")
	Name string

	// Version is the server version
	Version string

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// CallsPerMinute caps total tool calls (default: 120)
	CallsPerMinute int

	// WritesPerMinute caps record-mutating tool calls (default: 30)
	WritesPerMinute int

	// Logger overrides the logger built from the environment.
	Logger *slog.Logger
}

// NewServer creates a new MCP server instance with all ServiceNow tools
// and resources registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "servicenow-mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.CallsPerMinute == 0 {
		cfg.CallsPerMinute = 120
	}
	if cfg.WritesPerMinute == 0 {
		cfg.WritesPerMinute = 30
	}

	logger := cfg.Logger
	if logger == nil {
		logCfg := logpkg.FromEnv()
		if cfg.LogLevel != "" {
			logCfg.Level = cfg.LogLevel
		}
		logger = logpkg.New(logCfg)
	}
	logger = logpkg.WithComponent(logger, "mcp-server")

	mcpServer := server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithInstructions(serverInstructions),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s := &Server{
		mcpServer:   mcpServer,
		name:        cfg.Name,
		version:     cfg.Version,
		rateLimiter: NewRateLimiter(cfg.CallsPerMinute, cfg.WritesPerMinute),
		logger:      logger,
	}

	s.registerIncidentTools()
	s.registerChangeTools()
	s.registerProblemTools()
	s.registerTableTools()
	s.registerCMDBTools()
	s.registerCatalogTools()
	s.registerUserTools()
	s.registerKnowledgeTools()
	s.registerRequestTools()
	s.registerResources()

	return s, nil
}

// openSharedClient loads configuration, opens the process-wide shared
// client, and publishes it. The returned cleanup clears the publication
// and closes the client; it must run on every exit path.
//
// Missing credentials are not fatal: tools then construct their own
// client per call (and report the configuration error to the caller),
// matching the warn-don't-crash startup of the original server.
func (s *Server) openSharedClient() (func(), error) {
	settings, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			s.logger.Warn("ServiceNow credentials not configured; shared client not created",
				slog.String("error", err.Error()))
			return func() {}, nil
		}
		return nil, err
	}

	s.logger.Debug("credentials loaded",
		slog.String("instance", settings.Instance),
		slog.String("username", settings.Username),
		slog.String("password", logpkg.SanitizePassword(settings.Password)),
	)

	client, err := servicenow.NewClient(servicenow.ClientConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("creating ServiceNow client: %w", err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("opening ServiceNow client: %w", err)
	}

	servicenow.Publish(client)
	s.logger.Info("shared ServiceNow client opened", slog.String("instance", client.BaseURL()))

	return func() {
		servicenow.Publish(nil)
		if err := client.Close(); err != nil {
			s.logger.Warn("closing shared client", slog.String("error", err.Error()))
		}
		s.logger.Info("shared ServiceNow client closed")
	}, nil
}

// Run starts the MCP server on stdio and blocks until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	cleanup, err := s.openSharedClient()
	if err != nil {
		return err
	}
	defer cleanup()

	s.logger.Info("starting ServiceNow MCP server", slog.String("version", s.version))
	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// RunSSE starts the MCP server over SSE (HTTP) on addr. When
// metricsAddr is non-empty, Prometheus transport metrics are served on
// it at /metrics.
func (s *Server) RunSSE(ctx context.Context, addr, metricsAddr string) error {
	cleanup, err := s.openSharedClient()
	if err != nil {
		return err
	}
	defer cleanup()

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			s.logger.Info("metrics listening", slog.String("addr", metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
	}

	sse := server.NewSSEServer(s.mcpServer)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("SSE shutdown", slog.String("error", err.Error()))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	s.logger.Info("starting ServiceNow MCP server (SSE)",
		slog.String("version", s.version),
		slog.String("addr", addr),
	)
	if err := sse.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP SSE server error: %w", err)
	}
	return nil
}

// ListTools returns the registered tools in registration order, for
// the list-tools command.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, 0, len(s.catalog))
	for _, t := range s.catalog {
		out = append(out, ToolInfo{Name: t.name, Description: t.description})
	}
	return out
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	logpkg "github.com/tombee/servicenow-mcp/internal/log"
	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

// toolInfo records a registered tool for the list-tools command.
type toolInfo struct {
	name        string
	description string
	write       bool
}

// addTool registers a tool with rate limiting and call logging applied
// around the handler. Write tools consume the (smaller) write budget in
// addition to the overall call budget.
func (s *Server) addTool(tool mcp.Tool, write bool, handler server.ToolHandlerFunc) {
	s.catalog = append(s.catalog, toolInfo{name: tool.Name, description: tool.Description, write: write})

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			return errorResponse("Rate limit exceeded. Please try again later."), nil
		}
		if write && !s.rateLimiter.AllowWrite() {
			return errorResponse("Rate limit exceeded for record-modifying tools. Please try again later."), nil
		}

		start := time.Now()
		result, err := handler(ctx, request)
		s.logger.Debug("tool call",
			slog.String(logpkg.ToolKey, tool.Name),
			slog.Int64(logpkg.DurationKey, time.Since(start).Milliseconds()),
			slog.Bool("isError", result != nil && result.IsError),
		)
		return result, err
	})
}

// snowJSON acquires a client lease, issues one JSON request, and
// renders the decoded result (or the typed error) as a tool response.
// This is the whole body of most tools.
func snowJSON(ctx context.Context, method, path string, body any, query url.Values) (*mcp.CallToolResult, error) {
	lease, err := servicenow.Acquire()
	if err != nil {
		return toolError(err), nil
	}
	defer lease.Release()

	result, err := lease.Client().RequestJSON(ctx, method, path, body, query)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResponse(result), nil
}

// snowRaw is snowJSON for opaque byte bodies (file uploads).
func snowRaw(ctx context.Context, method, path string, data []byte, query url.Values, headers map[string]string) (*mcp.CallToolResult, error) {
	lease, err := servicenow.Acquire()
	if err != nil {
		return toolError(err), nil
	}
	defer lease.Release()

	result, err := lease.Client().RequestRaw(ctx, method, path, data, query, headers)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResponse(result), nil
}

// toolError converts any error into the uniform user-visible payload:
// kind, message, and optional details. Typed transport errors keep
// their taxonomy tag; anything else is reported as "internal".
func toolError(err error) *mcp.CallToolResult {
	payload := map[string]any{
		"error":   "internal",
		"message": err.Error(),
	}
	if se, ok := servicenow.AsError(err); ok {
		payload["error"] = string(se.Kind)
		payload["message"] = se.Message
		if se.Details != "" {
			payload["details"] = se.Details
		}
		if se.StatusCode != 0 {
			payload["status_code"] = se.StatusCode
		}
		if se.RetryAfter > 0 {
			payload["retry_after"] = se.RetryAfter
		}
	}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(encoded))
}

// errorResponse creates a plain-text tool error.
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// jsonResponse renders a decoded ServiceNow document as tool output.
func jsonResponse(v any) *mcp.CallToolResult {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(encoded))
}

// listQuery builds the common sysparm paging parameters.
func listQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("sysparm_limit", fmt.Sprintf("%d", limit))
	q.Set("sysparm_offset", fmt.Sprintf("%d", offset))
	return q
}

// joinFields renders a field list as the comma-separated form
// sysparm_fields expects.
func joinFields(fields []string) string {
	return strings.Join(fields, ",")
}

// stringSlice coerces a JSON array argument into []string, ignoring
// non-string members.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

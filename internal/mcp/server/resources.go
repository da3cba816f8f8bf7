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
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

// registerResources exposes server metadata and direct record lookups
// as MCP resources, alongside the tool surface.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"mcp://servicenow",
		"ServiceNow MCP Server",
		mcp.WithResourceDescription("Server capabilities overview"),
		mcp.WithMIMEType("application/json"),
	), s.handleServerInfoResource)

	records := []struct {
		template    string
		name        string
		description string
		path        string
	}{
		{"servicenow://incident/{sys_id}", "Incident", "A ServiceNow incident by sys_id", incidentTable},
		{"servicenow://change/{sys_id}", "Change Request", "A ServiceNow change request by sys_id", changeTable},
		{"servicenow://kb/{sys_id}", "Knowledge Article", "A ServiceNow knowledge article by sys_id", kbArticleTable},
		{"servicenow://user/{sys_id}", "User", "A ServiceNow user by sys_id", userTable},
		{"servicenow://cmdb/{sys_id}", "Configuration Item", "A ServiceNow CMDB configuration item by sys_id", servicenow.TableAPI + "/cmdb_ci"},
	}
	for _, r := range records {
		s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(
			r.template,
			r.name,
			mcp.WithTemplateDescription(r.description),
			mcp.WithTemplateMIMEType("application/json"),
		), recordResourceHandler(r.path))
	}

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(
		"servicenow://incident/number/{number}",
		"Incident by Number",
		mcp.WithTemplateDescription("A ServiceNow incident by number (e.g. INC0010107)"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.handleIncidentByNumberResource)
}

func (s *Server) handleServerInfoResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	info := map[string]any{
		"name":        s.name,
		"version":     s.version,
		"description": "MCP server for ServiceNow ITSM automation",
		"modules": []string{
			"incident_management", "change_management", "problem_management",
			"table_management", "cmdb_management", "service_catalog",
			"user_management", "kb_management", "request_management",
		},
	}
	encoded, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      request.Params.URI,
		MIMEType: "application/json",
		Text:     string(encoded),
	}}, nil
}

// recordResourceHandler builds a handler that fetches a single record
// from the given Table API path, keyed by the last URI segment.
func recordResourceHandler(path string) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sysID := lastURISegment(request.Params.URI)
		if sysID == "" {
			return nil, fmt.Errorf("missing sys_id in resource URI %q", request.Params.URI)
		}
		return fetchRecordResource(ctx, request.Params.URI, path+"/"+sysID, nil)
	}
}

func (s *Server) handleIncidentByNumberResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	number := lastURISegment(request.Params.URI)
	if number == "" {
		return nil, fmt.Errorf("missing number in resource URI %q", request.Params.URI)
	}
	q := url.Values{}
	q.Set("sysparm_query", "number="+number)
	q.Set("sysparm_limit", "1")
	return fetchRecordResource(ctx, request.Params.URI, incidentTable, q)
}

func fetchRecordResource(ctx context.Context, uri, path string, query url.Values) ([]mcp.ResourceContents, error) {
	lease, err := servicenow.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	result, err := lease.Client().RequestJSON(ctx, "GET", path, nil, query)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(encoded),
	}}, nil
}

func lastURISegment(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return uri[idx+1:]
}

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
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const ciRelationTable = servicenow.TableAPI + "/cmdb_rel_ci"

func (s *Server) registerCMDBTools() {
	s.addTool(mcp.Tool{
		Name:        "list_ci_classes",
		Description: "List CMDB CI classes by querying sys_db_object for cmdb_ci tables.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filter": map[string]interface{}{
					"type":        "string",
					"description": "A search term to filter CI class names (e.g. 'server', 'network')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of CI classes to return",
					"default":     50,
				},
			},
		},
	}, false, s.handleListCIClasses)

	s.addTool(mcp.Tool{
		Name:        "get_ci",
		Description: "Retrieve the full details of a single Configuration Item by its sys_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the Configuration Item to retrieve",
				},
				"ci_class": map[string]interface{}{
					"type":        "string",
					"description": "The CMDB class table name (e.g. 'cmdb_ci_server', 'cmdb_ci_computer')",
					"default":     "cmdb_ci",
				},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetCI)

	s.addTool(mcp.Tool{
		Name:        "list_cis",
		Description: "List Configuration Items from a CMDB class table with query and pagination support.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ci_class": map[string]interface{}{
					"type":        "string",
					"description": "The CMDB class table name (e.g. 'cmdb_ci_server')",
					"default":     "cmdb_ci",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "An encoded ServiceNow query string to filter CIs",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of CIs to return",
					"default":     10,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Starting record number for pagination",
					"default":     0,
				},
			},
		},
	}, false, s.handleListCIs)

	s.addTool(mcp.Tool{
		Name:        "create_ci",
		Description: "Create a new Configuration Item in a CMDB class table.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ci_class": map[string]interface{}{
					"type":        "string",
					"description": "The CMDB class table to create the CI in (e.g. 'cmdb_ci_server')",
					"default":     "cmdb_ci",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "The name of the Configuration Item",
				},
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Additional fields to set on the CI record",
				},
			},
			Required: []string{"name"},
		},
	}, true, s.handleCreateCI)

	s.addTool(mcp.Tool{
		Name:        "update_ci",
		Description: "Update an existing Configuration Item in a CMDB class table.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ci_class": map[string]interface{}{
					"type":        "string",
					"description": "The CMDB class table containing the CI",
					"default":     "cmdb_ci",
				},
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the CI to update",
				},
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Field names and values to update",
				},
			},
			Required: []string{"sys_id", "data"},
		},
	}, true, s.handleUpdateCI)

	s.addTool(mcp.Tool{
		Name:        "get_ci_relationships",
		Description: "Retrieve all relationships for a Configuration Item, both parent and child, from cmdb_rel_ci.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the CI whose relationships to find",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of relationship records to return",
					"default":     20,
				},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetCIRelationships)
}

func (s *Server) handleListCIClasses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryParts := []string{"nameSTARTSWITHcmdb_ci"}
	if filter := request.GetString("filter", ""); filter != "" {
		queryParts = append(queryParts, "nameLIKE"+filter+"^ORlabelLIKE"+filter)
	}

	q := url.Values{}
	q.Set("sysparm_query", strings.Join(queryParts, "^"))
	q.Set("sysparm_fields", "name,label,super_class")
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 50)))
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/sys_db_object", nil, q)
}

func (s *Server) handleGetCI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	ciClass := request.GetString("ci_class", "cmdb_ci")
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/"+ciClass+"/"+sysID, nil, nil)
}

func (s *Server) handleListCIs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ciClass := request.GetString("ci_class", "cmdb_ci")

	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	if query := request.GetString("query", ""); query != "" {
		q.Set("sysparm_query", query)
	}
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/"+ciClass, nil, q)
}

func (s *Server) handleCreateCI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}
	ciClass := request.GetString("ci_class", "cmdb_ci")

	body := map[string]any{"name": name}
	if data, ok := request.GetArguments()["data"].(map[string]any); ok {
		for k, v := range data {
			body[k] = v
		}
	}
	return snowJSON(ctx, "POST", servicenow.TableAPI+"/"+ciClass, body, nil)
}

func (s *Server) handleUpdateCI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	ciClass := request.GetString("ci_class", "cmdb_ci")
	data, ok := request.GetArguments()["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return errorResponse("Missing or invalid 'data' argument"), nil
	}
	return snowJSON(ctx, "PATCH", servicenow.TableAPI+"/"+ciClass+"/"+sysID, data, nil)
}

func (s *Server) handleGetCIRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	q := url.Values{}
	q.Set("sysparm_query", "parent="+sysID+"^ORchild="+sysID)
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 20)))
	return snowJSON(ctx, "GET", ciRelationTable, nil, q)
}

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

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const problemTable = servicenow.TableAPI + "/problem"

func (s *Server) registerProblemTools() {
	s.addTool(mcp.Tool{
		Name:        "create_problem",
		Description: "Create a new problem record.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"short_description": map[string]interface{}{
					"type":        "string",
					"description": "A brief, one-line summary of the problem",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "A detailed description of the problem",
				},
				"impact": map[string]interface{}{
					"type":        "string",
					"description": "Impact of the problem (1-High, 2-Medium, 3-Low)",
					"default":     "3",
				},
				"urgency": map[string]interface{}{
					"type":        "string",
					"description": "Urgency of the problem (1-High, 2-Medium, 3-Low)",
					"default":     "3",
				},
				"assignment_group": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the group to assign the problem to",
				},
				"assigned_to": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the user to assign the problem to",
				},
			},
			Required: []string{"short_description"},
		},
	}, true, s.handleCreateProblem)

	s.addTool(mcp.Tool{
		Name:        "update_problem",
		Description: "Update fields on an existing problem record.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the problem to update",
				},
				"short_description": map[string]interface{}{"type": "string", "description": "Updated summary"},
				"description":       map[string]interface{}{"type": "string", "description": "Updated detailed description"},
				"impact":            map[string]interface{}{"type": "string", "description": "Updated impact (1-High, 2-Medium, 3-Low)"},
				"urgency":           map[string]interface{}{"type": "string", "description": "Updated urgency (1-High, 2-Medium, 3-Low)"},
				"assignment_group":  map[string]interface{}{"type": "string", "description": "Updated assignment group sys_id"},
				"assigned_to":       map[string]interface{}{"type": "string", "description": "Updated assigned user sys_id"},
				"state": map[string]interface{}{
					"type":        "string",
					"description": "New state ('1' New, '2' Assess, '3' Root Cause Analysis, '4' Fix in Progress, '6' Resolved, '7' Closed)",
				},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateProblem)

	s.addTool(mcp.Tool{
		Name:        "list_problems",
		Description: "List problem records with an optional encoded query and pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "An encoded ServiceNow query string to filter problems",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of problems to return",
					"default":     10,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Starting record number for pagination",
					"default":     0,
				},
			},
		},
	}, false, s.handleListProblems)

	s.addTool(mcp.Tool{
		Name:        "get_problem",
		Description: "Retrieve the full details of a single problem record by its sys_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the problem to retrieve",
				},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetProblem)

	s.addTool(mcp.Tool{
		Name:        "create_known_error",
		Description: "Mark an existing problem as a Known Error and record its workaround.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the problem to mark as a Known Error",
				},
				"workaround": map[string]interface{}{
					"type":        "string",
					"description": "The workaround description for the known error",
				},
			},
			Required: []string{"sys_id", "workaround"},
		},
	}, true, s.handleCreateKnownError)
}

func (s *Server) handleCreateProblem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shortDescription, err := request.RequireString("short_description")
	if err != nil {
		return errorResponse("Missing or invalid 'short_description' argument"), nil
	}

	body := map[string]any{
		"short_description": shortDescription,
		"impact":            request.GetString("impact", "3"),
		"urgency":           request.GetString("urgency", "3"),
	}
	for _, field := range []string{"description", "assignment_group", "assigned_to"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}

	return snowJSON(ctx, "POST", problemTable, body, nil)
}

func (s *Server) handleUpdateProblem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{
		"short_description", "description", "impact", "urgency",
		"assignment_group", "assigned_to", "state",
	} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide at least one updatable field",
		}), nil
	}

	return snowJSON(ctx, "PATCH", problemTable+"/"+sysID, body, nil)
}

func (s *Server) handleListProblems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	if query := request.GetString("query", ""); query != "" {
		q.Set("sysparm_query", query)
	}
	return snowJSON(ctx, "GET", problemTable, nil, q)
}

func (s *Server) handleGetProblem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	return snowJSON(ctx, "GET", problemTable+"/"+sysID, nil, nil)
}

func (s *Server) handleCreateKnownError(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	workaround, err := request.RequireString("workaround")
	if err != nil {
		return errorResponse("Missing or invalid 'workaround' argument"), nil
	}

	body := map[string]any{
		"known_error": "true",
		"work_around": workaround,
	}
	return snowJSON(ctx, "PATCH", problemTable+"/"+sysID, body, nil)
}

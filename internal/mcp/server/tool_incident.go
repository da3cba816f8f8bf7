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

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const incidentTable = servicenow.TableAPI + "/incident"

func (s *Server) registerIncidentTools() {
	s.addTool(mcp.Tool{
		Name:        "create_incident",
		Description: "Create a new incident in the ServiceNow instance.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"short_description": map[string]interface{}{
					"type":        "string",
					"description": "A brief, one-line summary of the incident",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "A detailed description of the incident",
				},
				"caller_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the user reporting the incident",
				},
				"urgency": map[string]interface{}{
					"type":        "string",
					"description": "Urgency of the incident (1-High, 2-Medium, 3-Low)",
					"default":     "3",
				},
				"impact": map[string]interface{}{
					"type":        "string",
					"description": "Impact of the incident (1-High, 2-Medium, 3-Low)",
					"default":     "3",
				},
				"assignment_group": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the group to assign the incident to",
				},
			},
			Required: []string{"short_description"},
		},
	}, true, s.handleCreateIncident)

	s.addTool(mcp.Tool{
		Name:        "get_incident",
		Description: "Retrieve the full details of a single incident by its sys_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique system ID (sys_id) of the incident",
				},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetIncident)

	s.addTool(mcp.Tool{
		Name:        "get_incident_by_number",
		Description: "Retrieve an incident by its human-readable number (e.g. INC0010107).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"number": map[string]interface{}{
					"type":        "string",
					"description": "The incident number (e.g. INC0010107)",
				},
			},
			Required: []string{"number"},
		},
	}, false, s.handleGetIncidentByNumber)

	s.addTool(mcp.Tool{
		Name:        "list_incidents",
		Description: "List incidents with an optional encoded query, pagination, and field selection.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "An encoded ServiceNow query string (e.g. 'active=true^priority=1')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of incidents to return",
					"default":     10,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Starting record number for pagination",
					"default":     0,
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Specific fields to return (e.g. ['number', 'short_description'])",
				},
			},
		},
	}, false, s.handleListIncidents)

	s.addTool(mcp.Tool{
		Name:        "list_recent_incidents",
		Description: "List the most recently created incidents.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of recent incidents to return",
					"default":     10,
				},
			},
		},
	}, false, s.handleListRecentIncidents)

	s.addTool(mcp.Tool{
		Name:        "update_incident",
		Description: "Update fields on an existing incident.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the incident to update",
				},
				"short_description": map[string]interface{}{"type": "string", "description": "New one-line summary"},
				"description":       map[string]interface{}{"type": "string", "description": "New detailed description"},
				"state":             map[string]interface{}{"type": "string", "description": "New state (e.g. '2' In Progress, '6' Resolved)"},
				"priority":          map[string]interface{}{"type": "string", "description": "New priority (e.g. '1' Critical)"},
				"urgency":           map[string]interface{}{"type": "string", "description": "New urgency (1-High, 2-Medium, 3-Low)"},
				"impact":            map[string]interface{}{"type": "string", "description": "New impact (1-High, 2-Medium, 3-Low)"},
				"assignment_group":  map[string]interface{}{"type": "string", "description": "sys_id of the group to re-assign to"},
				"assigned_to":       map[string]interface{}{"type": "string", "description": "sys_id of the user to assign to"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateIncident)

	s.addTool(mcp.Tool{
		Name:        "add_comment_to_incident",
		Description: "Add a customer-visible comment to an existing incident.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the incident",
				},
				"comment": map[string]interface{}{
					"type":        "string",
					"description": "The customer-visible comment to add",
				},
			},
			Required: []string{"sys_id", "comment"},
		},
	}, true, s.handleAddCommentToIncident)

	s.addTool(mcp.Tool{
		Name:        "add_work_notes_to_incident",
		Description: "Add internal-only work notes to an existing incident.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the incident",
				},
				"notes": map[string]interface{}{
					"type":        "string",
					"description": "The internal-only work notes to add",
				},
			},
			Required: []string{"sys_id", "notes"},
		},
	}, true, s.handleAddWorkNotesToIncident)

	s.addTool(mcp.Tool{
		Name:        "resolve_incident",
		Description: "Resolve an incident by setting its state to Resolved with resolution notes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the incident to resolve",
				},
				"close_notes": map[string]interface{}{
					"type":        "string",
					"description": "Notes describing the resolution",
				},
				"close_code": map[string]interface{}{
					"type":        "string",
					"description": "The resolution code; valid values depend on the instance's choice list",
					"default":     "Solution provided",
				},
			},
			Required: []string{"sys_id", "close_notes"},
		},
	}, true, s.handleResolveIncident)
}

func (s *Server) handleCreateIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shortDescription, err := request.RequireString("short_description")
	if err != nil {
		return errorResponse("Missing or invalid 'short_description' argument"), nil
	}

	body := map[string]any{
		"short_description": shortDescription,
		"urgency":           request.GetString("urgency", "3"),
		"impact":            request.GetString("impact", "3"),
	}
	for _, field := range []string{"description", "caller_id", "assignment_group"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}

	return snowJSON(ctx, "POST", incidentTable, body, nil)
}

func (s *Server) handleGetIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	return snowJSON(ctx, "GET", incidentTable+"/"+sysID, nil, nil)
}

func (s *Server) handleGetIncidentByNumber(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := request.RequireString("number")
	if err != nil {
		return errorResponse("Missing or invalid 'number' argument"), nil
	}
	q := url.Values{}
	q.Set("sysparm_query", "number="+number)
	q.Set("sysparm_limit", "1")
	return snowJSON(ctx, "GET", incidentTable, nil, q)
}

func (s *Server) handleListIncidents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	if query := request.GetString("query", ""); query != "" {
		q.Set("sysparm_query", query)
	}
	if args := request.GetArguments(); args != nil {
		if fields := stringSlice(args["fields"]); len(fields) > 0 {
			q.Set("sysparm_fields", joinFields(fields))
		}
	}
	return snowJSON(ctx, "GET", incidentTable, nil, q)
}

func (s *Server) handleListRecentIncidents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := url.Values{}
	q.Set("sysparm_query", "ORDERBYDESCsys_created_on")
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 10)))
	return snowJSON(ctx, "GET", incidentTable, nil, q)
}

func (s *Server) handleUpdateIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{
		"short_description", "description", "state", "priority",
		"urgency", "impact", "assignment_group", "assigned_to",
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

	return snowJSON(ctx, "PATCH", incidentTable+"/"+sysID, body, nil)
}

func (s *Server) handleAddCommentToIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	comment, err := request.RequireString("comment")
	if err != nil {
		return errorResponse("Missing or invalid 'comment' argument"), nil
	}
	return snowJSON(ctx, "PATCH", incidentTable+"/"+sysID, map[string]any{"comments": comment}, nil)
}

func (s *Server) handleAddWorkNotesToIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	notes, err := request.RequireString("notes")
	if err != nil {
		return errorResponse("Missing or invalid 'notes' argument"), nil
	}
	return snowJSON(ctx, "PATCH", incidentTable+"/"+sysID, map[string]any{"work_notes": notes}, nil)
}

func (s *Server) handleResolveIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	closeNotes, err := request.RequireString("close_notes")
	if err != nil {
		return errorResponse("Missing or invalid 'close_notes' argument"), nil
	}

	body := map[string]any{
		"state":          servicenow.IncidentStateResolved,
		"incident_state": servicenow.IncidentStateResolved,
		"close_notes":    closeNotes,
		"close_code":     request.GetString("close_code", "Solution provided"),
	}
	return snowJSON(ctx, "PATCH", incidentTable+"/"+sysID, body, nil)
}

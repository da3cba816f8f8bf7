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
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const (
	changeTable   = "/api/now/table/change_request"
	changeTasks   = "/api/now/table/change_task"
	approverTable = "/api/now/table/sysapproval_approver"
)

func (s *Server) registerChangeTools() {
	s.addTool(mcp.Tool{
		Name:        "create_change_request",
		Description: "Create a new Normal, Standard, or Emergency change request.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"short_description": map[string]interface{}{
					"type":        "string",
					"description": "A brief, one-line summary of the change",
				},
				"description": map[string]interface{}{"type": "string", "description": "Detailed description of the change"},
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Change type: Normal, Standard, or Emergency",
					"default":     "Normal",
				},
				"assignment_group": map[string]interface{}{"type": "string", "description": "sys_id of the implementing group"},
				"start_date":       map[string]interface{}{"type": "string", "description": "Planned start (YYYY-MM-DD HH:MM:SS)"},
				"end_date":         map[string]interface{}{"type": "string", "description": "Planned end (YYYY-MM-DD HH:MM:SS)"},
			},
			Required: []string{"short_description"},
		},
	}, true, s.handleCreateChangeRequest)

	s.addTool(mcp.Tool{
		Name:        "get_change_request",
		Description: "Retrieve a change request by sys_id or by number (e.g. CHG0000014).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the change request"},
				"number": map[string]interface{}{"type": "string", "description": "The change number (e.g. CHG0000014)"},
			},
		},
	}, false, s.handleGetChangeRequest)

	s.addTool(mcp.Tool{
		Name:        "list_change_requests",
		Description: "List change requests with an optional encoded query and pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query":  map[string]interface{}{"type": "string", "description": "Encoded query string (e.g. 'active=true^type=Normal')"},
				"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of records", "default": 10},
				"offset": map[string]interface{}{"type": "integer", "description": "Starting record for pagination", "default": 0},
			},
		},
	}, false, s.handleListChangeRequests)

	s.addTool(mcp.Tool{
		Name:        "update_change_request",
		Description: "Update one or more fields on an existing change request.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":            map[string]interface{}{"type": "string", "description": "The sys_id of the change request"},
				"short_description": map[string]interface{}{"type": "string", "description": "New one-line summary"},
				"description":       map[string]interface{}{"type": "string", "description": "New detailed description"},
				"state":             map[string]interface{}{"type": "string", "description": "New state value (e.g. '-4' Assess, '3' Closed)"},
				"assignment_group":  map[string]interface{}{"type": "string", "description": "sys_id of the group to re-assign to"},
				"start_date":        map[string]interface{}{"type": "string", "description": "New planned start"},
				"end_date":          map[string]interface{}{"type": "string", "description": "New planned end"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateChangeRequest)

	s.addTool(mcp.Tool{
		Name:        "add_change_task",
		Description: "Add a task to an existing change request.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"change_request_sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the parent change request"},
				"short_description":     map[string]interface{}{"type": "string", "description": "A brief summary of the task"},
			},
			Required: []string{"change_request_sys_id", "short_description"},
		},
	}, true, s.handleAddChangeTask)

	s.addTool(mcp.Tool{
		Name:        "submit_change_for_approval",
		Description: "Submit a change request for approval by moving it to the Assess state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the change request"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleSubmitChangeForApproval)

	s.addTool(mcp.Tool{
		Name:        "approve_change",
		Description: "Approve a change request by resolving its pending approval record.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":         map[string]interface{}{"type": "string", "description": "The sys_id of the change request"},
				"approval_notes": map[string]interface{}{"type": "string", "description": "Optional notes to include with the approval"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleApproveChange)

	s.addTool(mcp.Tool{
		Name:        "reject_change",
		Description: "Reject a change request by resolving its pending approval record.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":             map[string]interface{}{"type": "string", "description": "The sys_id of the change request"},
				"rejection_comments": map[string]interface{}{"type": "string", "description": "Comments explaining the rejection"},
			},
			Required: []string{"sys_id", "rejection_comments"},
		},
	}, true, s.handleRejectChange)
}

func (s *Server) handleCreateChangeRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shortDescription, err := request.RequireString("short_description")
	if err != nil {
		return errorResponse("Missing or invalid 'short_description' argument"), nil
	}

	body := map[string]any{
		"short_description": shortDescription,
		"type":              request.GetString("type", servicenow.ChangeTypeNormal),
	}
	for _, field := range []string{"description", "assignment_group", "start_date", "end_date"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	return snowJSON(ctx, "POST", changeTable, body, nil)
}

func (s *Server) handleGetChangeRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if sysID := request.GetString("sys_id", ""); sysID != "" {
		return snowJSON(ctx, "GET", changeTable+"/"+sysID, nil, nil)
	}
	number := request.GetString("number", "")
	if number == "" {
		return errorResponse("Provide either 'sys_id' or 'number'"), nil
	}
	q := url.Values{}
	q.Set("sysparm_query", "number="+number)
	q.Set("sysparm_limit", "1")
	return snowJSON(ctx, "GET", changeTable, nil, q)
}

func (s *Server) handleListChangeRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	if query := request.GetString("query", ""); query != "" {
		q.Set("sysparm_query", query)
	}
	return snowJSON(ctx, "GET", changeTable, nil, q)
}

func (s *Server) handleUpdateChangeRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{
		"short_description", "description", "state",
		"assignment_group", "start_date", "end_date",
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
	return snowJSON(ctx, "PATCH", changeTable+"/"+sysID, body, nil)
}

func (s *Server) handleAddChangeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	changeSysID, err := request.RequireString("change_request_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'change_request_sys_id' argument"), nil
	}
	shortDescription, err := request.RequireString("short_description")
	if err != nil {
		return errorResponse("Missing or invalid 'short_description' argument"), nil
	}
	body := map[string]any{
		"change_request":    changeSysID,
		"short_description": shortDescription,
	}
	return snowJSON(ctx, "POST", changeTasks, body, nil)
}

func (s *Server) handleSubmitChangeForApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	body := map[string]any{"state": servicenow.ChangeStateAssess}
	return snowJSON(ctx, "PATCH", changeTable+"/"+sysID, body, nil)
}

func (s *Server) handleApproveChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.resolveApproval(ctx, request, "approved", request.GetString("approval_notes", ""))
}

func (s *Server) handleRejectChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	comments, err := request.RequireString("rejection_comments")
	if err != nil {
		return errorResponse("Missing or invalid 'rejection_comments' argument"), nil
	}
	return s.resolveApproval(ctx, request, "rejected", comments)
}

// resolveApproval finds the pending approval record for a change and
// moves it to the given state. Two Table API calls under one lease.
func (s *Server) resolveApproval(ctx context.Context, request mcp.CallToolRequest, state, comments string) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	lease, acquireErr := servicenow.Acquire()
	if acquireErr != nil {
		return toolError(acquireErr), nil
	}
	defer lease.Release()
	client := lease.Client()

	q := url.Values{}
	q.Set("sysparm_query", "sysapproval="+sysID+"^state=requested")
	q.Set("sysparm_limit", "1")
	found, reqErr := client.RequestJSON(ctx, "GET", approverTable, nil, q)
	if reqErr != nil {
		return toolError(reqErr), nil
	}

	approvalSysID, ok := firstResultSysID(found)
	if !ok {
		return errorResponse("Could not find a pending approval record for this change. " +
			"It may not be in the correct state or you may not be an approver."), nil
	}

	body := map[string]any{"state": state}
	if comments != "" {
		body["comments"] = comments
	}
	updated, reqErr := client.RequestJSON(ctx, "PATCH", approverTable+"/"+approvalSysID, body, nil)
	if reqErr != nil {
		return toolError(reqErr), nil
	}
	return jsonResponse(updated), nil
}

// firstResultSysID digs the sys_id out of the first record of a Table
// API list response.
func firstResultSysID(doc map[string]any) (string, bool) {
	records, ok := doc["result"].([]any)
	if !ok || len(records) == 0 {
		return "", false
	}
	record, ok := records[0].(map[string]any)
	if !ok {
		return "", false
	}
	sysID, ok := record["sys_id"].(string)
	return sysID, ok && sysID != ""
}

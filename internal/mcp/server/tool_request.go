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
	"encoding/base64"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const requestTable = servicenow.TableAPI + "/sc_request"

func (s *Server) registerRequestTools() {
	s.addTool(mcp.Tool{
		Name:        "create_request_ticket",
		Description: "Create a generic service request ticket (sc_request), not tied to a catalog item.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"short_description": map[string]interface{}{"type": "string", "description": "A brief, one-line summary of the request"},
				"description":       map[string]interface{}{"type": "string", "description": "A detailed description of the request"},
				"requested_for": map[string]interface{}{
					"type":        "string",
					"description": "sys_id of the user this request is for; defaults to the API user",
				},
			},
			Required: []string{"short_description"},
		},
	}, true, s.handleCreateRequestTicket)

	s.addTool(mcp.Tool{
		Name:        "get_request_ticket",
		Description: "Retrieve a request ticket (REQ) by sys_id or number.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the request"},
				"number": map[string]interface{}{"type": "string", "description": "The request number (e.g. REQ0010001)"},
			},
		},
	}, false, s.handleGetRequestTicket)

	s.addTool(mcp.Tool{
		Name:        "list_request_tickets",
		Description: "List request tickets with pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"active": map[string]interface{}{"type": "boolean", "description": "Return only active requests", "default": true},
				"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of records", "default": 10},
				"offset": map[string]interface{}{"type": "integer", "description": "Starting record for pagination", "default": 0},
			},
		},
	}, false, s.handleListRequestTickets)

	s.addTool(mcp.Tool{
		Name:        "add_comment_to_request",
		Description: "Add a customer-visible comment to a request ticket.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":  map[string]interface{}{"type": "string", "description": "The sys_id of the request to comment on"},
				"comment": map[string]interface{}{"type": "string", "description": "The customer-visible comment to add"},
			},
			Required: []string{"sys_id", "comment"},
		},
	}, true, s.handleAddCommentToRequest)

	s.addTool(mcp.Tool{
		Name:        "attach_file_to_record",
		Description: "Attach a file to any record. The file content must be Base64 encoded.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name":          map[string]interface{}{"type": "string", "description": "The table the record belongs to (e.g. 'sc_request', 'incident')"},
				"record_sys_id":       map[string]interface{}{"type": "string", "description": "The sys_id of the record to attach the file to"},
				"file_name":           map[string]interface{}{"type": "string", "description": "The name of the file (e.g. 'details.pdf')"},
				"file_content_base64": map[string]interface{}{"type": "string", "description": "The file content, Base64 encoded"},
			},
			Required: []string{"table_name", "record_sys_id", "file_name", "file_content_base64"},
		},
	}, true, s.handleAttachFileToRecord)
}

func (s *Server) handleCreateRequestTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shortDescription, err := request.RequireString("short_description")
	if err != nil {
		return errorResponse("Missing or invalid 'short_description' argument"), nil
	}

	body := map[string]any{"short_description": shortDescription}
	for _, field := range []string{"description", "requested_for"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	return snowJSON(ctx, "POST", requestTable, body, nil)
}

func (s *Server) handleGetRequestTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var query string
	switch {
	case request.GetString("sys_id", "") != "":
		query = "sys_id=" + request.GetString("sys_id", "")
	case request.GetString("number", "") != "":
		query = "number=" + request.GetString("number", "")
	default:
		return errorResponse("Provide either 'sys_id' or 'number'"), nil
	}

	q := url.Values{}
	q.Set("sysparm_query", query)
	q.Set("sysparm_limit", "1")
	return snowJSON(ctx, "GET", requestTable, nil, q)
}

func (s *Server) handleListRequestTickets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	q.Set("sysparm_query", "active="+strconv.FormatBool(request.GetBool("active", true)))
	return snowJSON(ctx, "GET", requestTable, nil, q)
}

func (s *Server) handleAddCommentToRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	comment, err := request.RequireString("comment")
	if err != nil {
		return errorResponse("Missing or invalid 'comment' argument"), nil
	}
	body := map[string]any{"comments": comment}
	return snowJSON(ctx, "PATCH", requestTable+"/"+sysID, body, nil)
}

func (s *Server) handleAttachFileToRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	recordSysID, err := request.RequireString("record_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'record_sys_id' argument"), nil
	}
	fileName, err := request.RequireString("file_name")
	if err != nil {
		return errorResponse("Missing or invalid 'file_name' argument"), nil
	}
	encoded, err := request.RequireString("file_content_base64")
	if err != nil {
		return errorResponse("Missing or invalid 'file_content_base64' argument"), nil
	}

	// Decode before touching the network so a bad payload never costs a
	// round trip.
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "Invalid Base64 in 'file_content_base64'",
			Details: err.Error(),
		}), nil
	}

	q := url.Values{}
	q.Set("table_name", table)
	q.Set("table_sys_id", recordSysID)
	q.Set("file_name", fileName)
	headers := map[string]string{"Content-Type": "application/octet-stream"}
	return snowRaw(ctx, "POST", servicenow.AttachmentAPI, data, q, headers)
}

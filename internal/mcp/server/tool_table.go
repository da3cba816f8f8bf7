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
	"log/slog"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	logpkg "github.com/tombee/servicenow-mcp/internal/log"
	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

func (s *Server) registerTableTools() {
	s.addTool(mcp.Tool{
		Name:        "list_available_tables",
		Description: "List tables in the instance by querying sys_db_object metadata.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filter": map[string]interface{}{
					"type":        "string",
					"description": "A search term to filter table names (e.g. 'incident', 'cmdb_ci')",
				},
			},
		},
	}, false, s.handleListAvailableTables)

	s.addTool(mcp.Tool{
		Name:        "get_records",
		Description: "Retrieve records from any table with filtering, sorting, and pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table to query (e.g. 'incident', 'cmdb_ci')"},
				"query":      map[string]interface{}{"type": "string", "description": "Encoded query string (e.g. 'active=true^priority=1')"},
				"limit":      map[string]interface{}{"type": "integer", "description": "Maximum number of records", "default": 10},
				"offset":     map[string]interface{}{"type": "integer", "description": "Starting record for pagination", "default": 0},
				"sort_by":    map[string]interface{}{"type": "string", "description": "Field to sort by (e.g. 'sys_created_on')"},
				"sort_dir": map[string]interface{}{
					"type":        "string",
					"description": "Sort direction, ASC or DESC",
					"default":     "DESC",
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Specific fields to return, to limit payload size",
				},
			},
			Required: []string{"table_name"},
		},
	}, false, s.handleGetRecords)

	s.addTool(mcp.Tool{
		Name:        "get_table_schema",
		Description: "Retrieve column definitions for a table from the sys_dictionary data dictionary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table to describe (e.g. 'incident')"},
			},
			Required: []string{"table_name"},
		},
	}, false, s.handleGetTableSchema)

	s.addTool(mcp.Tool{
		Name:        "search_records_by_text",
		Description: "Search a table's common text fields (short_description, description, number, comments, work_notes) with a LIKE query.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name":  map[string]interface{}{"type": "string", "description": "The table to search (e.g. 'incident')"},
				"search_term": map[string]interface{}{"type": "string", "description": "The text or keyword to search for"},
				"limit":       map[string]interface{}{"type": "integer", "description": "Maximum number of matching records", "default": 10},
			},
			Required: []string{"table_name", "search_term"},
		},
	}, false, s.handleSearchRecordsByText)

	s.addTool(mcp.Tool{
		Name:        "create_record",
		Description: "Create a record in any table with arbitrary field data.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table to create the record in"},
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Field names and values for the new record",
				},
			},
			Required: []string{"table_name", "data"},
		},
	}, true, s.handleCreateRecord)

	s.addTool(mcp.Tool{
		Name:        "update_record",
		Description: "Update an existing record in any table.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table containing the record"},
				"sys_id":     map[string]interface{}{"type": "string", "description": "The sys_id of the record to update"},
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Field names and values to update",
				},
			},
			Required: []string{"table_name", "sys_id", "data"},
		},
	}, true, s.handleUpdateRecord)

	s.addTool(mcp.Tool{
		Name:        "delete_record",
		Description: "Delete a record from any table.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table containing the record"},
				"sys_id":     map[string]interface{}{"type": "string", "description": "The sys_id of the record to delete"},
			},
			Required: []string{"table_name", "sys_id"},
		},
	}, true, s.handleDeleteRecord)

	s.addTool(mcp.Tool{
		Name:        "batch_update_records",
		Description: "Apply the same field values to multiple records, returning a per-record success/failure summary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table_name": map[string]interface{}{"type": "string", "description": "The table containing the records"},
				"sys_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "sys_ids of the records to update",
				},
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Field names and values to apply to every record",
				},
			},
			Required: []string{"table_name", "sys_ids", "data"},
		},
	}, true, s.handleBatchUpdateRecords)
}

func (s *Server) handleListAvailableTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Filter out internal system noise: only extendable tables with a
	// label are interesting as tool targets.
	queryParts := []string{"is_extendable=true", "labelISNOTEMPTY"}
	if filter := request.GetString("filter", ""); filter != "" {
		queryParts = append(queryParts, "nameLIKE"+filter+"^ORlabelLIKE"+filter)
	}

	q := url.Values{}
	q.Set("sysparm_fields", "name,label,super_class")
	q.Set("sysparm_query", strings.Join(queryParts, "^"))
	q.Set("sysparm_limit", "200")
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/sys_db_object", nil, q)
}

func (s *Server) handleGetRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}

	q := listQuery(request.GetInt("limit", 10), request.GetInt("offset", 0))
	query := request.GetString("query", "")
	if fields := stringSlice(request.GetArguments()["fields"]); len(fields) > 0 {
		q.Set("sysparm_fields", joinFields(fields))
	}
	if sortBy := request.GetString("sort_by", ""); sortBy != "" {
		direction := "DESC"
		if strings.EqualFold(request.GetString("sort_dir", "DESC"), "ASC") {
			direction = "ASC"
		}
		orderBy := "ORDERBY" + direction + sortBy
		if query != "" {
			query += "^" + orderBy
		} else {
			query = orderBy
		}
	}
	if query != "" {
		q.Set("sysparm_query", query)
	}

	s.logger.Debug("table query",
		slog.String(logpkg.TableKey, table),
		slog.String("query", query),
	)
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/"+table, nil, q)
}

func (s *Server) handleGetTableSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}

	q := url.Values{}
	q.Set("sysparm_query", "name="+table+"^internal_typeISNOTEMPTY")
	q.Set("sysparm_fields", "element,internal_type,max_length,mandatory,display,reference")
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/sys_dictionary", nil, q)
}

func (s *Server) handleSearchRecordsByText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	term, err := request.RequireString("search_term")
	if err != nil {
		return errorResponse("Missing or invalid 'search_term' argument"), nil
	}

	// A LIKE query across the common text fields works without relying
	// on text indexing being enabled for the table.
	queryParts := []string{
		"short_descriptionLIKE" + term,
		"descriptionLIKE" + term,
		"numberLIKE" + term,
		"commentsLIKE" + term,
		"work_notesLIKE" + term,
	}

	q := url.Values{}
	q.Set("sysparm_query", strings.Join(queryParts, "^OR"))
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 10)))
	return snowJSON(ctx, "GET", servicenow.TableAPI+"/"+table, nil, q)
}

func (s *Server) handleCreateRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	data, ok := request.GetArguments()["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return errorResponse("Missing or invalid 'data' argument"), nil
	}
	return snowJSON(ctx, "POST", servicenow.TableAPI+"/"+table, data, nil)
}

func (s *Server) handleUpdateRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	data, ok := request.GetArguments()["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return errorResponse("Missing or invalid 'data' argument"), nil
	}
	return snowJSON(ctx, "PATCH", servicenow.TableAPI+"/"+table+"/"+sysID, data, nil)
}

func (s *Server) handleDeleteRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	return snowJSON(ctx, "DELETE", servicenow.TableAPI+"/"+table+"/"+sysID, nil, nil)
}

func (s *Server) handleBatchUpdateRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table_name")
	if err != nil {
		return errorResponse("Missing or invalid 'table_name' argument"), nil
	}
	sysIDs := stringSlice(request.GetArguments()["sys_ids"])
	if len(sysIDs) == 0 {
		return errorResponse("Missing or invalid 'sys_ids' argument"), nil
	}
	data, ok := request.GetArguments()["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return errorResponse("Missing or invalid 'data' argument"), nil
	}

	lease, acquireErr := servicenow.Acquire()
	if acquireErr != nil {
		return toolError(acquireErr), nil
	}
	defer lease.Release()
	client := lease.Client()

	s.logger.Debug("batch update",
		slog.String(logpkg.TableKey, table),
		slog.Int("records", len(sysIDs)),
	)

	successes := make([]string, 0, len(sysIDs))
	failures := make([]map[string]any, 0)
	for _, sysID := range sysIDs {
		_, reqErr := client.RequestJSON(ctx, "PATCH", servicenow.TableAPI+"/"+table+"/"+sysID, data, nil)
		if reqErr != nil {
			failure := map[string]any{"sys_id": sysID, "message": reqErr.Error()}
			if se, ok := servicenow.AsError(reqErr); ok {
				failure["error"] = string(se.Kind)
				failure["message"] = se.Message
			}
			failures = append(failures, failure)
			continue
		}
		successes = append(successes, sysID)
	}

	return jsonResponse(map[string]any{
		"status":             "Completed",
		"updated_count":      len(successes),
		"failed_count":       len(failures),
		"successful_updates": successes,
		"failed_updates":     failures,
	}), nil
}

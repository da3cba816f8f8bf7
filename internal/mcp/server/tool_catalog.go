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
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const (
	catalogTable         = servicenow.TableAPI + "/sc_catalog"
	catalogItemTable     = servicenow.TableAPI + "/sc_cat_item"
	catalogCategoryTable = servicenow.TableAPI + "/sc_category"
	itemVariableTable    = servicenow.TableAPI + "/item_option_new"
)

func (s *Server) registerCatalogTools() {
	s.addTool(mcp.Tool{
		Name:        "create_catalog",
		Description: "Create a new, top-level service catalog.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "The title for the new service catalog",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "A description for the new catalog",
				},
			},
			Required: []string{"title"},
		},
	}, true, s.handleCreateCatalog)

	s.addTool(mcp.Tool{
		Name:        "list_catalogs",
		Description: "List the active service catalogs in the instance.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filter_text": map[string]interface{}{
					"type":        "string",
					"description": "A search term to filter catalogs by title",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of catalogs to return",
					"default":     10,
				},
			},
		},
	}, false, s.handleListCatalogs)

	s.addTool(mcp.Tool{
		Name:        "list_catalog_items",
		Description: "List active, end-user requestable items from the Service Catalog.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filter_text": map[string]interface{}{
					"type":        "string",
					"description": "A search term matched against item name and descriptions",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of items to return",
					"default":     20,
				},
			},
		},
	}, false, s.handleListCatalogItems)

	s.addTool(mcp.Tool{
		Name:        "get_catalog_item",
		Description: "Retrieve the full details of a service catalog item by its sys_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the catalog item to retrieve",
				},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetCatalogItem)

	s.addTool(mcp.Tool{
		Name:        "list_catalog_categories",
		Description: "List active categories within the Service Catalog.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filter_text": map[string]interface{}{
					"type":        "string",
					"description": "A search term matched against category title and description",
				},
				"catalog_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of a specific catalog to limit the search to",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of categories to return",
					"default":     20,
				},
			},
		},
	}, false, s.handleListCatalogCategories)

	s.addTool(mcp.Tool{
		Name:        "create_catalog_category",
		Description: "Create a new category within a service catalog.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "The title for the new category",
				},
				"catalog_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the parent catalog this category belongs to",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "An optional description for the new category",
				},
			},
			Required: []string{"title", "catalog_sys_id"},
		},
	}, true, s.handleCreateCatalogCategory)

	s.addTool(mcp.Tool{
		Name:        "update_catalog_category",
		Description: "Update an existing catalog category's title or description.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the category to update",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "The new title for the category",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "The new description for the category",
				},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateCatalogCategory)

	s.addTool(mcp.Tool{
		Name:        "move_catalog_items",
		Description: "Move one or more catalog items to a new category, returning a per-item success/failure summary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"destination_category_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the category to move the items into",
				},
				"item_sys_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "sys_ids of the catalog items to move",
				},
			},
			Required: []string{"destination_category_sys_id", "item_sys_ids"},
		},
	}, true, s.handleMoveCatalogItems)

	s.addTool(mcp.Tool{
		Name:        "create_catalog_item_variable",
		Description: "Create a new variable (question) on a catalog item's order form.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"item_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the catalog item this variable belongs to",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "The internal system name for the variable (e.g. 'justification')",
				},
				"question_text": map[string]interface{}{
					"type":        "string",
					"description": "The user-facing label for the variable's question",
				},
				"type": map[string]interface{}{
					"type":        "string",
					"description": "The variable type: 1 (Yes/No), 6 (Single Line Text), 8 (Reference), 5 (Select Box)",
				},
				"order": map[string]interface{}{
					"type":        "integer",
					"description": "Position on the form; lower numbers appear first",
					"default":     100,
				},
				"mandatory": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether this variable is mandatory",
					"default":     false,
				},
			},
			Required: []string{"item_sys_id", "name", "question_text", "type"},
		},
	}, true, s.handleCreateCatalogItemVariable)

	s.addTool(mcp.Tool{
		Name:        "list_catalog_item_variables",
		Description: "List the variables (questions) on a catalog item's order form, in form order.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"item_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the catalog item whose variables to list",
				},
			},
			Required: []string{"item_sys_id"},
		},
	}, false, s.handleListCatalogItemVariables)

	s.addTool(mcp.Tool{
		Name:        "update_catalog_item_variable",
		Description: "Update an existing variable on a catalog item's order form.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"variable_sys_id": map[string]interface{}{
					"type":        "string",
					"description": "The sys_id of the variable to update",
				},
				"question_text": map[string]interface{}{
					"type":        "string",
					"description": "The new user-facing label for the variable",
				},
				"order": map[string]interface{}{
					"type":        "integer",
					"description": "The new position on the form",
				},
				"mandatory": map[string]interface{}{
					"type":        "boolean",
					"description": "The new mandatory status",
				},
			},
			Required: []string{"variable_sys_id"},
		},
	}, true, s.handleUpdateCatalogItemVariable)
}

func (s *Server) handleCreateCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return errorResponse("Missing or invalid 'title' argument"), nil
	}

	body := map[string]any{"title": title}
	if description := request.GetString("description", ""); description != "" {
		body["description"] = description
	}
	return snowJSON(ctx, "POST", catalogTable, body, nil)
}

func (s *Server) handleListCatalogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryParts := []string{"active=true"}
	if filter := request.GetString("filter_text", ""); filter != "" {
		queryParts = append(queryParts, "titleLIKE"+filter)
	}

	q := url.Values{}
	q.Set("sysparm_query", strings.Join(queryParts, "^"))
	q.Set("sysparm_fields", "title,description,sys_id")
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 10)))
	return snowJSON(ctx, "GET", catalogTable, nil, q)
}

func (s *Server) handleListCatalogItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryParts := []string{"active=true"}
	if filter := request.GetString("filter_text", ""); filter != "" {
		queryParts = append(queryParts,
			"nameLIKE"+filter+"^ORshort_descriptionLIKE"+filter+"^ORdescriptionLIKE"+filter)
	}

	q := url.Values{}
	q.Set("sysparm_query", strings.Join(queryParts, "^"))
	q.Set("sysparm_fields", "name,short_description,price,sys_id,category")
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 20)))
	return snowJSON(ctx, "GET", catalogItemTable, nil, q)
}

func (s *Server) handleGetCatalogItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	return snowJSON(ctx, "GET", catalogItemTable+"/"+sysID, nil, nil)
}

func (s *Server) handleListCatalogCategories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryParts := []string{"active=true"}
	if catalogSysID := request.GetString("catalog_sys_id", ""); catalogSysID != "" {
		queryParts = append(queryParts, "sc_catalog="+catalogSysID)
	}
	if filter := request.GetString("filter_text", ""); filter != "" {
		queryParts = append(queryParts, "titleLIKE"+filter+"^ORdescriptionLIKE"+filter)
	}

	q := url.Values{}
	q.Set("sysparm_query", strings.Join(queryParts, "^"))
	q.Set("sysparm_fields", "title,description,sys_id,sc_catalog")
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 20)))
	return snowJSON(ctx, "GET", catalogCategoryTable, nil, q)
}

func (s *Server) handleCreateCatalogCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return errorResponse("Missing or invalid 'title' argument"), nil
	}
	catalogSysID, err := request.RequireString("catalog_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'catalog_sys_id' argument"), nil
	}

	body := map[string]any{
		"title":      title,
		"sc_catalog": catalogSysID,
	}
	if description := request.GetString("description", ""); description != "" {
		body["description"] = description
	}
	return snowJSON(ctx, "POST", catalogCategoryTable, body, nil)
}

func (s *Server) handleUpdateCatalogCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{"title", "description"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide a 'title' or 'description'",
		}), nil
	}
	return snowJSON(ctx, "PATCH", catalogCategoryTable+"/"+sysID, body, nil)
}

func (s *Server) handleMoveCatalogItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	destination, err := request.RequireString("destination_category_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'destination_category_sys_id' argument"), nil
	}
	itemSysIDs := stringSlice(request.GetArguments()["item_sys_ids"])
	if len(itemSysIDs) == 0 {
		return errorResponse("Missing or invalid 'item_sys_ids' argument"), nil
	}

	lease, acquireErr := servicenow.Acquire()
	if acquireErr != nil {
		return toolError(acquireErr), nil
	}
	defer lease.Release()
	client := lease.Client()

	body := map[string]any{"category": destination}
	successes := make([]string, 0, len(itemSysIDs))
	failures := make([]map[string]any, 0)
	for _, itemID := range itemSysIDs {
		_, reqErr := client.RequestJSON(ctx, "PATCH", catalogItemTable+"/"+itemID, body, nil)
		if reqErr != nil {
			failure := map[string]any{"sys_id": itemID, "message": reqErr.Error()}
			if se, ok := servicenow.AsError(reqErr); ok {
				failure["error"] = string(se.Kind)
				failure["message"] = se.Message
			}
			failures = append(failures, failure)
			continue
		}
		successes = append(successes, itemID)
	}

	return jsonResponse(map[string]any{
		"status":           "Completed",
		"moved_count":      len(successes),
		"failed_count":     len(failures),
		"successful_moves": successes,
		"failed_moves":     failures,
	}), nil
}

func (s *Server) handleCreateCatalogItemVariable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemSysID, err := request.RequireString("item_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'item_sys_id' argument"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}
	questionText, err := request.RequireString("question_text")
	if err != nil {
		return errorResponse("Missing or invalid 'question_text' argument"), nil
	}
	variableType, err := request.RequireString("type")
	if err != nil {
		return errorResponse("Missing or invalid 'type' argument"), nil
	}

	// The Table API takes order and mandatory as strings.
	body := map[string]any{
		"cat_item":      itemSysID,
		"name":          name,
		"question_text": questionText,
		"type":          variableType,
		"order":         strconv.Itoa(request.GetInt("order", 100)),
		"mandatory":     strconv.FormatBool(request.GetBool("mandatory", false)),
	}
	return snowJSON(ctx, "POST", itemVariableTable, body, nil)
}

func (s *Server) handleListCatalogItemVariables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemSysID, err := request.RequireString("item_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'item_sys_id' argument"), nil
	}

	q := url.Values{}
	q.Set("sysparm_query", "cat_item="+itemSysID)
	q.Set("sysparm_fields", "name,question_text,type,order,mandatory")
	q.Set("sysparm_query_orderby", "order")
	return snowJSON(ctx, "GET", itemVariableTable, nil, q)
}

func (s *Server) handleUpdateCatalogItemVariable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	variableSysID, err := request.RequireString("variable_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'variable_sys_id' argument"), nil
	}

	args := request.GetArguments()
	body := map[string]any{}
	if questionText := request.GetString("question_text", ""); questionText != "" {
		body["question_text"] = questionText
	}
	if _, present := args["order"]; present {
		body["order"] = strconv.Itoa(request.GetInt("order", 0))
	}
	if mandatory, ok := args["mandatory"].(bool); ok {
		body["mandatory"] = strconv.FormatBool(mandatory)
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide at least one updatable field",
		}), nil
	}
	return snowJSON(ctx, "PATCH", itemVariableTable+"/"+variableSysID, body, nil)
}

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
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const (
	userTable        = servicenow.TableAPI + "/sys_user"
	groupTable       = servicenow.TableAPI + "/sys_user_group"
	groupMemberTable = servicenow.TableAPI + "/sys_user_grmember"
)

func (s *Server) registerUserTools() {
	s.addTool(mcp.Tool{
		Name:        "create_user",
		Description: "Create a new user account in sys_user.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"first_name": map[string]interface{}{"type": "string", "description": "The user's first name"},
				"last_name":  map[string]interface{}{"type": "string", "description": "The user's last name"},
				"user_name":  map[string]interface{}{"type": "string", "description": "The user's login ID"},
				"email":      map[string]interface{}{"type": "string", "description": "The user's email address"},
				"password_needs_reset": map[string]interface{}{
					"type":        "boolean",
					"description": "Require a password reset on first login",
					"default":     true,
				},
				"active":     map[string]interface{}{"type": "boolean", "description": "Set false to disable the account", "default": true},
				"department": map[string]interface{}{"type": "string", "description": "sys_id of the user's department"},
				"title":      map[string]interface{}{"type": "string", "description": "The user's job title"},
				"user_password": map[string]interface{}{
					"type":        "string",
					"description": "Password for the account; a secure random one is generated if omitted",
				},
			},
			Required: []string{"first_name", "last_name", "user_name", "email"},
		},
	}, true, s.handleCreateUser)

	s.addTool(mcp.Tool{
		Name:        "update_user",
		Description: "Update an existing user record.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":     map[string]interface{}{"type": "string", "description": "The sys_id of the user to update"},
				"first_name": map[string]interface{}{"type": "string", "description": "First name"},
				"last_name":  map[string]interface{}{"type": "string", "description": "Last name"},
				"email":      map[string]interface{}{"type": "string", "description": "Email address"},
				"active":     map[string]interface{}{"type": "boolean", "description": "Enable or disable the account"},
				"department": map[string]interface{}{"type": "string", "description": "Department sys_id"},
				"title":      map[string]interface{}{"type": "string", "description": "Job title"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateUser)

	s.addTool(mcp.Tool{
		Name:        "get_user",
		Description: "Retrieve a single user by sys_id, login ID, or email.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id":   map[string]interface{}{"type": "string", "description": "sys_id of the user"},
				"user_name": map[string]interface{}{"type": "string", "description": "Login ID"},
				"email":     map[string]interface{}{"type": "string", "description": "Email address"},
			},
		},
	}, false, s.handleGetUser)

	s.addTool(mcp.Tool{
		Name:        "list_users",
		Description: "List users with optional name, email, and department filters.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"active_only": map[string]interface{}{"type": "boolean", "description": "Return only active users", "default": true},
				"department":  map[string]interface{}{"type": "string", "description": "Filter by department sys_id"},
				"name":        map[string]interface{}{"type": "string", "description": "Search term matched against the user's name"},
				"email":       map[string]interface{}{"type": "string", "description": "Search term matched against the user's email"},
				"limit":       map[string]interface{}{"type": "integer", "description": "Maximum number of users", "default": 20},
				"offset":      map[string]interface{}{"type": "integer", "description": "Records to skip for pagination", "default": 0},
			},
		},
	}, false, s.handleListUsers)

	s.addTool(mcp.Tool{
		Name:        "create_group",
		Description: "Create a new group in sys_user_group.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name":        map[string]interface{}{"type": "string", "description": "The name of the new group"},
				"description": map[string]interface{}{"type": "string", "description": "Group description"},
				"active":      map[string]interface{}{"type": "boolean", "description": "Whether the group is active", "default": true},
			},
			Required: []string{"name"},
		},
	}, true, s.handleCreateGroup)

	s.addTool(mcp.Tool{
		Name:        "update_group",
		Description: "Update an existing group.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":      map[string]interface{}{"type": "string", "description": "The sys_id of the group to update"},
				"name":        map[string]interface{}{"type": "string", "description": "New group name"},
				"description": map[string]interface{}{"type": "string", "description": "New description"},
				"active":      map[string]interface{}{"type": "boolean", "description": "Enable or disable the group"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateGroup)

	s.addTool(mcp.Tool{
		Name:        "add_group_members",
		Description: "Add one or more users to a group.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"group_sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the group"},
				"user_sys_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "sys_ids of the users to add",
				},
			},
			Required: []string{"group_sys_id", "user_sys_ids"},
		},
	}, true, s.handleAddGroupMembers)

	s.addTool(mcp.Tool{
		Name:        "remove_group_members",
		Description: "Remove one or more users from a group.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"group_sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the group"},
				"user_sys_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "sys_ids of the users to remove",
				},
			},
			Required: []string{"group_sys_id", "user_sys_ids"},
		},
	}, true, s.handleRemoveGroupMembers)

	s.addTool(mcp.Tool{
		Name:        "list_groups",
		Description: "List groups with pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"active_only": map[string]interface{}{"type": "boolean", "description": "Return only active groups", "default": false},
				"limit":       map[string]interface{}{"type": "integer", "description": "Maximum number of groups", "default": 20},
				"offset":      map[string]interface{}{"type": "integer", "description": "Records to skip for pagination", "default": 0},
			},
		},
	}, false, s.handleListGroups)
}

func (s *Server) handleCreateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := map[string]any{}
	for _, field := range []string{"first_name", "last_name", "user_name", "email"} {
		value, err := request.RequireString(field)
		if err != nil {
			return errorResponse("Missing or invalid '" + field + "' argument"), nil
		}
		body[field] = value
	}
	body["password_needs_reset"] = request.GetBool("password_needs_reset", true)
	body["active"] = request.GetBool("active", true)
	for _, field := range []string{"department", "title"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}

	// The instance commonly requires a password at creation time. When
	// the caller omits one, set a random throwaway; password_needs_reset
	// forces a change on first login anyway.
	password := request.GetString("user_password", "")
	if password == "" {
		password = randomPassword()
	}
	body["user_password"] = password

	return snowJSON(ctx, "POST", userTable, body, nil)
}

func (s *Server) handleUpdateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{"first_name", "last_name", "email", "department", "title"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	if active, ok := request.GetArguments()["active"].(bool); ok {
		body["active"] = active
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide at least one updatable field",
		}), nil
	}
	return snowJSON(ctx, "PATCH", userTable+"/"+sysID, body, nil)
}

func (s *Server) handleGetUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var query string
	switch {
	case request.GetString("user_id", "") != "":
		query = "sys_id=" + request.GetString("user_id", "")
	case request.GetString("user_name", "") != "":
		query = "user_name=" + request.GetString("user_name", "")
	case request.GetString("email", "") != "":
		query = "email=" + request.GetString("email", "")
	default:
		return errorResponse("Provide one of 'user_id', 'user_name', or 'email'"), nil
	}

	q := url.Values{}
	q.Set("sysparm_query", query)
	q.Set("sysparm_limit", "1")
	return snowJSON(ctx, "GET", userTable, nil, q)
}

func (s *Server) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var queryParts []string
	if request.GetBool("active_only", true) {
		queryParts = append(queryParts, "active=true")
	}
	if department := request.GetString("department", ""); department != "" {
		queryParts = append(queryParts, "department="+department)
	}
	if name := request.GetString("name", ""); name != "" {
		queryParts = append(queryParts, "nameLIKE"+name)
	}
	if email := request.GetString("email", ""); email != "" {
		queryParts = append(queryParts, "emailLIKE"+email)
	}

	q := listQuery(request.GetInt("limit", 20), request.GetInt("offset", 0))
	if len(queryParts) > 0 {
		q.Set("sysparm_query", strings.Join(queryParts, "^"))
	}
	return snowJSON(ctx, "GET", userTable, nil, q)
}

func (s *Server) handleCreateGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}
	body := map[string]any{
		"name":   name,
		"active": request.GetBool("active", true),
	}
	if description := request.GetString("description", ""); description != "" {
		body["description"] = description
	}
	return snowJSON(ctx, "POST", groupTable, body, nil)
}

func (s *Server) handleUpdateGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	for _, field := range []string{"name", "description"} {
		if v := request.GetString(field, ""); v != "" {
			body[field] = v
		}
	}
	if active, ok := request.GetArguments()["active"].(bool); ok {
		body["active"] = active
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide at least one updatable field",
		}), nil
	}
	return snowJSON(ctx, "PATCH", groupTable+"/"+sysID, body, nil)
}

func (s *Server) handleAddGroupMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupSysID, err := request.RequireString("group_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'group_sys_id' argument"), nil
	}
	userSysIDs := stringSlice(request.GetArguments()["user_sys_ids"])
	if len(userSysIDs) == 0 {
		return errorResponse("Missing or invalid 'user_sys_ids' argument"), nil
	}

	lease, acquireErr := servicenow.Acquire()
	if acquireErr != nil {
		return toolError(acquireErr), nil
	}
	defer lease.Release()
	client := lease.Client()

	added := make([]any, 0, len(userSysIDs))
	for _, userSysID := range userSysIDs {
		body := map[string]any{"group": groupSysID, "user": userSysID}
		result, reqErr := client.RequestJSON(ctx, "POST", groupMemberTable, body, nil)
		if reqErr != nil {
			return toolError(reqErr), nil
		}
		added = append(added, result)
	}
	return jsonResponse(map[string]any{"added": added}), nil
}

func (s *Server) handleRemoveGroupMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupSysID, err := request.RequireString("group_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'group_sys_id' argument"), nil
	}
	userSysIDs := stringSlice(request.GetArguments()["user_sys_ids"])
	if len(userSysIDs) == 0 {
		return errorResponse("Missing or invalid 'user_sys_ids' argument"), nil
	}

	lease, acquireErr := servicenow.Acquire()
	if acquireErr != nil {
		return toolError(acquireErr), nil
	}
	defer lease.Release()
	client := lease.Client()

	// Find the membership records, then delete each one.
	userFilters := make([]string, 0, len(userSysIDs))
	for _, userSysID := range userSysIDs {
		userFilters = append(userFilters, "user="+userSysID)
	}
	q := url.Values{}
	q.Set("sysparm_query", "group="+groupSysID+"^"+strings.Join(userFilters, "^OR"))
	q.Set("sysparm_fields", "sys_id")
	memberships, reqErr := client.RequestJSON(ctx, "GET", groupMemberTable, nil, q)
	if reqErr != nil {
		return toolError(reqErr), nil
	}

	removed := make([]any, 0)
	if records, ok := memberships["result"].([]any); ok {
		for _, record := range records {
			membership, ok := record.(map[string]any)
			if !ok {
				continue
			}
			membershipSysID, ok := membership["sys_id"].(string)
			if !ok || membershipSysID == "" {
				continue
			}
			result, reqErr := client.RequestJSON(ctx, "DELETE", groupMemberTable+"/"+membershipSysID, nil, nil)
			if reqErr != nil {
				return toolError(reqErr), nil
			}
			removed = append(removed, result)
		}
	}
	return jsonResponse(map[string]any{"removed": removed}), nil
}

func (s *Server) handleListGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := listQuery(request.GetInt("limit", 20), request.GetInt("offset", 0))
	if request.GetBool("active_only", false) {
		q.Set("sysparm_query", "active=true")
	}
	return snowJSON(ctx, "GET", groupTable, nil, q)
}

// randomPassword generates a throwaway credential for accounts created
// without an explicit password.
func randomPassword() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
